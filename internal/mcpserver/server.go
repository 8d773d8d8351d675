// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Billy's invoice tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/oliverjessner/Billy/internal/invoiceservice"
	"github.com/oliverjessner/Billy/internal/models"
)

// Server wraps the MCP server with Billy tools.
type Server struct {
	mcp *server.MCPServer
	svc *invoiceservice.Service
}

// New creates a new MCP server with all Billy tools registered.
func New(svc *invoiceservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Billy",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_invoices",
		mcp.WithDescription("List tracked invoices, newest first, with user overrides applied."),
		mcp.WithString("category", mcp.Description("Optional category filter: revenue or payable")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of invoices (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Number of invoices to skip")),
	), s.listInvoices)

	s.mcp.AddTool(mcp.NewTool("get_invoice",
		mcp.WithDescription("Get one invoice with overrides applied and its processing history."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Invoice ID")),
	), s.getInvoice)

	s.mcp.AddTool(mcp.NewTool("search_invoices",
		mcp.WithDescription("Search invoices by counterparty, invoice number or extracted text."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchInvoices)

	s.mcp.AddTool(mcp.NewTool("reprocess_invoice",
		mcp.WithDescription("Run text and field extraction again for the invoice's source PDF."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Invoice ID")),
	), s.reprocessInvoice)

	s.mcp.AddTool(mcp.NewTool("scan_folders",
		mcp.WithDescription("Queue every PDF in the configured folders for processing. "+
			"Unchanged files are skipped."),
	), s.scanFolders)

	s.mcp.AddTool(mcp.NewTool("get_extraction_schema",
		mcp.WithDescription("Returns the JSON schema that structured invoice extraction results follow."),
	), s.getExtractionSchema)

	// Resource: extraction schema.
	s.mcp.AddResource(
		mcp.NewResource(ExtractionSchemaURI, "Invoice Extraction Schema",
			mcp.WithResourceDescription("JSON schema of the fields extracted from each invoice."),
			mcp.WithMIMEType("application/json"),
		),
		s.readExtractionSchemaResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listInvoices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var category models.Category
	if c := req.GetString("category", ""); c != "" {
		parsed, err := models.ParseCategory(c)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		category = parsed
	}
	items, total, err := s.svc.ListInvoices(ctx, category, req.GetInt("limit", 50), req.GetInt("offset", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"invoices": items, "total": total}), nil
}

func (s *Server) getInvoice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.GetInvoice(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invoice %s: %v", id, err)), nil
	}
	return jsonResult(detail), nil
}

func (s *Server) searchInvoices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) reprocessInvoice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	inv, err := s.svc.Reprocess(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reprocess %s: %v", id, err)), nil
	}
	return jsonResult(inv), nil
}

func (s *Server) scanFolders(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.svc.Scan(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("scan queued"), nil
}

func (s *Server) getExtractionSchema(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ExtractionContract()), nil
}

func (s *Server) readExtractionSchemaResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ExtractionSchemaURI,
			MIMEType: "application/json",
			Text:     ExtractionContract(),
		},
	}, nil
}
