// Package models defines the domain types for Billy.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a watched folder and the invoices found in it.
type Category string

const (
	CategoryRevenue Category = "revenue"
	CategoryPayable Category = "payable"
)

// ParseCategory accepts the category names used in settings and API input.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryRevenue, CategoryPayable:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

// IngestionStatus tracks where a record is in the processing pipeline.
type IngestionStatus string

const (
	StatusPending   IngestionStatus = "pending"
	StatusProcessed IngestionStatus = "processed"
	StatusFailed    IngestionStatus = "failed"
	StatusMissing   IngestionStatus = "missing"
)

// Record defaults for fields the extractor may not provide.
const (
	DefaultTotalAmount   = "0.00"
	DefaultCurrency      = "EUR"
	DefaultPaymentStatus = "open"
	EmptyExtraction      = "{}"
)

// Invoice is one tracked source document and everything extracted from it.
// Amounts are fixed-point decimal strings.
type Invoice struct {
	ID              string          `json:"id"`
	Category        Category        `json:"category"`
	FilePath        *string         `json:"file_path,omitempty"`
	FileHash        string          `json:"file_hash"`
	FileModifiedAt  string          `json:"file_modified_at"`
	IngestionStatus IngestionStatus `json:"ingestion_status"`
	OCRText         *string         `json:"ocr_text,omitempty"`
	ExtractedJSON   string          `json:"extracted_json"`
	ConfidenceScore float64         `json:"confidence_score"`

	InvoiceNumber    *string `json:"invoice_number,omitempty"`
	InvoiceDate      *string `json:"invoice_date,omitempty"`
	DueDate          *string `json:"due_date,omitempty"`
	CounterpartyName *string `json:"counterparty_name,omitempty"`
	TotalAmount      string  `json:"total_amount"`
	Currency         string  `json:"currency"`
	TaxAmount        *string `json:"tax_amount,omitempty"`
	NetAmount        *string `json:"net_amount,omitempty"`
	Status           string  `json:"status"`
	PaidAt           *string `json:"paid_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Path returns the source path or "" when the record has none.
func (i *Invoice) Path() string {
	if i.FilePath == nil {
		return ""
	}
	return *i.FilePath
}

// NewInvoice returns a pending record for a first sighting of path.
func NewInvoice(id string, category Category, path string, now time.Time) *Invoice {
	p := path
	return &Invoice{
		ID:              id,
		Category:        category,
		FilePath:        &p,
		IngestionStatus: StatusPending,
		ExtractedJSON:   EmptyExtraction,
		TotalAmount:     DefaultTotalAmount,
		Currency:        DefaultCurrency,
		Status:          DefaultPaymentStatus,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Settings is the process-wide configuration snapshot owned by the
// ingestion coordinator. Values are replaced wholesale, never mutated.
type Settings struct {
	RevenueFolder string `json:"revenue_folder,omitempty"`
	PayableFolder string `json:"payable_folder,omitempty"`
	CredentialRef string `json:"-"`
	OCRLanguage   string `json:"ocr_language"`
}

// DefaultOCRLanguage is the tesseract language used when none is configured.
const DefaultOCRLanguage = "deu"

// Folders returns the configured (folder, category) pairs, skipping empty ones.
func (s Settings) Folders() []Folder {
	var out []Folder
	if s.RevenueFolder != "" {
		out = append(out, Folder{Path: s.RevenueFolder, Category: CategoryRevenue})
	}
	if s.PayableFolder != "" {
		out = append(out, Folder{Path: s.PayableFolder, Category: CategoryPayable})
	}
	return out
}

// Folder pairs a directory with the category of documents dropped into it.
type Folder struct {
	Path     string
	Category Category
}

// Override replaces one extracted field when a record is presented.
type Override struct {
	InvoiceID string    `json:"invoice_id"`
	FieldName string    `json:"field_name"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessingLog is one append-only entry of the processing history.
type ProcessingLog struct {
	ID        string    `json:"id"`
	InvoiceID string    `json:"invoice_id,omitempty"`
	FileHash  string    `json:"file_hash,omitempty"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Processing log kinds and statuses.
const (
	LogKindProcess = "process"
	LogSuccess     = "success"
	LogFailed      = "failed"
)

// FileMeta is returned by shallow folder listings.
type FileMeta struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
