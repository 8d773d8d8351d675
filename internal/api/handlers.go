package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oliverjessner/Billy/internal/apperr"
	"github.com/oliverjessner/Billy/internal/invoiceservice"
	"github.com/oliverjessner/Billy/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *invoiceservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *invoiceservice.Service) *Handler {
	return &Handler{svc: svc}
}

// writeError maps domain errors to HTTP statuses and hides anything
// unexpected behind a generic message.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeErrorJSON(w, http.StatusNotFound, "not found")
	case errors.Is(err, apperr.ErrInvalidField):
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrMissingPath):
		writeErrorJSON(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrIO), errors.Is(err, apperr.ErrExtraction), errors.Is(err, apperr.ErrCredential):
		writeErrorJSON(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeErrorJSON(w, http.StatusInternalServerError, "internal error")
	}
}

// ListInvoices handles GET /api/invoices.
//
//	@Summary		List invoices with optional pagination and category filter
//	@Tags			invoices
//	@Produce		json
//	@Param			category	query		string	false	"Category"	Enums(revenue, payable)
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	InvoiceListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/invoices [get]
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	var category models.Category
	if c := q.Get("category"); c != "" {
		parsed, err := models.ParseCategory(c)
		if err != nil {
			writeErrorJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		category = parsed
	}

	items, total, err := h.svc.ListInvoices(r.Context(), category, limit, offset)
	if err != nil {
		writeError(w, "list invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, InvoiceListResponse{Invoices: items, Total: total})
}

// GetInvoice handles GET /api/invoices/{id}.
//
//	@Summary		Get one invoice with overrides applied and its processing log
//	@Tags			invoices
//	@Produce		json
//	@Param			id	path		string	true	"Invoice ID"
//	@Success		200	{object}	InvoiceDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/invoices/{id} [get]
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Reprocess handles POST /api/invoices/{id}/reprocess.
//
//	@Summary		Run extraction again for the invoice's source file
//	@Tags			invoices
//	@Produce		json
//	@Param			id	path		string	true	"Invoice ID"
//	@Success		200	{object}	Invoice
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/invoices/{id}/reprocess [post]
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.Reprocess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "reprocess", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// SetOverride handles PUT /api/invoices/{id}/overrides/{field}.
//
//	@Summary		Override one extracted field
//	@Tags			overrides
//	@Accept			json
//	@Param			id		path	string			true	"Invoice ID"
//	@Param			field	path	string			true	"Field name"
//	@Param			body	body	OverrideRequest	true	"New value"
//	@Success		204		"Override stored"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/invoices/{id}/overrides/{field} [put]
func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.svc.SetOverride(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "field"), req.Value); err != nil {
		writeError(w, "set override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearOverride handles DELETE /api/invoices/{id}/overrides/{field}.
//
//	@Summary		Remove the override of one field
//	@Tags			overrides
//	@Param			id		path	string	true	"Invoice ID"
//	@Param			field	path	string	true	"Field name"
//	@Success		204		"Override removed"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/invoices/{id}/overrides/{field} [delete]
func (h *Handler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearOverride(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "field")); err != nil {
		writeError(w, "clear override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearOverrides handles DELETE /api/invoices/{id}/overrides.
//
//	@Summary		Remove every override of an invoice
//	@Tags			overrides
//	@Param			id	path	string	true	"Invoice ID"
//	@Success		204	"Overrides removed"
//	@Security		BearerAuth
//	@Router			/invoices/{id}/overrides [delete]
func (h *Handler) ClearOverrides(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearOverrides(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "clear overrides", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Search invoices by counterparty, number or text
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeErrorJSON(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Get the active settings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Settings(r.Context()))
}

// SaveSettings handles PUT /api/settings.
//
//	@Summary		Save settings and restart the folder watchers
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SettingsRequest	true	"Fields to change"
//	@Success		200		{object}	SettingsResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	view, err := h.svc.SaveSettings(r.Context(), req)
	if err != nil {
		writeError(w, "save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// TestKey handles POST /api/settings/test-key.
//
//	@Summary		Check an API key against the extraction provider
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TestKeyRequest	true	"Key to check"
//	@Success		200		{object}	TestKeyResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings/test-key [post]
func (h *Handler) TestKey(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req TestKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ok, err := h.svc.TestKey(r.Context(), req.APIKey)
	if err != nil {
		writeError(w, "test key", err)
		return
	}
	writeJSON(w, http.StatusOK, TestKeyResponse{Valid: ok})
}

// Scan handles POST /api/scan.
//
//	@Summary		Reprocess every PDF in the configured folders
//	@Tags			settings
//	@Produce		json
//	@Success		202	{object}	AcceptedResponse
//	@Security		BearerAuth
//	@Router			/scan [post]
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Scan(r.Context()); err != nil {
		writeError(w, "scan", err)
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}
