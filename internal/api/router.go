package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oliverjessner/Billy/internal/invoiceservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *invoiceservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Invoices.
	r.Get("/invoices", h.ListInvoices)
	r.Get("/invoices/{id}", h.GetInvoice)
	r.Post("/invoices/{id}/reprocess", h.Reprocess)

	// Overrides.
	r.Put("/invoices/{id}/overrides/{field}", h.SetOverride)
	r.Delete("/invoices/{id}/overrides/{field}", h.ClearOverride)
	r.Delete("/invoices/{id}/overrides", h.ClearOverrides)

	// Search.
	r.Get("/search", h.Search)

	// Settings and full rescan.
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.SaveSettings)
	r.Post("/settings/test-key", h.TestKey)
	r.Post("/scan", h.Scan)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
