package api

import (
	"github.com/oliverjessner/Billy/internal/invoiceservice"
	"github.com/oliverjessner/Billy/internal/models"
	"github.com/oliverjessner/Billy/internal/store"
)

// Invoice is the invoice response type (aliased from the domain layer).
type Invoice = models.Invoice

// InvoiceDetail is the full invoice response (aliased from the domain layer).
type InvoiceDetail = invoiceservice.InvoiceDetail

// InvoiceListResponse wraps paginated invoice listings.
type InvoiceListResponse struct {
	Invoices []Invoice `json:"invoices" validate:"required"`
	Total    int       `json:"total" example:"42" validate:"required"`
}

// OverrideRequest is the request body for overriding a field.
type OverrideRequest struct {
	Value string `json:"value" example:"ACME GmbH" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []store.SearchResult `json:"results" validate:"required"`
}

// SettingsResponse is the settings view (aliased from the domain layer).
type SettingsResponse = invoiceservice.SettingsView

// SettingsRequest is the request body for saving settings.
type SettingsRequest = invoiceservice.SettingsUpdate

// TestKeyRequest is the request body for checking an API key. An empty
// key checks the stored credential.
type TestKeyRequest struct {
	APIKey string `json:"api_key" example:"sk-..."`
}

// TestKeyResponse reports whether the key was accepted.
type TestKeyResponse struct {
	Valid bool `json:"valid" example:"true"`
}

// AcceptedResponse is returned for work started in the background.
type AcceptedResponse struct {
	Status string `json:"status" example:"accepted"`
}
