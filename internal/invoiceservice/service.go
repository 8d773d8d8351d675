// Package invoiceservice is the application service behind the HTTP API
// and the MCP tools.
package invoiceservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/oliverjessner/Billy/internal/apperr"
	"github.com/oliverjessner/Billy/internal/credential"
	"github.com/oliverjessner/Billy/internal/models"
	"github.com/oliverjessner/Billy/internal/store"
)

// Ingest is the subset of the ingestion coordinator the service drives.
type Ingest interface {
	Settings() (models.Settings, uint64)
	RestartWatchers(settings models.Settings) error
	EnqueueScan() error
	ProcessInvoicePath(ctx context.Context, path string, category models.Category, settings models.Settings) (*models.Invoice, error)
}

// KeyTester checks an API key against the extraction provider.
type KeyTester interface {
	TestKey(ctx context.Context, credential string) error
}

// OverridableFields lists the fields that accept user overrides.
var OverridableFields = []string{
	"invoice_number", "invoice_date", "due_date", "counterparty_name",
	"total_amount", "currency", "tax_amount", "net_amount", "status", "paid_at",
}

// InvoiceDetail is an invoice with overrides applied plus its history.
type InvoiceDetail struct {
	models.Invoice
	Overrides []models.Override      `json:"overrides"`
	Logs      []models.ProcessingLog `json:"logs"`
}

// SettingsView is the externally visible settings. The credential itself
// is never returned.
type SettingsView struct {
	RevenueFolder string `json:"revenue_folder"`
	PayableFolder string `json:"payable_folder"`
	OCRLanguage   string `json:"ocr_language"`
	HasAPIKey     bool   `json:"has_api_key"`
	Version       uint64 `json:"version"`
}

// SettingsUpdate changes settings. Nil fields keep their current value.
// A plaintext APIKey is encrypted before it is stored; an empty one is
// ignored.
type SettingsUpdate struct {
	RevenueFolder *string `json:"revenue_folder"`
	PayableFolder *string `json:"payable_folder"`
	OCRLanguage   *string `json:"ocr_language"`
	APIKey        *string `json:"openai_api_key"`
}

var langPattern = regexp.MustCompile(`^[a-z_]{3,}(\+[a-z_]{3,})*$`)

// Validate checks the update for malformed values.
func (u SettingsUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.OCRLanguage, validation.NilOrNotEmpty, validation.Match(langPattern)),
	)
}

// Service coordinates the store and the ingestion coordinator.
type Service struct {
	db     *store.DB
	ingest Ingest
	creds  *credential.Resolver
	keys   KeyTester
}

// New creates a new invoice service.
func New(db *store.DB, ingest Ingest, creds *credential.Resolver, keys KeyTester) *Service {
	return &Service{db: db, ingest: ingest, creds: creds, keys: keys}
}

// ListInvoices returns a page of invoices with overrides applied.
func (s *Service) ListInvoices(_ context.Context, category models.Category, limit, offset int) ([]models.Invoice, int, error) {
	items, total, err := s.db.ListInvoices(category, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		ov, err := s.db.Overrides(items[i].ID)
		if err != nil {
			return nil, 0, err
		}
		ApplyOverrides(&items[i], ov)
	}
	return items, total, nil
}

// GetInvoice returns one invoice with overrides applied and its recent
// processing log.
func (s *Service) GetInvoice(_ context.Context, id string) (*InvoiceDetail, error) {
	inv, err := s.db.GetByID(id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, apperr.ErrNotFound
	}
	ov, err := s.db.Overrides(id)
	if err != nil {
		return nil, err
	}
	logs, err := s.db.Logs(id, 50)
	if err != nil {
		return nil, err
	}
	ApplyOverrides(inv, ov)
	return &InvoiceDetail{Invoice: *inv, Overrides: ov, Logs: nonNilSlice(logs)}, nil
}

// SetOverride replaces one field of an invoice for presentation.
func (s *Service) SetOverride(_ context.Context, id, field, value string) error {
	if !isOverridable(field) {
		return fmt.Errorf("%w: %q cannot be overridden", apperr.ErrInvalidField, field)
	}
	return s.db.SetOverride(id, field, value)
}

// ClearOverride removes the override of one field.
func (s *Service) ClearOverride(_ context.Context, id, field string) error {
	if !isOverridable(field) {
		return fmt.Errorf("%w: %q cannot be overridden", apperr.ErrInvalidField, field)
	}
	return s.db.ClearOverride(id, field)
}

// ClearOverrides removes every override of an invoice.
func (s *Service) ClearOverrides(_ context.Context, id string) error {
	return s.db.ClearOverrides(id)
}

// Reprocess runs the pipeline again for the source file of an invoice,
// using the current settings.
func (s *Service) Reprocess(ctx context.Context, id string) (*models.Invoice, error) {
	inv, err := s.db.GetByID(id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, apperr.ErrNotFound
	}
	if inv.Path() == "" {
		return nil, apperr.ErrMissingPath
	}
	settings, _ := s.ingest.Settings()
	return s.ingest.ProcessInvoicePath(ctx, inv.Path(), inv.Category, settings)
}

// Scan reprocesses every PDF in the configured folders in the background.
func (s *Service) Scan(_ context.Context) error {
	return s.ingest.EnqueueScan()
}

// Search finds invoices by counterparty, number or extracted text.
func (s *Service) Search(_ context.Context, query string, limit int) ([]store.SearchResult, error) {
	res, err := s.db.Search(query, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(res), nil
}

// Settings returns the active settings.
func (s *Service) Settings(_ context.Context) SettingsView {
	cur, version := s.ingest.Settings()
	return SettingsView{
		RevenueFolder: cur.RevenueFolder,
		PayableFolder: cur.PayableFolder,
		OCRLanguage:   cur.OCRLanguage,
		HasAPIKey:     cur.CredentialRef != "",
		Version:       version,
	}
}

// SaveSettings applies u to the active settings, persists the result and
// restarts the watchers with it.
func (s *Service) SaveSettings(ctx context.Context, u SettingsUpdate) (SettingsView, error) {
	if err := u.Validate(); err != nil {
		return SettingsView{}, fmt.Errorf("%w: %w", apperr.ErrInvalidField, err)
	}

	next, _ := s.ingest.Settings()
	if u.RevenueFolder != nil {
		next.RevenueFolder = strings.TrimSpace(*u.RevenueFolder)
	}
	if u.PayableFolder != nil {
		next.PayableFolder = strings.TrimSpace(*u.PayableFolder)
	}
	if u.OCRLanguage != nil {
		next.OCRLanguage = *u.OCRLanguage
	}
	if u.APIKey != nil {
		key := strings.TrimSpace(*u.APIKey)
		switch {
		case key == "":
		case credential.IsReference(key):
			next.CredentialRef = key
		default:
			ref, err := s.creds.Encrypt(key)
			if err != nil {
				return SettingsView{}, err
			}
			next.CredentialRef = ref
		}
	}

	if err := s.db.SaveSettings(next); err != nil {
		return SettingsView{}, err
	}
	if err := s.ingest.RestartWatchers(next); err != nil {
		return SettingsView{}, err
	}
	return s.Settings(ctx), nil
}

// TestKey checks key against the provider. An empty key tests the stored
// credential. It reports false, without error, when the key is rejected.
func (s *Service) TestKey(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" || credential.IsReference(key) {
		ref := key
		if ref == "" {
			cur, _ := s.ingest.Settings()
			ref = cur.CredentialRef
		}
		resolved, err := s.creds.Resolve(ref)
		if err != nil {
			return false, err
		}
		key = resolved
	}
	err := s.keys.TestKey(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperr.ErrCredential):
		return false, nil
	default:
		return false, err
	}
}

// ApplyOverrides replaces fields of inv with the override values.
// Unknown field names are ignored.
func ApplyOverrides(inv *models.Invoice, overrides []models.Override) {
	for _, o := range overrides {
		v := o.Value
		switch o.FieldName {
		case "invoice_number":
			inv.InvoiceNumber = &v
		case "invoice_date":
			inv.InvoiceDate = &v
		case "due_date":
			inv.DueDate = &v
		case "counterparty_name":
			inv.CounterpartyName = &v
		case "total_amount":
			inv.TotalAmount = v
		case "currency":
			inv.Currency = v
		case "tax_amount":
			inv.TaxAmount = &v
		case "net_amount":
			inv.NetAmount = &v
		case "status":
			inv.Status = v
		case "paid_at":
			inv.PaidAt = &v
		}
	}
}

func isOverridable(field string) bool {
	for _, f := range OverridableFields {
		if f == field {
			return true
		}
	}
	return false
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
