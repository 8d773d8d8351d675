// Package processor runs the per-file ingestion pipeline: change
// detection, text extraction, structured extraction and persistence.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oliverjessner/Billy/internal/checksum"
	"github.com/oliverjessner/Billy/internal/llm"
	"github.com/oliverjessner/Billy/internal/models"
	"github.com/oliverjessner/Billy/internal/store"
)

// TextExtractor turns a document into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, path, lang string) (string, error)
}

// FieldExtractor turns plain text into structured invoice fields.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, credential, text string) (llm.Fields, []byte, error)
}

// CredentialResolver turns a stored credential reference into plaintext.
type CredentialResolver interface {
	Resolve(ref string) (string, error)
}

// Processor processes single invoice files. It is safe for concurrent use
// as long as its collaborators are.
type Processor struct {
	repo            store.Repository
	text            TextExtractor
	fields          FieldExtractor
	creds           CredentialResolver
	logger          *slog.Logger
	defaultCurrency string
	now             func() time.Time
	newID           func() string
}

// Option configures a Processor.
type Option func(*Processor)

// WithDefaultCurrency sets the currency used when extraction finds none.
func WithDefaultCurrency(c string) Option {
	return func(p *Processor) {
		if c != "" {
			p.defaultCurrency = c
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New returns a Processor wired to its collaborators.
func New(repo store.Repository, text TextExtractor, fields FieldExtractor, creds CredentialResolver, logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		repo:            repo,
		text:            text,
		fields:          fields,
		creds:           creds,
		logger:          logger,
		defaultCurrency: models.DefaultCurrency,
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessInvoice brings the record for path up to date with the file's
// content. An unchanged file (same fingerprint and modification time)
// returns the stored record without any extraction or write. Otherwise the
// record is persisted as pending before extraction starts, so a failure
// later in the run always leaves a record behind for MarkFailed.
func (p *Processor) ProcessInvoice(ctx context.Context, path string, category models.Category, settings models.Settings) (*models.Invoice, error) {
	hash, modifiedAt, err := checksum.Fingerprint(path)
	if err != nil {
		return nil, err
	}

	existing, err := p.repo.GetByPath(path)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.FileHash == hash && existing.FileModifiedAt == modifiedAt {
		p.logger.Debug("processor: unchanged, skipping", slog.String("path", path))
		return existing, nil
	}

	now := p.now()
	inv := existing
	if inv == nil {
		inv = models.NewInvoice(p.newID(), category, path, now)
		inv.Currency = p.defaultCurrency
	}
	if inv.Category == "" {
		inv.Category = category
	}
	src := path
	inv.FilePath = &src
	inv.IngestionStatus = models.StatusPending
	inv.FileHash = hash
	inv.FileModifiedAt = modifiedAt
	inv.UpdatedAt = now
	if err := p.repo.Upsert(inv); err != nil {
		return nil, err
	}

	lang := settings.OCRLanguage
	if lang == "" {
		lang = models.DefaultOCRLanguage
	}
	text, err := p.text.ExtractText(ctx, path, lang)
	if err != nil {
		return nil, err
	}

	credential, err := p.creds.Resolve(settings.CredentialRef)
	if err != nil {
		return nil, err
	}

	fields, raw, err := p.fields.ExtractFields(ctx, credential, text)
	if err != nil {
		return nil, err
	}

	p.merge(inv, fields)
	inv.OCRText = &text
	inv.ExtractedJSON = string(raw)
	if inv.ExtractedJSON == "" {
		inv.ExtractedJSON = models.EmptyExtraction
	}
	inv.IngestionStatus = models.StatusProcessed
	inv.UpdatedAt = p.now()
	if err := p.repo.Upsert(inv); err != nil {
		return nil, err
	}

	if err := p.repo.AppendLog(models.ProcessingLog{
		InvoiceID: inv.ID,
		FileHash:  inv.FileHash,
		Kind:      models.LogKindProcess,
		Status:    models.LogSuccess,
	}); err != nil {
		return nil, err
	}

	p.logger.Info("processor: processed",
		slog.String("id", inv.ID),
		slog.String("path", path),
		slog.String("confidence", fmt.Sprintf("%.2f", inv.ConfidenceScore)))
	return inv, nil
}

// MarkFailed records a failed processing run for inv.
func (p *Processor) MarkFailed(_ context.Context, inv *models.Invoice, message string) error {
	inv.IngestionStatus = models.StatusFailed
	inv.UpdatedAt = p.now()
	if err := p.repo.Upsert(inv); err != nil {
		return err
	}
	return p.repo.AppendLog(models.ProcessingLog{
		InvoiceID: inv.ID,
		FileHash:  inv.FileHash,
		Kind:      models.LogKindProcess,
		Status:    models.LogFailed,
		Message:   message,
	})
}

// merge copies the extracted fields onto inv. Every run replaces the
// previous extraction; fields the model left out become absent.
func (p *Processor) merge(inv *models.Invoice, f llm.Fields) {
	inv.InvoiceNumber = nonEmpty(f.InvoiceNumber)
	inv.InvoiceDate = NormalizeDate(f.InvoiceDate)
	inv.DueDate = NormalizeDate(f.DueDate)
	inv.CounterpartyName = nonEmpty(f.CounterpartyName)

	inv.TotalAmount = models.DefaultTotalAmount
	if f.TotalAmount != nil {
		inv.TotalAmount = FormatAmount(*f.TotalAmount)
	}
	inv.TaxAmount = formatOptional(f.TaxAmount)
	inv.NetAmount = formatOptional(f.NetAmount)

	inv.Currency = p.defaultCurrency
	if c := nonEmpty(f.Currency); c != nil {
		inv.Currency = *c
	}

	if f.ConfidenceScore != nil {
		inv.ConfidenceScore = clamp(*f.ConfidenceScore)
	} else {
		inv.ConfidenceScore = ComputeConfidence(f)
	}
}
