package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oliverjessner/Billy/internal/apperr"
	"github.com/oliverjessner/Billy/internal/llm"
	"github.com/oliverjessner/Billy/internal/models"
	"github.com/oliverjessner/Billy/internal/store"
	"github.com/oliverjessner/Billy/internal/testutil"
)

type fakeText struct {
	calls atomic.Int32
	text  string
	err   error
}

func (f *fakeText) ExtractText(_ context.Context, _, _ string) (string, error) {
	f.calls.Add(1)
	return f.text, f.err
}

type fakeFields struct {
	calls  atomic.Int32
	fields llm.Fields
	err    error
}

func (f *fakeFields) ExtractFields(_ context.Context, _, _ string) (llm.Fields, []byte, error) {
	f.calls.Add(1)
	return f.fields, []byte(`{"extraction_notes":"ok"}`), f.err
}

type fakeCreds struct{ err error }

func (f fakeCreds) Resolve(string) (string, error) { return "sk-test", f.err }

func strPtr(s string) *string   { return &s }
func numPtr(v float64) *float64 { return &v }
func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
func settings() models.Settings { return models.Settings{CredentialRef: "env:X", OCRLanguage: "deu"} }
func approx(a, b float64) bool  { return math.Abs(a-b) < 1e-9 }

func newProcessor(t *testing.T, text *fakeText, fields *fakeFields, creds fakeCreds) (*Processor, *store.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	return New(db, text, fields, creds, quietLogger()), db
}

func TestProcessInvoiceNewFile(t *testing.T) {
	text := &fakeText{text: "Rechnung"}
	fields := &fakeFields{fields: llm.Fields{
		InvoiceNumber:    strPtr("RE-7"),
		InvoiceDate:      strPtr("15.03.2024"),
		CounterpartyName: strPtr("ACME GmbH"),
		TotalAmount:      numPtr(119),
		TaxAmount:        numPtr(19),
		ExtractionNotes:  "ok",
	}}
	p, db := newProcessor(t, text, fields, fakeCreds{})
	path := testutil.WritePDF(t, t.TempDir(), "a.pdf", "%PDF-1.4 a")

	inv, err := p.ProcessInvoice(context.Background(), path, models.CategoryPayable, settings())
	if err != nil {
		t.Fatalf("ProcessInvoice: %v", err)
	}
	if inv.IngestionStatus != models.StatusProcessed {
		t.Errorf("status = %s", inv.IngestionStatus)
	}
	if *inv.InvoiceDate != "2024-03-15" {
		t.Errorf("date = %s", *inv.InvoiceDate)
	}
	if inv.TotalAmount != "119.00" || *inv.TaxAmount != "19.00" || inv.NetAmount != nil {
		t.Errorf("amounts = %s %v %v", inv.TotalAmount, inv.TaxAmount, inv.NetAmount)
	}
	if inv.Currency != "EUR" {
		t.Errorf("currency = %s", inv.Currency)
	}
	if !approx(inv.ConfidenceScore, 0.85) {
		t.Errorf("confidence = %v", inv.ConfidenceScore)
	}
	if inv.OCRText == nil || *inv.OCRText != "Rechnung" {
		t.Errorf("ocr text = %v", inv.OCRText)
	}

	stored, err := db.GetByPath(path)
	if err != nil || stored == nil {
		t.Fatalf("GetByPath: %v %v", stored, err)
	}
	if stored.ID != inv.ID || stored.Category != models.CategoryPayable {
		t.Errorf("stored = %+v", stored)
	}
	logs, err := db.Logs(inv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Status != models.LogSuccess {
		t.Errorf("logs = %+v", logs)
	}
}

func TestProcessInvoiceIdempotent(t *testing.T) {
	text := &fakeText{text: "x"}
	fields := &fakeFields{fields: llm.Fields{ExtractionNotes: "ok"}}
	p, _ := newProcessor(t, text, fields, fakeCreds{})
	path := testutil.WritePDF(t, t.TempDir(), "a.pdf", "same bytes")

	first, err := p.ProcessInvoice(context.Background(), path, models.CategoryRevenue, settings())
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.ProcessInvoice(context.Background(), path, models.CategoryRevenue, settings())
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("id changed: %s -> %s", first.ID, second.ID)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("unchanged file should not be rewritten")
	}
	if n := fields.calls.Load(); n != 1 {
		t.Errorf("field extraction calls = %d, want 1", n)
	}
	if n := text.calls.Load(); n != 1 {
		t.Errorf("text extraction calls = %d, want 1", n)
	}
}

func TestProcessInvoiceChangedContent(t *testing.T) {
	text := &fakeText{text: "x"}
	fields := &fakeFields{fields: llm.Fields{ExtractionNotes: "ok"}}
	p, _ := newProcessor(t, text, fields, fakeCreds{})
	dir := t.TempDir()
	path := testutil.WritePDF(t, dir, "a.pdf", "version one")

	first, err := p.ProcessInvoice(context.Background(), path, models.CategoryRevenue, settings())
	if err != nil {
		t.Fatal(err)
	}

	testutil.WritePDF(t, dir, "a.pdf", "version two, longer")
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	second, err := p.ProcessInvoice(context.Background(), path, models.CategoryRevenue, settings())
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("identity must be kept across reprocessing")
	}
	if second.FileHash == first.FileHash {
		t.Errorf("hash not updated")
	}
	if n := fields.calls.Load(); n != 2 {
		t.Errorf("field extraction calls = %d, want 2", n)
	}
}

func TestProcessInvoiceCredentialFailureLeavesPending(t *testing.T) {
	fields := &fakeFields{}
	credErr := errors.New("boom")
	p, db := newProcessor(t, &fakeText{text: "x"}, fields, fakeCreds{err: errors.Join(apperr.ErrCredential, credErr)})
	path := testutil.WritePDF(t, t.TempDir(), "a.pdf", "bytes")

	_, err := p.ProcessInvoice(context.Background(), path, models.CategoryPayable, settings())
	if !errors.Is(err, apperr.ErrCredential) {
		t.Fatalf("err = %v, want ErrCredential", err)
	}
	if fields.calls.Load() != 0 {
		t.Errorf("field extraction must not run without a credential")
	}
	inv, err := db.GetByPath(path)
	if err != nil || inv == nil {
		t.Fatalf("record should exist after a failed run: %v", err)
	}
	if inv.IngestionStatus != models.StatusPending {
		t.Errorf("status = %s, want pending", inv.IngestionStatus)
	}
}

func TestProcessInvoiceMissingFile(t *testing.T) {
	p, db := newProcessor(t, &fakeText{}, &fakeFields{}, fakeCreds{})
	path := t.TempDir() + "/gone.pdf"

	_, err := p.ProcessInvoice(context.Background(), path, models.CategoryPayable, settings())
	if !errors.Is(err, apperr.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
	if inv, _ := db.GetByPath(path); inv != nil {
		t.Errorf("no record should be written for an unreadable file")
	}
}

func TestMarkFailed(t *testing.T) {
	text := &fakeText{err: apperr.ErrExtraction}
	p, db := newProcessor(t, text, &fakeFields{}, fakeCreds{})
	path := testutil.WritePDF(t, t.TempDir(), "a.pdf", "bytes")

	if _, err := p.ProcessInvoice(context.Background(), path, models.CategoryPayable, settings()); err == nil {
		t.Fatal("expected extraction failure")
	}
	inv, _ := db.GetByPath(path)
	if err := p.MarkFailed(context.Background(), inv, "extraction error"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, _ := db.GetByPath(path)
	if got.IngestionStatus != models.StatusFailed {
		t.Errorf("status = %s", got.IngestionStatus)
	}
	logs, _ := db.Logs(inv.ID, 10)
	if len(logs) != 1 || logs[0].Status != models.LogFailed || logs[0].Message != "extraction error" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestUnchangedMissingRecordIsReturnedAsIs(t *testing.T) {
	fields := &fakeFields{fields: llm.Fields{ExtractionNotes: "ok"}}
	p, db := newProcessor(t, &fakeText{text: "x"}, fields, fakeCreds{})
	path := testutil.WritePDF(t, t.TempDir(), "a.pdf", "bytes")

	first, err := p.ProcessInvoice(context.Background(), path, models.CategoryPayable, settings())
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMissing(path); err != nil {
		t.Fatal(err)
	}
	got, err := p.ProcessInvoice(context.Background(), path, models.CategoryPayable, settings())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != first.ID || got.IngestionStatus != models.StatusMissing {
		t.Errorf("got %s/%s, want the stored missing record", got.ID, got.IngestionStatus)
	}
	if fields.calls.Load() != 1 {
		t.Errorf("unchanged file must not be extracted again")
	}
}
