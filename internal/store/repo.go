package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oliverjessner/Billy/internal/apperr"
	"github.com/oliverjessner/Billy/internal/models"
)

const invoiceColumns = `id, category, file_path, file_hash, file_modified_at, ingestion_status,
	ocr_text, extracted_json, confidence_score, invoice_number, invoice_date, due_date,
	counterparty_name, total_amount, currency, tax_amount, net_amount, status, paid_at,
	created_at, updated_at`

// SearchResult represents one search hit.
type SearchResult struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	Counterparty string `json:"counterparty"`
	Snippet      string `json:"snippet"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(s rowScanner) (*models.Invoice, error) {
	var (
		inv                                    models.Invoice
		category, status, createdAt, updatedAt string
		path, ocr, number, date, due, cp       sql.NullString
		tax, net, paidAt                       sql.NullString
	)
	if err := s.Scan(&inv.ID, &category, &path, &inv.FileHash, &inv.FileModifiedAt, &status,
		&ocr, &inv.ExtractedJSON, &inv.ConfidenceScore, &number, &date, &due,
		&cp, &inv.TotalAmount, &inv.Currency, &tax, &net, &inv.Status, &paidAt,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	inv.Category = models.Category(category)
	inv.IngestionStatus = models.IngestionStatus(status)
	inv.FilePath = fromNull(path)
	inv.OCRText = fromNull(ocr)
	inv.InvoiceNumber = fromNull(number)
	inv.InvoiceDate = fromNull(date)
	inv.DueDate = fromNull(due)
	inv.CounterpartyName = fromNull(cp)
	inv.TaxAmount = fromNull(tax)
	inv.NetAmount = fromNull(net)
	inv.PaidAt = fromNull(paidAt)
	inv.CreatedAt = parseTime(createdAt)
	inv.UpdatedAt = parseTime(updatedAt)
	return &inv, nil
}

// GetByPath returns the invoice tracked at path, or nil if there is none.
func (db *DB) GetByPath(path string) (*models.Invoice, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	inv, err := scanInvoice(db.conn.QueryRow(`SELECT `+invoiceColumns+` FROM invoices WHERE file_path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get by path: %w", apperr.ErrStore, err)
	}
	return inv, nil
}

// GetByID returns the invoice with the given id, or nil if there is none.
func (db *DB) GetByID(id string) (*models.Invoice, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	inv, err := scanInvoice(db.conn.QueryRow(`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get by id: %w", apperr.ErrStore, err)
	}
	return inv, nil
}

// Upsert inserts or updates inv within a transaction. created_at is only
// written on insert. When another record already owns inv's path, inv
// adopts that record's id so a path is never tracked twice.
func (db *DB) Upsert(inv *models.Invoice) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", apperr.ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if inv.FilePath != nil {
		var owner string
		err := tx.QueryRow(`SELECT id FROM invoices WHERE file_path = ?`, *inv.FilePath).Scan(&owner)
		switch {
		case err == nil && owner != inv.ID:
			inv.ID = owner
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("%w: lookup path owner: %w", apperr.ErrStore, err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category          = excluded.category,
			file_path         = excluded.file_path,
			file_hash         = excluded.file_hash,
			file_modified_at  = excluded.file_modified_at,
			ingestion_status  = excluded.ingestion_status,
			ocr_text          = excluded.ocr_text,
			extracted_json    = excluded.extracted_json,
			confidence_score  = excluded.confidence_score,
			invoice_number    = excluded.invoice_number,
			invoice_date      = excluded.invoice_date,
			due_date          = excluded.due_date,
			counterparty_name = excluded.counterparty_name,
			total_amount      = excluded.total_amount,
			currency          = excluded.currency,
			tax_amount        = excluded.tax_amount,
			net_amount        = excluded.net_amount,
			status            = excluded.status,
			paid_at           = excluded.paid_at,
			updated_at        = excluded.updated_at
	`, inv.ID, string(inv.Category), toNull(inv.FilePath), inv.FileHash, inv.FileModifiedAt,
		string(inv.IngestionStatus), toNull(inv.OCRText), inv.ExtractedJSON, inv.ConfidenceScore,
		toNull(inv.InvoiceNumber), toNull(inv.InvoiceDate), toNull(inv.DueDate),
		toNull(inv.CounterpartyName), inv.TotalAmount, inv.Currency, toNull(inv.TaxAmount),
		toNull(inv.NetAmount), inv.Status, toNull(inv.PaidAt),
		formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("%w: upsert invoice: %w", apperr.ErrStore, err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, inv); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrStore, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", apperr.ErrStore, err)
	}
	return nil
}

// MarkMissing flags the invoice at path as missing. It is not an error
// when no invoice tracks path.
func (db *DB) MarkMissing(path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`UPDATE invoices SET ingestion_status = ?, updated_at = ? WHERE file_path = ?`,
		string(models.StatusMissing), formatTime(time.Now()), path)
	if err != nil {
		return fmt.Errorf("%w: mark missing: %w", apperr.ErrStore, err)
	}
	return nil
}

// AppendLog writes one processing log entry. ID and CreatedAt are filled
// in when empty.
func (db *DB) AppendLog(entry models.ProcessingLog) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO processing_logs (id, invoice_id, file_hash, kind, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, emptyToNull(entry.InvoiceID), emptyToNull(entry.FileHash), entry.Kind, entry.Status,
		emptyToNull(entry.Message), formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("%w: append log: %w", apperr.ErrStore, err)
	}
	return nil
}

// Logs returns the newest processing log entries for an invoice.
func (db *DB) Logs(invoiceID string, limit int) ([]models.ProcessingLog, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`
		SELECT id, invoice_id, file_hash, kind, status, message, created_at
		FROM processing_logs
		WHERE invoice_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, invoiceID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: logs: %w", apperr.ErrStore, err)
	}
	defer rows.Close()

	var out []models.ProcessingLog
	for rows.Next() {
		var (
			l                  models.ProcessingLog
			inv, hash, message sql.NullString
			created            string
		)
		if err := rows.Scan(&l.ID, &inv, &hash, &l.Kind, &l.Status, &message, &created); err != nil {
			return nil, err
		}
		l.InvoiceID = inv.String
		l.FileHash = hash.String
		l.Message = message.String
		l.CreatedAt = parseTime(created)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListInvoices returns invoices ordered by most recent update, optionally
// restricted to one category, together with the total count.
func (db *DB) ListInvoices(category models.Category, limit, offset int) ([]models.Invoice, int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	where := ""
	args := []any{}
	if category != "" {
		where = "WHERE category = ?"
		args = append(args, string(category))
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM invoices `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count invoices: %w", apperr.ErrStore, err)
	}

	rows, err := db.conn.Query(`SELECT `+invoiceColumns+` FROM invoices `+where+
		` ORDER BY updated_at DESC LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list invoices: %w", apperr.ErrStore, err)
	}
	defer rows.Close()

	out := []models.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *inv)
	}
	return out, total, rows.Err()
}

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func emptyToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
