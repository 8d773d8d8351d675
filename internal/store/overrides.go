package store

import (
	"fmt"
	"time"

	"github.com/oliverjessner/Billy/internal/apperr"
	"github.com/oliverjessner/Billy/internal/models"
)

// SetOverride stores a presentation-level replacement for one field of an
// invoice. It returns apperr.ErrNotFound when the invoice does not exist.
func (db *DB) SetOverride(invoiceID, field, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", apperr.ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var n int
	if err := tx.QueryRow(`SELECT count(*) FROM invoices WHERE id = ?`, invoiceID).Scan(&n); err != nil {
		return fmt.Errorf("%w: check invoice: %w", apperr.ErrStore, err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}

	_, err = tx.Exec(`
		INSERT INTO invoice_overrides (invoice_id, field_name, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(invoice_id, field_name) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, invoiceID, field, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("%w: set override: %w", apperr.ErrStore, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", apperr.ErrStore, err)
	}
	return nil
}

// ClearOverride removes the override of one field.
func (db *DB) ClearOverride(invoiceID, field string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`DELETE FROM invoice_overrides WHERE invoice_id = ? AND field_name = ?`,
		invoiceID, field); err != nil {
		return fmt.Errorf("%w: clear override: %w", apperr.ErrStore, err)
	}
	return nil
}

// ClearOverrides removes every override of an invoice.
func (db *DB) ClearOverrides(invoiceID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`DELETE FROM invoice_overrides WHERE invoice_id = ?`, invoiceID); err != nil {
		return fmt.Errorf("%w: clear overrides: %w", apperr.ErrStore, err)
	}
	return nil
}

// Overrides returns the overrides of an invoice ordered by field name.
func (db *DB) Overrides(invoiceID string) ([]models.Override, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(`
		SELECT invoice_id, field_name, value, updated_at
		FROM invoice_overrides
		WHERE invoice_id = ?
		ORDER BY field_name
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: overrides: %w", apperr.ErrStore, err)
	}
	defer rows.Close()

	out := []models.Override{}
	for rows.Next() {
		var (
			o       models.Override
			updated string
		)
		if err := rows.Scan(&o.InvoiceID, &o.FieldName, &o.Value, &updated); err != nil {
			return nil, err
		}
		o.UpdatedAt = parseTime(updated)
		out = append(out, o)
	}
	return out, rows.Err()
}
