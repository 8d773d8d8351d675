//go:build !sqlite_fts5

package store

import (
	"database/sql"
	"fmt"

	"github.com/oliverjessner/Billy/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE on the invoices table.
	return nil
}

func ftsUpsert(_ *sql.Tx, _ *models.Invoice) error {
	return nil
}

// Search performs a LIKE-based search over counterparty, invoice number
// and extracted text (fallback when FTS5 is not compiled in).
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT id, coalesce(file_path, ''), coalesce(counterparty_name, ''), substr(coalesce(ocr_text, ''), 1, 200)
		FROM invoices
		WHERE counterparty_name LIKE ? OR invoice_number LIKE ? OR ocr_text LIKE ?
		ORDER BY updated_at DESC
		LIMIT ?
	`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Path, &r.Counterparty, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
