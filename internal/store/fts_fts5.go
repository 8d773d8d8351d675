//go:build sqlite_fts5

package store

import (
	"database/sql"
	"fmt"

	"github.com/oliverjessner/Billy/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS invoices_fts USING fts5(
			id UNINDEXED,
			path UNINDEXED,
			counterparty,
			number,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ftsUpsert(tx *sql.Tx, inv *models.Invoice) error {
	_, _ = tx.Exec(`DELETE FROM invoices_fts WHERE id = ?`, inv.ID)
	_, err := tx.Exec(`INSERT INTO invoices_fts (id, path, counterparty, number, body) VALUES (?, ?, ?, ?, ?)`,
		inv.ID, inv.Path(), deref(inv.CounterpartyName), deref(inv.InvoiceNumber), deref(inv.OCRText))
	if err != nil {
		return fmt.Errorf("store: upsert fts: %w", err)
	}
	return nil
}

// Search performs an FTS5 full-text search and returns matching invoices with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id,
		       path,
		       counterparty,
		       snippet(invoices_fts, 4, '<b>', '</b>', '...', 32)
		FROM invoices_fts
		WHERE invoices_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
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
