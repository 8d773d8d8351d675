//go:build sqlite_fts5

package store

import "testing"

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM invoices_fts`).Scan(&count); err != nil {
		t.Fatalf("invoices_fts table missing: %v", err)
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	inv := sampleInvoice("evo", "/in/evo.pdf")
	inv.OCRText = strPtr("original text")
	_ = db.Upsert(inv)
	inv.OCRText = strPtr("replacement text")
	_ = db.Upsert(inv)

	results, _ := db.Search("original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search("replacement", 10)
	if len(results) != 1 || results[0].Snippet == "" {
		t.Errorf("FTS not updated: %+v", results)
	}
}
