package store

import (
	"fmt"
	"time"

	"github.com/oliverjessner/Billy/internal/apperr"
	"github.com/oliverjessner/Billy/internal/models"
)

// Keys of the settings table.
const (
	KeyRevenueFolder = "revenue_folder"
	KeyPayableFolder = "payable_folder"
	KeyCredentialRef = "openai_api_key"
	KeyOCRLanguage   = "ocr_language"
)

// LoadSettings reads the persisted settings. Keys that were never saved
// keep the value from fallback.
func (db *DB) LoadSettings(fallback models.Settings) (models.Settings, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return fallback, fmt.Errorf("%w: load settings: %w", apperr.ErrStore, err)
	}
	defer rows.Close()

	s := fallback
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fallback, err
		}
		switch k {
		case KeyRevenueFolder:
			s.RevenueFolder = v
		case KeyPayableFolder:
			s.PayableFolder = v
		case KeyCredentialRef:
			s.CredentialRef = v
		case KeyOCRLanguage:
			s.OCRLanguage = v
		}
	}
	if err := rows.Err(); err != nil {
		return fallback, err
	}
	if s.OCRLanguage == "" {
		s.OCRLanguage = models.DefaultOCRLanguage
	}
	return s, nil
}

// SaveSettings persists every settings key in one transaction.
func (db *DB) SaveSettings(s models.Settings) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", apperr.ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := formatTime(time.Now())
	for k, v := range map[string]string{
		KeyRevenueFolder: s.RevenueFolder,
		KeyPayableFolder: s.PayableFolder,
		KeyCredentialRef: s.CredentialRef,
		KeyOCRLanguage:   s.OCRLanguage,
	} {
		if _, err := tx.Exec(`
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, k, v, now); err != nil {
			return fmt.Errorf("%w: save setting %s: %w", apperr.ErrStore, k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", apperr.ErrStore, err)
	}
	return nil
}
