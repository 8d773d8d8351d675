// Package storage defines read-only access to the watched invoice folders.
package storage

import "github.com/oliverjessner/Billy/internal/models"

// Provider is the interface for folder operations used by scans and the
// debounce filter.
type Provider interface {
	// ListPDFs returns metadata for every .pdf file directly inside dir.
	// Subdirectories are not descended into.
	ListPDFs(dir string) ([]models.FileMeta, error)
	// Size returns the current size of the file at path.
	Size(path string) (int64, error)
}
