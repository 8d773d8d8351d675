package store

import "github.com/oliverjessner/Billy/internal/models"

// Repository is the subset of the store the ingestion pipeline depends on.
// Each call is atomic; a lookup that finds nothing returns (nil, nil).
type Repository interface {
	GetByPath(path string) (*models.Invoice, error)
	GetByID(id string) (*models.Invoice, error)
	Upsert(inv *models.Invoice) error
	MarkMissing(path string) error
	AppendLog(entry models.ProcessingLog) error
}

// Verify *DB satisfies Repository at compile time.
var _ Repository = (*DB)(nil)
