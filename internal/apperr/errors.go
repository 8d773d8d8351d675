// Package apperr defines the error taxonomy shared by the ingestion
// pipeline and the API layers.
package apperr

import "errors"

// Pipeline errors. A processing task wraps exactly one of these so the
// coordinator and API can classify failures with errors.Is.
var (
	ErrIO         = errors.New("io error")
	ErrExtraction = errors.New("extraction error")
	ErrCredential = errors.New("credential error")
	ErrStore      = errors.New("store error")
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidField = errors.New("invalid field")
	ErrMissingPath  = errors.New("invoice has no source path")
)
