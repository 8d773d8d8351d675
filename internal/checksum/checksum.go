// Package checksum computes content fingerprints used for change detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oliverjessner/Billy/internal/apperr"
)

// bufSize bounds the memory used while hashing a file of any size.
const bufSize = 32 << 10

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Fingerprint returns the hex SHA-256 of the file at path and its
// modification time in UTC, formatted as RFC 3339 with nanoseconds.
// Failures wrap apperr.ErrIO.
func Fingerprint(path string) (hash string, modifiedAt string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: open %s: %w", apperr.ErrIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", "", fmt.Errorf("%w: stat %s: %w", apperr.ErrIO, path, err)
	}

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, bufSize)); err != nil {
		return "", "", fmt.Errorf("%w: read %s: %w", apperr.ErrIO, path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), FormatTime(info.ModTime()), nil
}

// FormatTime renders t the way modification times are stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
