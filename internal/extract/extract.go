// Package extract turns invoice PDFs into plain text, using the embedded
// text layer when it is usable and OCR otherwise.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/oliverjessner/Billy/internal/apperr"
)

// Config names the external binaries and OCR parameters.
type Config struct {
	Pdftotext string `yaml:"pdftotext"`
	Pdftoppm  string `yaml:"pdftoppm"`
	Tesseract string `yaml:"tesseract"`
	DPI       int    `yaml:"dpi"`
	MaxPages  int    `yaml:"max_pages"` // 0 = no limit
}

// Extractor implements text extraction for PDFs.
type Extractor struct {
	cfg       Config
	runner    Runner
	pageCount func(path string) (int, error)
	logger    *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

// WithPageCounter replaces the PDF page counter.
func WithPageCounter(fn func(path string) (int, error)) Option {
	return func(e *Extractor) { e.pageCount = fn }
}

// New returns an Extractor with defaults filled in.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	e := &Extractor{
		cfg:       cfg,
		runner:    execRunner{logger: logger},
		pageCount: api.PageCountFile,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText returns the text of the PDF at path. lang is the tesseract
// language code used when OCR is needed. Failures wrap apperr.ErrExtraction.
func (e *Extractor) ExtractText(ctx context.Context, path, lang string) (string, error) {
	// A zero page count means unknown; pdftotext and OCR still get a try.
	pages, err := e.pageCount(path)
	if err != nil {
		e.logger.Warn("extract: page count failed",
			slog.String("path", path), slog.String("error", err.Error()))
		pages = 0
	}

	native, err := e.pdfToText(ctx, path)
	if err != nil {
		e.logger.Warn("extract: pdftotext failed, falling back to ocr",
			slog.String("path", path), slog.String("error", err.Error()))
	} else if HasMeaningfulText(native) {
		e.logger.Debug("extract: native text",
			slog.String("path", path), slog.Int("pages", pages), slog.Int("chars", len(native)))
		return native, nil
	}

	ocr, ocrErr := e.pdfToOCR(ctx, path, lang, pages)
	if ocrErr == nil && strings.TrimSpace(ocr) != "" {
		e.logger.Debug("extract: ocr text",
			slog.String("path", path), slog.Int("pages", pages), slog.String("lang", lang))
		return ocr, nil
	}
	if strings.TrimSpace(native) != "" {
		return native, nil
	}
	if ocrErr != nil {
		return "", fmt.Errorf("%w: ocr %s: %w", apperr.ErrExtraction, filepath.Base(path), ocrErr)
	}
	return "", fmt.Errorf("%w: no text found in %s", apperr.ErrExtraction, filepath.Base(path))
}

// HasMeaningfulText reports whether a text layer is worth using instead of OCR.
func HasMeaningfulText(text string) bool {
	t := strings.TrimSpace(text)
	return len(t) > 50 && len(strings.Fields(t)) > 10
}

// renderLimit returns the last page pdftoppm should render, or 0 to
// render the whole document.
func renderLimit(pages, maxPages int) int {
	if maxPages <= 0 {
		return 0
	}
	if pages > 0 && pages <= maxPages {
		return 0
	}
	return maxPages
}

func (e *Extractor) pdfToText(ctx context.Context, path string) (string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, _, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}

func (e *Extractor) pdfToOCR(ctx context.Context, path, lang string, pages int) (string, error) {
	tmpDir, err := os.MkdirTemp("", "billy-ocr-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png [-f 1 -l N] <in.pdf> <tmp/page>
	args := []string{"-r", strconv.Itoa(e.cfg.DPI), "-png"}
	if last := renderLimit(pages, e.cfg.MaxPages); last > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(last))
	}
	args = append(args, path, prefix)
	if _, _, err := e.runner.Run(ctx, e.cfg.Pdftoppm, args...); err != nil {
		return "", fmt.Errorf("pdftoppm: %w", err)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("pdftoppm rendered no pages")
	}

	var b strings.Builder
	for _, img := range matches {
		args := []string{img, "stdout"}
		if lang != "" {
			args = append(args, "-l", lang)
		}
		out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
		if err != nil {
			return "", fmt.Errorf("tesseract: %w", err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.Write(out)
	}
	return b.String(), nil
}
