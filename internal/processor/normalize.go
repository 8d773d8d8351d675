package processor

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oliverjessner/Billy/internal/llm"
)

// dateLayouts are tried in order. Day and month may be unpadded.
var dateLayouts = []string{
	"2006-1-2",
	"2.1.2006",
	"2/1/2006",
	"2006/1/2",
	"2006.1.2",
}

// NormalizeDate converts a recognized date to YYYY-MM-DD. Unrecognized
// text is returned trimmed but otherwise unchanged; empty text becomes nil.
func NormalizeDate(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			out := t.Format("2006-01-02")
			return &out
		}
	}
	return &v
}

// FormatAmount renders v with exactly two decimal places.
func FormatAmount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// ComputeConfidence scores an extraction by which key fields are present.
func ComputeConfidence(f llm.Fields) float64 {
	score := 0.4
	if nonEmpty(f.InvoiceNumber) != nil {
		score += 0.1
	}
	if nonEmpty(f.InvoiceDate) != nil {
		score += 0.1
	}
	if nonEmpty(f.CounterpartyName) != nil {
		score += 0.1
	}
	if f.TotalAmount != nil {
		score += 0.1
	}
	if f.TaxAmount != nil || f.NetAmount != nil {
		score += 0.05
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func formatOptional(v *float64) *string {
	if v == nil {
		return nil
	}
	s := FormatAmount(*v)
	return &s
}
