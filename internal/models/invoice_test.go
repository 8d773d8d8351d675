package models

import (
	"testing"
	"time"
)

func TestParseCategory(t *testing.T) {
	for in, want := range map[string]Category{"revenue": CategoryRevenue, " Payable ": CategoryPayable} {
		got, err := ParseCategory(in)
		if err != nil || got != want {
			t.Errorf("ParseCategory(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseCategory("expense"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestNewInvoiceDefaults(t *testing.T) {
	now := time.Now()
	inv := NewInvoice("id-1", CategoryPayable, "/in/a.pdf", now)
	if inv.IngestionStatus != StatusPending {
		t.Errorf("status = %s", inv.IngestionStatus)
	}
	if inv.TotalAmount != "0.00" || inv.Currency != "EUR" || inv.Status != "open" || inv.ExtractedJSON != "{}" {
		t.Errorf("unexpected defaults: %+v", inv)
	}
	if inv.Path() != "/in/a.pdf" {
		t.Errorf("path = %q", inv.Path())
	}
}

func TestSettingsFolders(t *testing.T) {
	s := Settings{PayableFolder: "/p"}
	f := s.Folders()
	if len(f) != 1 || f[0].Category != CategoryPayable {
		t.Errorf("folders = %+v", f)
	}
	if len((Settings{}).Folders()) != 0 {
		t.Error("empty settings should have no folders")
	}
}
