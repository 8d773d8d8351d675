package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestIsPDF(t *testing.T) {
	cases := map[string]bool{
		"a.pdf":     true,
		"B.PDF":     true,
		"c.Pdf":     true,
		"d.pdf.tmp": false,
		"notes.md":  false,
		"pdf":       false,
	}
	for name, want := range cases {
		if got := IsPDF(name); got != want {
			t.Errorf("IsPDF(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestListPDFsIsShallow(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("b"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "A.PDF"), []byte("aa"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644)
	_ = os.MkdirAll(filepath.Join(dir, "archive"), 0o755)
	_ = os.WriteFile(filepath.Join(dir, "archive", "old.pdf"), []byte("old"), 0o644)

	got, err := NewFS().ListPDFs(dir)
	if err != nil {
		t.Fatalf("ListPDFs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d files, want 2: %+v", len(got), got)
	}
	if filepath.Base(got[0].Path) != "A.PDF" || got[0].Size != 2 {
		t.Errorf("first = %+v", got[0])
	}
	if !filepath.IsAbs(got[1].Path) {
		t.Errorf("path not absolute: %s", got[1].Path)
	}
}

func TestListPDFsMissingDir(t *testing.T) {
	_, err := NewFS().ListPDFs(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestSize(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.pdf")
	_ = os.WriteFile(p, []byte("12345"), 0o644)
	n, err := NewFS().Size(p)
	if err != nil || n != 5 {
		t.Errorf("Size = %d, %v", n, err)
	}
}
