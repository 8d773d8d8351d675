package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oliverjessner/Billy/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startSet watches dir as a payable folder and returns the event channel.
func startSet(t *testing.T, dir string) (*Set, chan Event) {
	t.Helper()
	out := make(chan Event, 64)
	s, err := Start([]models.Folder{{Path: dir, Category: models.CategoryPayable}}, out, testLogger())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Close)
	// Give the native watcher a moment to settle.
	time.Sleep(50 * time.Millisecond)
	return s, out
}

// waitFor reads events until one matches or timeout elapses.
func waitFor(t *testing.T, ch <-chan Event, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timeout waiting for watcher event")
			return Event{}
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		op   fsnotify.Op
		name string
		want Kind
		ok   bool
	}{
		{fsnotify.Create, "/in/a.pdf", KindCreated, true},
		{fsnotify.Write, "/in/a.PDF", KindModified, true},
		{fsnotify.Remove, "/in/a.pdf", KindDeleted, true},
		{fsnotify.Rename, "/in/a.pdf", KindDeleted, true},
		{fsnotify.Chmod, "/in/a.pdf", "", false},
		{fsnotify.Create, "/in/a.txt", "", false},
	}
	for _, c := range cases {
		got, ok := classify(fsnotify.Event{Name: c.name, Op: c.op})
		if got != c.want || ok != c.ok {
			t.Errorf("classify(%s %s) = %q, %v; want %q, %v", c.op, c.name, got, ok, c.want, c.ok)
		}
	}
}

func TestStart_SkipsMissingFolder(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Event, 1)
	s, err := Start([]models.Folder{
		{Path: filepath.Join(dir, "missing"), Category: models.CategoryRevenue},
		{Path: dir, Category: models.CategoryPayable},
	}, out, testLogger())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()
	if s.Len() != 1 {
		t.Errorf("installed watchers = %d, want 1", s.Len())
	}
}

func TestWatcher_NewPDFEmitsEvent(t *testing.T) {
	dir := t.TempDir()
	_, out := startSet(t, dir)

	path := filepath.Join(dir, "invoice.pdf")
	_ = os.WriteFile(path, []byte("%PDF-1.4"), 0o644)

	ev := waitFor(t, out, 5*time.Second, func(e Event) bool { return e.Kind != KindDeleted })
	if ev.Path != path {
		t.Errorf("path = %s, want %s", ev.Path, path)
	}
	if ev.Category != models.CategoryPayable {
		t.Errorf("category = %s", ev.Category)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	_, out := startSet(t, dir)

	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "scan.pdf"), []byte("%PDF"), 0o644)

	ev := waitFor(t, out, 5*time.Second, func(Event) bool { return true })
	if filepath.Base(ev.Path) != "scan.pdf" {
		t.Errorf("unexpected event for %s", ev.Path)
	}
}

func TestWatcher_DeleteEmitsDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.pdf")
	_ = os.WriteFile(path, []byte("%PDF"), 0o644)
	_, out := startSet(t, dir)

	_ = os.Remove(path)

	ev := waitFor(t, out, 5*time.Second, func(e Event) bool { return e.Kind == KindDeleted })
	if ev.Path != path {
		t.Errorf("path = %s", ev.Path)
	}
}

func TestWatcher_NotRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "archive")
	_ = os.MkdirAll(sub, 0o755)
	_, out := startSet(t, dir)

	_ = os.WriteFile(filepath.Join(sub, "old.pdf"), []byte("%PDF"), 0o644)

	select {
	case ev := <-out:
		t.Errorf("unexpected event from subdirectory: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSetCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, _ := startSet(t, dir)
	s.Close()
	s.Close()
}

func TestCloseWithFullChannelDoesNotBlock(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Event) // unbuffered, never drained
	s, err := Start([]models.Folder{{Path: dir, Category: models.CategoryRevenue}}, out, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("%PDF"), 0o644)
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an undrained channel")
	}
}
