// Package watcher turns native filesystem notifications on the invoice
// folders into classified PDF events.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/oliverjessner/Billy/internal/models"
	"github.com/oliverjessner/Billy/internal/storage"
)

// Kind classifies a file event.
type Kind string

const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
)

// Event is an ephemeral notification about one PDF in a watched folder.
type Event struct {
	Path     string
	Category models.Category
	Kind     Kind
}

// Set is a group of single-level folder watchers that forward into one
// channel. It is built once and closed once; folder changes are applied by
// closing the set and starting a new one.
type Set struct {
	watchers []*fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// Start installs one non-recursive watcher per folder that currently
// exists and forwards its PDF events to out. Folders that are missing or
// are not directories are skipped without error.
func Start(folders []models.Folder, out chan<- Event, logger *slog.Logger) (*Set, error) {
	s := &Set{done: make(chan struct{})}

	for _, f := range folders {
		info, err := os.Stat(f.Path)
		if err != nil || !info.IsDir() {
			logger.Debug("watcher: folder not available, skipping",
				slog.String("path", f.Path),
				slog.String("category", string(f.Category)))
			continue
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("watcher: new: %w", err)
		}
		if err := w.Add(f.Path); err != nil {
			w.Close()
			s.Close()
			return nil, fmt.Errorf("watcher: add %s: %w", f.Path, err)
		}
		s.watchers = append(s.watchers, w)

		s.wg.Add(1)
		go s.forward(w, f.Category, out, logger)

		logger.Info("watcher: started",
			slog.String("path", f.Path),
			slog.String("category", string(f.Category)))
	}

	return s, nil
}

// Len returns the number of installed folder watchers.
func (s *Set) Len() int {
	return len(s.watchers)
}

// Close releases all native watchers and waits for forwarding to stop.
// It is safe to call more than once.
func (s *Set) Close() {
	s.once.Do(func() {
		close(s.done)
		for _, w := range s.watchers {
			_ = w.Close()
		}
	})
	s.wg.Wait()
}

func (s *Set) forward(w *fsnotify.Watcher, category models.Category, out chan<- Event, logger *slog.Logger) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			kind, ok := classify(ev)
			if !ok {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				abs = ev.Name
			}
			logger.Debug("watcher: event",
				slog.String("path", abs),
				slog.String("kind", string(kind)))

			select {
			case out <- Event{Path: abs, Category: category, Kind: kind}:
			case <-s.done:
				return
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// classify maps a raw notification to an event kind. fsnotify reports a
// rename on the old name only, so it counts as a deletion of that path;
// the new name arrives as a separate create.
func classify(ev fsnotify.Event) (Kind, bool) {
	if !storage.IsPDF(ev.Name) {
		return "", false
	}
	switch {
	case ev.Op&fsnotify.Create != 0:
		return KindCreated, true
	case ev.Op&fsnotify.Write != 0:
		return KindModified, true
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return KindDeleted, true
	default:
		return "", false
	}
}
