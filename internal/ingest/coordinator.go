// Package ingest owns the watcher lifecycle and dispatches file events to
// the processor as concurrent tasks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/oliverjessner/Billy/internal/models"
	"github.com/oliverjessner/Billy/internal/storage"
	"github.com/oliverjessner/Billy/internal/store"
	"github.com/oliverjessner/Billy/internal/watcher"
)

// ErrClosed is returned by operations on a closed Coordinator.
var ErrClosed = errors.New("ingest: coordinator closed")

// State is the watcher lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Publisher receives fire-and-forget notifications about processing
// outcomes. Implementations must not block.
type Publisher interface {
	InvoiceUpdated(inv *models.Invoice)
	InvoiceMissing(path string)
	ProcessingError(message string)
}

// Processor is the per-file pipeline the coordinator drives.
type Processor interface {
	ProcessInvoice(ctx context.Context, path string, category models.Category, settings models.Settings) (*models.Invoice, error)
	MarkFailed(ctx context.Context, inv *models.Invoice, message string) error
}

// Config tunes debouncing and task concurrency.
type Config struct {
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	DebounceSamples  int           `yaml:"debounce_samples"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	// SkipInFlight drops events for a path that already has a running
	// task. Off by default: two quick events for one path may then be
	// processed twice.
	SkipInFlight bool `yaml:"skip_in_flight"`
}

// Coordinator is the single owner of the settings snapshot and the
// watcher set built from it.
type Coordinator struct {
	cfg    Config
	repo   store.Repository
	proc   Processor
	files  storage.Provider
	pub    Publisher
	logger *slog.Logger

	// base is detached from the caller's cancellation: tasks always run
	// to completion.
	base context.Context
	sem  *semaphore.Weighted

	// running counts spawned tasks; idle is signalled when it drops to zero.
	taskMu  sync.Mutex
	idle    *sync.Cond
	running int

	mu       sync.Mutex
	settings models.Settings
	version  uint64
	state    State
	closed   bool
	watchers *watcher.Set
	stopLoop chan struct{}
	loopDone chan struct{}

	flightMu sync.Mutex
	inFlight map[string]struct{}
}

// New returns a stopped Coordinator. Call RestartWatchers to start it.
func New(ctx context.Context, cfg Config, repo store.Repository, proc Processor, files storage.Provider, pub Publisher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = watcher.DefaultInterval
	}
	if cfg.DebounceSamples < 2 {
		cfg.DebounceSamples = watcher.DefaultSamples
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	c := &Coordinator{
		cfg:      cfg,
		repo:     repo,
		proc:     proc,
		files:    files,
		pub:      pub,
		logger:   logger,
		base:     context.WithoutCancel(ctx),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		state:    StateStopped,
		inFlight: make(map[string]struct{}),
	}
	c.idle = sync.NewCond(&c.taskMu)
	return c
}

// Settings returns the current settings snapshot and its version.
func (c *Coordinator) Settings() (models.Settings, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings, c.version
}

// State reports whether watchers are installed.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RestartWatchers replaces the settings snapshot, tears down the current
// watcher set and dispatch loop, and builds fresh ones from settings.
// Tasks already dispatched keep the snapshot they started with.
func (c *Coordinator) RestartWatchers(settings models.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.settings = settings
	c.version++
	c.stopLocked()

	events := make(chan watcher.Event, 64)
	set, err := watcher.Start(settings.Folders(), events, c.logger)
	if err != nil {
		return err
	}

	c.watchers = set
	c.stopLoop = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.state = StateRunning
	go c.dispatch(events, settings, c.stopLoop, c.loopDone)

	c.logger.Info("ingest: watchers restarted",
		slog.Int("watchers", set.Len()),
		slog.Uint64("settings_version", c.version))
	return nil
}

// stopLocked closes the watcher set first so no forwarder is left
// sending, then ends the dispatch loop. c.mu must be held.
func (c *Coordinator) stopLocked() {
	if c.watchers == nil {
		return
	}
	c.watchers.Close()
	close(c.stopLoop)
	<-c.loopDone
	c.watchers = nil
	c.state = StateStopped
}

// EnqueueScan lists every configured folder and starts one processing
// task per PDF. Folders that cannot be listed are skipped with a warning.
func (c *Coordinator) EnqueueScan() error {
	settings, _ := c.Settings()

	type job struct {
		path     string
		category models.Category
	}
	var jobs []job
	for _, f := range settings.Folders() {
		metas, err := c.files.ListPDFs(f.Path)
		if err != nil {
			c.logger.Warn("ingest: scan skipped folder",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
			continue
		}
		for _, m := range metas {
			jobs = append(jobs, job{path: m.Path, category: f.Category})
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, j := range jobs {
		c.spawn(j.path, j.category, settings, false)
	}
	c.logger.Info("ingest: scan enqueued", slog.Int("files", len(jobs)))
	return nil
}

// ProcessInvoicePath processes one file synchronously with the same
// failure bookkeeping and notifications as watcher-driven tasks.
func (c *Coordinator) ProcessInvoicePath(ctx context.Context, path string, category models.Category, settings models.Settings) (*models.Invoice, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)
	return c.run(context.WithoutCancel(ctx), path, category, settings)
}

// Wait blocks until no dispatched task is running. Watchers may start new
// tasks right after it returns.
func (c *Coordinator) Wait() {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	for c.running > 0 {
		c.idle.Wait()
	}
}

// Close stops the watchers and waits for running tasks.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.stopLocked()
	}
	c.mu.Unlock()
	c.Wait()
}

func (c *Coordinator) dispatch(events <-chan watcher.Event, settings models.Settings, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case ev := <-events:
			if ev.Kind == watcher.KindDeleted {
				c.markMissing(ev.Path)
				continue
			}
			c.spawn(ev.Path, ev.Category, settings, true)
		}
	}
}

func (c *Coordinator) markMissing(path string) {
	if err := c.repo.MarkMissing(path); err != nil {
		c.logger.Error("ingest: mark missing failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		c.pub.ProcessingError(fmt.Sprintf("%s: %v", path, err))
		return
	}
	c.logger.Info("ingest: marked missing", slog.String("path", path))
	c.pub.InvoiceMissing(path)
}

// spawn starts a processing task. When debounce is set the task first
// waits for the file size to settle and gives up silently if it does not.
func (c *Coordinator) spawn(path string, category models.Category, settings models.Settings, debounce bool) {
	c.taskMu.Lock()
	c.running++
	c.taskMu.Unlock()
	go func() {
		defer c.taskDone()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("ingest: task panicked",
					slog.String("path", path),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				c.pub.ProcessingError(fmt.Sprintf("%s: internal error: %v", path, r))
			}
		}()

		if debounce && !watcher.WaitStable(c.base, path, c.cfg.DebounceInterval, c.cfg.DebounceSamples, c.files.Size) {
			c.logger.Debug("ingest: unstable file dropped", slog.String("path", path))
			return
		}

		if c.cfg.SkipInFlight {
			if !c.claim(path) {
				c.logger.Debug("ingest: already processing", slog.String("path", path))
				return
			}
			defer c.release(path)
		}

		if err := c.sem.Acquire(c.base, 1); err != nil {
			return
		}
		defer c.sem.Release(1)

		_, _ = c.run(c.base, path, category, settings)
	}()
}

func (c *Coordinator) taskDone() {
	c.taskMu.Lock()
	c.running--
	if c.running == 0 {
		c.idle.Broadcast()
	}
	c.taskMu.Unlock()
}

// run processes path and handles the outcome: publish the record on
// success, otherwise publish the error. Only a record this run left
// pending is marked failed; a failure before the pending write leaves
// missing and processed records as they were.
func (c *Coordinator) run(ctx context.Context, path string, category models.Category, settings models.Settings) (*models.Invoice, error) {
	inv, err := c.proc.ProcessInvoice(ctx, path, category, settings)
	if err == nil {
		c.pub.InvoiceUpdated(inv)
		return inv, nil
	}

	msg := err.Error()
	c.logger.Error("ingest: task failed",
		slog.String("path", path),
		slog.String("error", msg))

	rec, lookupErr := c.repo.GetByPath(path)
	switch {
	case lookupErr != nil:
		c.logger.Error("ingest: failure lookup", slog.String("path", path), slog.String("error", lookupErr.Error()))
	case rec != nil && rec.IngestionStatus == models.StatusPending:
		if mErr := c.proc.MarkFailed(ctx, rec, msg); mErr != nil {
			c.logger.Error("ingest: mark failed", slog.String("path", path), slog.String("error", mErr.Error()))
		}
	}

	c.pub.ProcessingError(fmt.Sprintf("%s: %s", path, msg))
	return nil, err
}

func (c *Coordinator) claim(path string) bool {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	if _, busy := c.inFlight[path]; busy {
		return false
	}
	c.inFlight[path] = struct{}{}
	return true
}

func (c *Coordinator) release(path string) {
	c.flightMu.Lock()
	delete(c.inFlight, path)
	c.flightMu.Unlock()
}

type nopPublisher struct{}

func (nopPublisher) InvoiceUpdated(*models.Invoice) {}
func (nopPublisher) InvoiceMissing(string)          {}
func (nopPublisher) ProcessingError(string)         {}
