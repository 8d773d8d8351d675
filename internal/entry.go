// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/oliverjessner/Billy/internal/api"
	"github.com/oliverjessner/Billy/internal/credential"
	"github.com/oliverjessner/Billy/internal/events"
	"github.com/oliverjessner/Billy/internal/extract"
	"github.com/oliverjessner/Billy/internal/ingest"
	"github.com/oliverjessner/Billy/internal/invoiceservice"
	"github.com/oliverjessner/Billy/internal/llm"
	"github.com/oliverjessner/Billy/internal/mcpserver"
	"github.com/oliverjessner/Billy/internal/processor"
	"github.com/oliverjessner/Billy/internal/storage"
	"github.com/oliverjessner/Billy/internal/store"
)

// components is the wired ingestion stack shared by the HTTP and MCP modes.
type components struct {
	db          *store.DB
	broker      *events.Broker
	coordinator *ingest.Coordinator
	service     *invoiceservice.Service
}

func (c *components) close() {
	c.coordinator.Close()
	c.broker.Close()
	c.db.Close()
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	out := app.logOut
	if out == nil {
		out = os.Stdout
		if app.mcp {
			out = os.Stderr
		}
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("llm_model", cfg.LLM.Model),
		slog.Int("max_concurrent", cfg.Ingest.MaxConcurrent),
		slog.Bool("mcp", app.mcp),
		slog.String("log_level", cfg.App.LogLevel.String()))

	comp, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comp.close()

	if app.mcp {
		return runMCP(comp, app.version, logger)
	}
	return runHTTP(ctx, cfg, comp, logger)
}

// build opens the database and wires extraction, processing and the
// ingestion coordinator, then starts watching the configured folders.
func build(ctx context.Context, cfg *Config, logger *slog.Logger) (*components, error) {
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	llmClient, err := llm.NewClient(cfg.llmConfig(), logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	resolver := credential.NewResolver(cfg.Credentials.Secret)
	proc := processor.New(db,
		extract.New(cfg.Extract, logger),
		llmClient,
		resolver,
		logger,
		processor.WithDefaultCurrency(cfg.Ingest.DefaultCurrency),
	)

	broker := events.NewBroker(2 * time.Second)
	coordinator := ingest.New(ctx, cfg.ingestConfig(), db, proc, storage.NewFS(), broker, logger)

	comp := &components{
		db:          db,
		broker:      broker,
		coordinator: coordinator,
		service:     invoiceservice.New(db, coordinator, resolver, llmClient),
	}

	settings, err := db.LoadSettings(cfg.Folders.Settings())
	if err != nil {
		comp.close()
		return nil, fmt.Errorf("load settings: %w", err)
	}

	// A folder that cannot be watched is not fatal; the user can fix it
	// through the settings endpoint.
	if err := coordinator.RestartWatchers(settings); err != nil {
		logger.Warn("initial watcher start failed", slog.String("error", err.Error()))
	}
	if err := coordinator.EnqueueScan(); err != nil {
		logger.Warn("initial scan failed", slog.String("error", err.Error()))
	}

	return comp, nil
}

func runMCP(comp *components, version string, logger *slog.Logger) error {
	logger.Info("Serving MCP over stdio", slog.String("version", version))
	if err := mcpserver.New(comp.service, version).ServeStdio(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

func runHTTP(ctx context.Context, cfg *Config, comp *components, logger *slog.Logger) error {
	apiRouter := api.NewRouter(comp.service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, comp.broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if comp.coordinator.State() != ingest.StateRunning {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"stopped"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
