// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/blockpatch/internal/api"
	"github.com/starford/blockpatch/internal/docservice"
	"github.com/starford/blockpatch/internal/document"
	"github.com/starford/blockpatch/internal/journal"
	"github.com/starford/blockpatch/internal/mcpserver"
	"github.com/starford/blockpatch/internal/parser"
	"github.com/starford/blockpatch/internal/sse"
	"github.com/starford/blockpatch/internal/storage"
	"github.com/starford/blockpatch/internal/watcher"
)

// components are the pieces shared by the HTTP and MCP entry points.
type components struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *journal.DB
	schema *document.Schema
	broker *sse.Broker
	svc    *docservice.Service
}

func (c *components) close() {
	c.svc.Close()
	c.broker.Close()
	if err := c.db.Close(); err != nil {
		c.logger.Warn("close journal", slog.String("error", err.Error()))
	}
}

func setup(ctx context.Context, opts ...Option) (*components, error) {
	app := &application{logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("documents_path", cfg.Documents.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("schema_path", cfg.Schema.Path),
		slog.Bool("read_only", cfg.Editor.ReadOnly),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure documents directory exists.
	if err := os.MkdirAll(cfg.Documents.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}

	schema, err := parser.LoadSchema(cfg.Schema.Path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	// Initialize storage.
	store, err := storage.NewFS(cfg.Documents.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Initialize SQLite journal.
	db, err := journal.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}

	// Run initial sync.
	if err := journal.Sync(ctx, db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)

	svc := docservice.NewService(store, db,
		docservice.WithLogger(logger),
		docservice.WithPublisher(broker),
		docservice.WithSchema(schema),
		docservice.WithSessionOptions(cfg.Editor.SessionOptions()...),
	)

	return &components{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		schema: schema,
		broker: broker,
		svc:    svc,
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	c, err := setup(ctx, opts...)
	if err != nil {
		return err
	}
	defer c.close()

	cfg, logger := c.cfg, c.logger

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.broker)

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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	// Start file watcher; external edits become authoritative values.
	g.Go(func() error {
		if err := watcher.Watch(gCtx, c.store, c.store.Root(), c.db, logger, c.svc.HandleFileEvent); err != nil {
			logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

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
		stop()

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the document tools over stdio until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	c, err := setup(ctx, opts...)
	if err != nil {
		return err
	}
	defer c.close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := watcher.Watch(watchCtx, c.store, c.store.Root(), c.db, c.logger, c.svc.HandleFileEvent); err != nil {
			c.logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
	}()

	c.logger.Info("MCP server starting on stdio")
	if err := mcpserver.New(c.svc, c.schema).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
