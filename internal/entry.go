// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/starford/pagestore/internal/api"
	"github.com/starford/pagestore/internal/apperr"
	"github.com/starford/pagestore/internal/index"
	"github.com/starford/pagestore/internal/mcpserver"
	"github.com/starford/pagestore/internal/metrics"
	"github.com/starford/pagestore/internal/pageservice"
	"github.com/starford/pagestore/internal/storage"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{logOut: os.Stdout, out: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// stack is every long-lived component built from the configuration.
type stack struct {
	store   *storage.FS
	backend index.Backend
	svc     *pageservice.Service
	metrics *metrics.Metrics
}

func buildStack(ctx context.Context, cfg *Config, logger *slog.Logger) (*stack, error) {
	store, err := storage.NewFS(cfg.Storage.Root,
		storage.WithSealer(cfg.Integrity.Sealer()),
		storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	cipher, err := cfg.Encryption.Cipher()
	if err != nil {
		return nil, fmt.Errorf("init encryption: %w", err)
	}

	var backend index.Backend
	switch cfg.Index.Backend {
	case index.BackendFlat:
		backend, err = index.OpenFlat(cfg.Index.FlatPath, logger)
	default:
		backend, err = index.OpenEngine(ctx, cfg.Index.SQLitePath, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	builder := index.NewBuilder(store, cipher,
		index.WithWorkers(cfg.Index.Workers),
		index.WithBuilderLogger(logger))
	svc := pageservice.New(pageservice.Deps{
		Store:       store,
		Cipher:      cipher,
		Backend:     backend,
		Builder:     builder,
		Rebuilder:   index.NewRebuilder(backend, builder, m, logger),
		Metrics:     m,
		Logger:      logger,
		AutoRebuild: cfg.Index.AutoRebuild,
	})

	logger.Info("Storage ready",
		slog.String("root", store.Root()),
		slog.String("index_backend", backend.Name()),
		slog.String("integrity", cfg.Integrity.Mode),
		slog.Bool("encryption", cipher.Available()))
	if cfg.Integrity.Unsigned() {
		logger.Warn("Integrity key is empty, sidecars will not be written and reads report unverifiable",
			slog.String("integrity", cfg.Integrity.Mode))
	}
	return &stack{store: store, backend: backend, svc: svc, metrics: m}, nil
}

func (s *stack) Close(logger *slog.Logger) {
	s.svc.Close()
	if err := s.backend.Close(); err != nil {
		logger.Error("index close failed", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server, the external-change watcher and the startup
// index check, and blocks until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_root", cfg.Storage.Root),
		slog.String("index_backend", cfg.Index.Backend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close(logger)

	if n, err := st.store.SweepTemp(cfg.Storage.TempMaxAge); err != nil {
		logger.Warn("temp sweep failed", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("removed orphaned temp files", slog.Int("count", n))
	}

	reason, err := st.svc.Start(ctx)
	if err != nil {
		return fmt.Errorf("index check: %w", err)
	}
	logger.Info("Index checked", slog.String("reason", string(reason)))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           api.NewRouter(st.svc, st.metrics, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Reconcile the index with edits made outside the process.
	if cfg.Index.Watch {
		g.Go(func() error {
			err := index.Watch(gCtx, st.store.Root(), logger, func(slugs []string) {
				st.svc.Refresh(gCtx, slugs)
			})
			if err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

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
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher exits with the server.
var errShutdown = errors.New("shutdown")

// Rebuild regenerates the configured index synchronously and writes the
// final job status to the output.
func Rebuild(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()
	st, err := buildStack(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer st.Close(logger)

	status, err := st.svc.Rebuild(ctx)
	if encErr := writeResult(app.out, status); encErr != nil {
		return encErr
	}
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	return nil
}

// Check writes the consistency report for the configured index. It fails
// when the index is not consistent so scripts can branch on the exit code.
func Check(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()
	st, err := buildStack(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer st.Close(logger)

	// Offline edits only count once the tracker is seeded from disk.
	if err := st.svc.Seed(); err != nil {
		return err
	}
	report := st.svc.Check(ctx)
	if err := writeResult(app.out, report); err != nil {
		return err
	}
	if report.Reason != index.ReasonOK {
		return fmt.Errorf("check: %s: %w", report.Reason, apperr.ErrIndexUnavailable)
	}
	return nil
}

// ServeMCP exposes the page tools over stdio until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()
	st, err := buildStack(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer st.Close(logger)

	if _, err := st.svc.Start(ctx); err != nil {
		return fmt.Errorf("index check: %w", err)
	}
	logger.Info("Serving MCP on stdio")
	return mcpserver.New(st.svc, app.version).ServeStdio()
}

func writeResult(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
