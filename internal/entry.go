// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
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

	"github.com/starford/taskloader/internal/api"
	"github.com/starford/taskloader/internal/loader"
	"github.com/starford/taskloader/internal/mcpserver"
	"github.com/starford/taskloader/internal/source"
	"github.com/starford/taskloader/internal/taskservice"
)

// Load performs a single load into the configured store and returns its result.
func Load(ctx context.Context, opts ...Option) (*loader.Result, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}

	c, err := app.build(ctx, os.Stderr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return c.loader.Load(ctx)
}

// ServeMCP loads the tasks once and then serves them over MCP on stdin/stdout.
// Logs go to stderr so they never mix with protocol frames.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	c, err := app.build(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.loader.Load(ctx); err != nil {
		c.logger.Warn("initial load failed", slog.String("error", err.Error()))
	}

	srv := mcpserver.New(taskservice.NewService(c.store, c.loader))
	c.logger.Info("MCP server starting on stdio")
	return srv.Listen(ctx, os.Stdin, os.Stdout)
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	c, err := app.build(ctx, os.Stdout)
	if err != nil {
		return err
	}
	defer c.Close()
	logger := c.logger

	// Initial load. The server still starts on failure; persistent stores
	// keep serving what the last successful load committed.
	if _, err := c.loader.Load(ctx); err != nil {
		logger.Warn("initial load failed", slog.String("error", err.Error()))
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newHTTPHandler(cfg, c),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// End SSE streams on shutdown.
	httpServer.RegisterOnShutdown(c.broker.Close)

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Reload on local changes.
	if d, ok := c.source.(*source.Dir); ok && cfg.Source.Dir.Watch {
		g.Go(func() error {
			return source.Watch(gCtx, d.Root(), cfg.Source.Dir.Ext, source.DefaultDebounce, logger, func() {
				if _, err := c.loader.Load(gCtx); err != nil {
					logger.Warn("reload after change failed", slog.String("error", err.Error()))
				}
			})
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

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

func newHTTPHandler(cfg *Config, c *components) http.Handler {
	svc := taskservice.NewService(c.store, c.loader)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		n, err := c.store.Count(r.Context())
		if err != nil {
			writeHealth(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
		writeHealth(w, http.StatusOK, map[string]any{"status": "ok", "tasks": n})
	})
	r.Handle("/metrics", c.metrics.Handler())

	r.Mount("/api", apiRouter)

	return r
}

func writeHealth(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
