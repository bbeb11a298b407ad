package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/taskloader/internal/loader"
	"github.com/starford/taskloader/internal/metrics"
	"github.com/starford/taskloader/internal/source"
	"github.com/starford/taskloader/internal/sse"
	"github.com/starford/taskloader/internal/store"
)

var errConfigRequired = errors.New("config is required")

// components is everything a command needs, built from one Config.
type components struct {
	logger  *slog.Logger
	source  source.Source
	store   store.Store
	loader  *loader.Loader
	broker  *sse.Broker
	metrics *metrics.Recorder

	closers []io.Closer
}

// build wires logger, source, store and loader. On error everything opened
// so far is closed again.
func (a *application) build(ctx context.Context, defaultLogOutput io.Writer) (_ *components, err error) {
	cfg := a.config
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	out := a.logOutput
	if out == nil {
		out = defaultLogOutput
	}
	c.logger = c.newLogger(cfg.App, out)
	slog.SetDefault(c.logger)

	c.logger.Info("Configuration loaded",
		slog.String("source", cfg.Source.Kind),
		slog.String("store", cfg.Store.Kind),
		slog.Int("concurrency", cfg.Loader.Concurrency),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if c.source, err = newSource(cfg.Source); err != nil {
		return nil, fmt.Errorf("init source: %w", err)
	}
	if c.store, err = c.openStore(ctx, cfg.Store); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	c.broker = sse.NewBroker(sse.DefaultKeepAlive)
	c.metrics = metrics.NewRecorder()

	c.loader, err = loader.New(c.source, c.store,
		loader.WithLogger(c.logger),
		loader.WithConcurrency(cfg.Loader.Concurrency),
		loader.WithObserver(c.broker),
		loader.WithObserver(c.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("init loader: %w", err)
	}
	return c, nil
}

func (c *components) newLogger(cfg ApplicationConfig, out io.Writer) *slog.Logger {
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		c.closers = append(c.closers, file)
		out = io.MultiWriter(out, file)
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

func newSource(cfg SourceConfig) (source.Source, error) {
	switch cfg.Kind {
	case SourceDir:
		return source.NewDir(cfg.Dir.Path, cfg.Dir.Ext)
	case SourceGitHub:
		gh := cfg.GitHub
		return source.NewGitHub(source.GitHubConfig{
			BaseURL:   gh.BaseURL,
			Owner:     gh.Owner,
			Repo:      gh.Repo,
			Path:      gh.Path,
			Ref:       gh.Ref,
			Token:     gh.Token,
			Timeout:   gh.Timeout,
			RateLimit: gh.RateLimit,
		})
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

func (c *components) openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Kind {
	case StoreMemory:
		st = store.NewMemory()
	case StoreSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		st, err = store.OpenSQLite(cfg.SQLite.Path)
	case StoreRedis:
		st, err = store.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	default:
		err = fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, st)
	return st, nil
}

// Close releases the store, the broker and the log file.
func (c *components) Close() {
	if c.broker != nil {
		c.broker.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && c.logger != nil {
			c.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	c.closers = nil
}
