// Package loader builds the tasks collection from a source of Markdown files.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/taskloader/internal/apperr"
	"github.com/starford/taskloader/internal/checksum"
	"github.com/starford/taskloader/internal/frontmatter"
	"github.com/starford/taskloader/internal/models"
	"github.com/starford/taskloader/internal/schema"
	"github.com/starford/taskloader/internal/source"
	"github.com/starford/taskloader/internal/store"
)

// DefaultConcurrency is the number of files fetched in parallel.
const DefaultConcurrency = 4

// ErrDuplicateID is returned when two files map to the same task id.
var ErrDuplicateID = errors.New("duplicate task id")

// Result summarises one load.
type Result struct {
	LoadID    string        `json:"load_id"`
	Count     int           `json:"count"`
	Digest    string        `json:"digest,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Observer is notified around every load.
type Observer interface {
	LoadStarted(loadID string)
	// LoadFinished receives the result (never nil) and the load error, if any.
	LoadFinished(res *Result, err error)
}

// Loader replaces the contents of a store with the tasks found in a source.
type Loader struct {
	src         source.Source
	store       store.Store
	validator   schema.Validator
	logger      *slog.Logger
	concurrency int
	observers   []Observer

	mu sync.Mutex
}

// Option is a functional option for configuring a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) {
		ld.logger = l
	}
}

// WithValidator replaces the default JSON schema validator.
func WithValidator(v schema.Validator) Option {
	return func(ld *Loader) {
		ld.validator = v
	}
}

// WithConcurrency sets how many files are fetched in parallel. Values below
// one mean sequential.
func WithConcurrency(n int) Option {
	return func(ld *Loader) {
		ld.concurrency = n
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(ld *Loader) {
		ld.observers = append(ld.observers, o)
	}
}

// New creates a Loader.
func New(src source.Source, st store.Store, opts ...Option) (*Loader, error) {
	if src == nil {
		return nil, fmt.Errorf("loader: source is required")
	}
	if st == nil {
		return nil, fmt.Errorf("loader: store is required")
	}
	l := &Loader{
		src:         src,
		store:       st,
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.concurrency < 1 {
		l.concurrency = 1
	}
	if l.validator == nil {
		v, err := schema.New()
		if err != nil {
			return nil, fmt.Errorf("loader: %w", err)
		}
		l.validator = v
	}
	return l, nil
}

// Load fetches every file of the source, parses and validates it, and then
// atomically replaces the store contents. Any error aborts the whole load
// and leaves the previous contents in place. Concurrent calls are serialised.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

// TryLoad is like Load but returns apperr.ErrLoadRunning instead of waiting
// for a load already in progress.
func (l *Loader) TryLoad(ctx context.Context) (*Result, error) {
	if !l.mu.TryLock() {
		return nil, apperr.ErrLoadRunning
	}
	defer l.mu.Unlock()
	return l.load(ctx)
}

func (l *Loader) load(ctx context.Context) (*Result, error) {
	res := &Result{LoadID: uuid.NewString(), StartedAt: time.Now()}
	logger := l.logger.With(slog.String("load_id", res.LoadID))

	for _, o := range l.observers {
		o.LoadStarted(res.LoadID)
	}

	err := l.run(ctx, logger, res)
	res.Duration = time.Since(res.StartedAt)

	if err != nil {
		logger.Error("Error loading tasks",
			slog.String("source", l.src.String()),
			slog.String("error", err.Error()))
	}
	for _, o := range l.observers {
		o.LoadFinished(res, err)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Loader) run(ctx context.Context, logger *slog.Logger, res *Result) error {
	logger.Info("Fetching tasks", slog.String("source", l.src.String()))

	entries, err := l.src.List(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", l.src, err)
	}

	files := make([]source.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Type != source.EntryFile {
			logger.Debug("Skipping entry", slog.String("name", e.Name), slog.String("type", e.Type))
			continue
		}
		files = append(files, e)
	}
	logger.Info("Fetched items", slog.Int("items", len(entries)), slog.Int("files", len(files)))

	tasks, err := l.stage(ctx, logger, files)
	if err != nil {
		return err
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	digest, err := checksum.Tasks(tasks)
	if err != nil {
		return fmt.Errorf("digest tasks: %w", err)
	}

	if err := store.Replace(ctx, l.store, tasks); err != nil {
		return fmt.Errorf("commit tasks: %w", err)
	}
	res.Digest = digest

	// The commit has happened; a failed count no longer fails the load.
	total, err := l.store.Count(ctx)
	if err != nil {
		logger.Warn("Count after commit failed", slog.String("error", err.Error()))
		total = len(tasks)
	}
	res.Count = total

	logger.Info("Tasks loaded successfully", slog.Int("total", total))
	return nil
}

// stage builds one task per file on a bounded worker pool. The first failure
// cancels the remaining fetches.
func (l *Loader) stage(ctx context.Context, logger *slog.Logger, files []source.Entry) ([]models.Task, error) {
	tasks := make([]models.Task, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, e := range files {
		g.Go(func() error {
			t, err := l.build(gctx, e)
			if err != nil {
				return err
			}
			tasks[i] = t
			logger.Debug("Task parsed", slog.String("id", t.ID), slog.Int("index", i+1), slog.Int("of", len(files)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(tasks))
	for i, t := range tasks {
		if prev, ok := seen[t.ID]; ok {
			return nil, fmt.Errorf("%w: %q from %s and %s", ErrDuplicateID, t.ID, prev, files[i].Name)
		}
		seen[t.ID] = files[i].Name
	}
	return tasks, nil
}

func (l *Loader) build(ctx context.Context, e source.Entry) (models.Task, error) {
	data, err := l.src.Fetch(ctx, e)
	if err != nil {
		return models.Task{}, fmt.Errorf("fetch %s: %w", e.Name, err)
	}
	doc, err := frontmatter.Parse(data)
	if err != nil {
		return models.Task{}, fmt.Errorf("parse %s: %w", e.Name, err)
	}

	id := DeriveID(e.Name)
	t := models.Task{
		ID:          id,
		Title:       id,
		Frontmatter: doc.Frontmatter,
		Content:     doc.Body,
	}
	if err := l.validator.Validate(t); err != nil {
		return models.Task{}, fmt.Errorf("validate %s: %w", e.Name, err)
	}
	return t, nil
}

// DeriveID strips a trailing ".md" (case-sensitive) from a file name.
func DeriveID(name string) string {
	return strings.TrimSuffix(name, ".md")
}
