// Package taskservice exposes read and reload operations over the loaded
// tasks collection to the HTTP and MCP front ends.
package taskservice

import (
	"context"
	"encoding/json"

	"github.com/starford/taskloader/internal/checksum"
	"github.com/starford/taskloader/internal/loader"
	"github.com/starford/taskloader/internal/models"
	"github.com/starford/taskloader/internal/render"
	"github.com/starford/taskloader/internal/store"
)

// TaskDetail is a task with its ETag.
type TaskDetail struct {
	models.Task
	ETag string `json:"-"`
}

// Service coordinates the store and the loader.
type Service struct {
	store  store.Store
	loader *loader.Loader
}

// NewService creates a new task service.
func NewService(st store.Store, ld *loader.Loader) *Service {
	return &Service{store: st, loader: ld}
}

// ListTasks returns every task ordered by id.
func (s *Service) ListTasks(ctx context.Context) ([]models.Task, error) {
	return s.store.List(ctx)
}

// GetTask returns one task; apperr.ErrNotFound when missing.
func (s *Service) GetTask(ctx context.Context, id string) (*TaskDetail, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{Task: t, ETag: checksum.Sum(raw)}, nil
}

// RenderTask returns the task content as HTML.
func (s *Service) RenderTask(ctx context.Context, id string) (string, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return render.HTML(t.Content)
}

// Reload runs a load unless one is already in progress, in which case it
// returns apperr.ErrLoadRunning.
func (s *Service) Reload(ctx context.Context) (*loader.Result, error) {
	return s.loader.TryLoad(ctx)
}
