package store

import (
	"context"
	"sort"
	"sync"

	"github.com/starford/taskloader/internal/apperr"
	"github.com/starford/taskloader/internal/models"
)

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]models.Task
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]models.Task)}
}

func (m *Memory) Begin(_ context.Context) (Txn, error) {
	return &memoryTxn{m: m, staged: make(map[string]models.Task)}, nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.Task{}, apperr.ErrNotFound
	}
	return t, nil
}

func (m *Memory) List(_ context.Context) ([]models.Task, error) {
	m.mu.RLock()
	out := make([]models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks), nil
}

func (m *Memory) Close() error { return nil }

type memoryTxn struct {
	m      *Memory
	staged map[string]models.Task
	done   bool
}

func (tx *memoryTxn) Set(_ context.Context, t models.Task) error {
	if tx.done {
		return ErrTxDone
	}
	tx.staged[t.ID] = t
	return nil
}

func (tx *memoryTxn) Commit(_ context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.m.mu.Lock()
	tx.m.tasks = tx.staged
	tx.m.mu.Unlock()
	return nil
}

func (tx *memoryTxn) Rollback(_ context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.staged = nil
	return nil
}
