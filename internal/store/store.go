// Package store holds the loaded tasks collection behind a transactional
// replace-all interface.
package store

import (
	"context"
	"errors"

	"github.com/starford/taskloader/internal/models"
)

// Collection is the name of the collection every backend stores tasks under.
const Collection = "tasks"

// ErrTxDone is returned when a transaction is used after Commit or Rollback.
var ErrTxDone = errors.New("store: transaction already finished")

// Store is a keyed collection of tasks.
//
// Writes only happen through a Txn. A transaction starts from an empty
// staging set and Commit replaces the whole collection with it, so readers
// observe either the previous collection or the new one, never a mix.
type Store interface {
	Begin(ctx context.Context) (Txn, error)
	// Get returns apperr.ErrNotFound when id is not present.
	Get(ctx context.Context, id string) (models.Task, error)
	// List returns every task ordered by ID.
	List(ctx context.Context) ([]models.Task, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Txn stages a replacement collection.
type Txn interface {
	Set(ctx context.Context, t models.Task) error
	Commit(ctx context.Context) error
	// Rollback discards staged tasks. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// Replace stages tasks in a single transaction and commits them.
func Replace(ctx context.Context, s Store, tasks []models.Task) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, t := range tasks {
		if err := tx.Set(ctx, t); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
