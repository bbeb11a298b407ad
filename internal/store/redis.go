package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/starford/taskloader/internal/apperr"
	"github.com/starford/taskloader/internal/models"
)

// stagingTTL bounds how long an abandoned staging hash survives.
const stagingTTL = 10 * time.Minute

// Redis is a Store that keeps the collection in a single hash (id → JSON task).
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis wraps client. prefix namespaces the collection key; the live hash
// is "<prefix>tasks".
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, key: prefix + Collection}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Begin stages into a fresh hash that Commit renames over the live key.
func (r *Redis) Begin(_ context.Context) (Txn, error) {
	return &redisTxn{r: r, staging: r.key + ":staging:" + uuid.NewString()}, nil
}

func (r *Redis) Get(ctx context.Context, id string) (models.Task, error) {
	raw, err := r.client.HGet(ctx, r.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return models.Task{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("store: redis get %s: %w", id, err)
	}
	var t models.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return models.Task{}, fmt.Errorf("store: decode %s: %w", id, err)
	}
	return t, nil
}

func (r *Redis) List(ctx context.Context) ([]models.Task, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis list: %w", err)
	}
	out := make([]models.Task, 0, len(all))
	for id, raw := range all {
		var t models.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", id, err)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Redis) Count(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: redis count: %w", err)
	}
	return int(n), nil
}

type redisTxn struct {
	r       *Redis
	staging string
	staged  int
	done    bool
}

func (tx *redisTxn) Set(ctx context.Context, t models.Task) error {
	if tx.done {
		return ErrTxDone
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", t.ID, err)
	}
	_, err = tx.r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, tx.staging, t.ID, raw)
		p.Expire(ctx, tx.staging, stagingTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: redis stage %s: %w", t.ID, err)
	}
	tx.staged++
	return nil
}

func (tx *redisTxn) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	live := tx.r.key
	_, err := tx.r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if tx.staged == 0 {
			// RENAME needs an existing source key.
			p.Del(ctx, live)
			return nil
		}
		p.Rename(ctx, tx.staging, live)
		p.Persist(ctx, live)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: redis commit: %w", err)
	}
	return nil
}

func (tx *redisTxn) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	if tx.staged == 0 {
		return nil
	}
	return tx.r.client.Del(ctx, tx.staging).Err()
}
