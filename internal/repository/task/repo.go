// Package task persists ingestion task records in the Redis/Valkey hash store.
package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/ragdex/internal/db"
	"github.com/kailas-cloud/ragdex/internal/domain"
	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
)

// DefaultKeyPrefix namespaces task hashes.
const DefaultKeyPrefix = "ragdex:task:"

const delBatch = 500

// store is the consumer interface for task records (ISP).
type store interface {
	Ping(ctx context.Context) error
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HSetIfExists(ctx context.Context, key, guard string, fields map[string]string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo stores one hash per task.
type Repo struct {
	store  store
	prefix string
}

// New creates a task repository. An empty prefix falls back to DefaultKeyPrefix.
func New(s store, prefix string) *Repo {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Repo{store: s, prefix: prefix}
}

// Create inserts a task; an existing id yields domain.ErrAlreadyExists.
// The id field is claimed with HSETNX first so two concurrent creates cannot both win.
func (r *Repo) Create(ctx context.Context, t domtask.Task) error {
	key := r.key(t.ID)

	claimed, err := r.store.HSetNX(ctx, key, fieldID, t.ID)
	if err != nil {
		return fmt.Errorf("claim task %s: %w", t.ID, err)
	}
	if !claimed {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrAlreadyExists)
	}

	fields, err := taskToHash(t)
	if err != nil {
		return err
	}
	if err := r.store.HSet(ctx, key, fields); err != nil {
		if delErr := r.store.Del(ctx, key); delErr != nil {
			return errors.Join(fmt.Errorf("save task %s: %w", t.ID, err), delErr)
		}
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// Get loads a task by id.
func (r *Repo) Get(ctx context.Context, id string) (domtask.Task, error) {
	m, err := r.store.HGetAll(ctx, r.key(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domtask.Task{}, domain.ErrNotFound
		}
		return domtask.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	// a claimed id without status is a create still in flight
	if m[fieldStatus] == "" {
		return domtask.Task{}, domain.ErrNotFound
	}

	t, err := taskFromHash(m)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return t, nil
}

// Save overwrites the mutable fields of an existing task. The write is guarded by
// the claimed id field, so a record removed by Clear is not brought back:
// domain.ErrNotFound is returned instead.
func (r *Repo) Save(ctx context.Context, t domtask.Task) error {
	fields, err := taskToHash(t)
	if err != nil {
		return err
	}
	delete(fields, fieldCreatedAt)
	delete(fields, fieldID)
	written, err := r.store.HSetIfExists(ctx, r.key(t.ID), fieldID, fields)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	if !written {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

// Clear deletes every task record under the prefix.
func (r *Repo) Clear(ctx context.Context) error {
	keys, err := r.store.Scan(ctx, r.prefix+"*")
	if err != nil {
		return fmt.Errorf("scan tasks: %w", err)
	}
	for start := 0; start < len(keys); start += delBatch {
		end := min(start+delBatch, len(keys))
		if err := r.store.Del(ctx, keys[start:end]...); err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
	}
	return nil
}

// Ping checks the backing store.
func (r *Repo) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Close is a no-op; the shared store is closed by its owner.
func (r *Repo) Close() error { return nil }

func (r *Repo) key(id string) string {
	return r.prefix + id
}
