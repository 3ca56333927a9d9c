// Package ledger tracks asynchronous ingestion tasks through their state machine.
package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
)

const lockStripes = 64

// Service serializes mutations per task id on top of a durable repository.
type Service struct {
	repo   Repository
	locks  [lockStripes]sync.Mutex
	now    func() time.Time
	logger *zap.Logger
}

// New creates a ledger service.
func New(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, now: time.Now, logger: logger}
}

// Register creates a queued task. A duplicate id returns domain.ErrAlreadyExists.
func (s *Service) Register(ctx context.Context, id string, meta map[string]string) (domtask.Task, error) {
	t, err := domtask.New(id, meta, s.now().UTC())
	if err != nil {
		return domtask.Task{}, err
	}

	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.repo.Create(ctx, t); err != nil {
		return domtask.Task{}, fmt.Errorf("register task: %w", err)
	}
	return t, nil
}

// Update applies p to the task. An empty patch is a no-op that still reports not-found.
// Terminal tasks reject updates with domain.ErrTaskTerminal.
func (s *Service) Update(ctx context.Context, id string, p domtask.Patch) (domtask.Task, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("get task: %w", err)
	}
	if p.Empty() {
		return cur, nil
	}

	next, err := cur.Apply(p, s.now().UTC())
	if err != nil {
		return cur, err
	}
	if err := s.repo.Save(ctx, next); err != nil {
		return cur, fmt.Errorf("save task: %w", err)
	}

	if next.Status != cur.Status {
		s.logger.Debug("Task transitioned",
			zap.String("task_id", id),
			zap.String("from", string(cur.Status)),
			zap.String("to", string(next.Status)),
		)
	}
	return next, nil
}

// Get returns the task record or domain.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (domtask.Task, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Clear removes every task record.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.repo.Clear(ctx); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	s.logger.Info("Task ledger cleared")
	return nil
}

// Ping checks the ledger storage.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("ping ledger: %w", err)
	}
	return nil
}

func (s *Service) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}
