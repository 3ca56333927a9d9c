package ledger

import (
	"context"

	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
)

// Repository defines the durable storage contract for ingestion tasks.
type Repository interface {
	Create(ctx context.Context, t domtask.Task) error
	Get(ctx context.Context, id string) (domtask.Task, error)
	Save(ctx context.Context, t domtask.Task) error
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
}
