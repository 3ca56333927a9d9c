package ingest

import (
	"context"

	"github.com/kailas-cloud/ragdex/internal/domain"
	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
	"github.com/kailas-cloud/ragdex/internal/usecase/pipeline"
)

// Pipeline runs one ingestion attempt.
type Pipeline interface {
	AddDocument(ctx context.Context, data []byte, filename string, opts pipeline.IngestOptions) (domain.IngestResult, error)
	AddText(ctx context.Context, raw, source, sourceType string, opts pipeline.IngestOptions) (domain.IngestResult, error)
}

// Ledger records task state.
type Ledger interface {
	Register(ctx context.Context, id string, meta map[string]string) (domtask.Task, error)
	Update(ctx context.Context, id string, p domtask.Patch) (domtask.Task, error)
}

// Fetcher downloads a web page as plain text.
type Fetcher interface {
	// Check normalizes rawURL and rejects unsafe destinations with domain.ErrUnsafeURL.
	Check(ctx context.Context, rawURL string) (string, error)
	FetchText(ctx context.Context, rawURL string) (string, error)
}
