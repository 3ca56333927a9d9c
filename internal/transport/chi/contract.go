package chi

import (
	"context"

	"github.com/kailas-cloud/ragdex/internal/domain"
	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	"github.com/kailas-cloud/ragdex/internal/usecase/pipeline"
)

// Pipeline is the synchronous ingestion and query surface.
type Pipeline interface {
	AddDocument(ctx context.Context, data []byte, filename string, opts pipeline.IngestOptions) (domain.IngestResult, error)
	Query(ctx context.Context, question string) (pipeline.Answer, error)
	QueryStream(ctx context.Context, question string, emit func(pipeline.StreamEvent) error) error
	Clear(ctx context.Context)
	DeleteSource(ctx context.Context, source string) (int, error)
	Stats() domain.Stats
}

// Ingestor accepts background ingestion jobs.
type Ingestor interface {
	SubmitFile(ctx context.Context, data []byte, filename string) (string, error)
	SubmitURL(ctx context.Context, rawURL string) (string, error)
}

// Tasks reads and clears the job ledger.
type Tasks interface {
	Get(ctx context.Context, id string) (domtask.Task, error)
	Clear(ctx context.Context) error
}

// HealthChecker aggregates component checks.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
