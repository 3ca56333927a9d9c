package health

import "context"

// Pinger checks storage availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// ChunkCounter reports the size of the in-memory corpus.
type ChunkCounter interface {
	ChunkCount() int
}
