package pipeline

import (
	"context"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
)

// ChunkStore is the in-memory corpus owned by the pipeline.
type ChunkStore interface {
	Commit(doc domain.Document, chunks []chunk.Chunk)
	Snapshot() []chunk.Chunk
	Clear()
	DeleteSource(source string) (int, error)
	Len() int
	Documents() []domain.Document
	Stats() domain.Stats
}

// Extractor turns raw file bytes into plain text.
// Empty text means nothing could be extracted.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (text, sourceType string, err error)
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Generator answers a question grounded on retrieved chunks.
type Generator interface {
	Generate(ctx context.Context, question string, chunks []chunk.Chunk) (string, error)
	GenerateStream(ctx context.Context, question string, chunks []chunk.Chunk, yield func(string) error) error
}

// Rewriter reformulates a user question into a retrieval query.
type Rewriter interface {
	Rewrite(ctx context.Context, query string) (string, error)
}
