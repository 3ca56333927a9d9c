package ragdex

import "context"

// Embedder converts text to vector embeddings. Required.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single API call.
// Optional: if the provided Embedder also implements BatchEmbedder,
// ingestion will use it for significantly better throughput.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token counts.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// Generator answers a question grounded on retrieved chunks.
// Without a Generator, queries return the retrieved chunks with a fixed notice.
type Generator interface {
	Generate(ctx context.Context, question string, chunks []Chunk) (string, error)
	GenerateStream(ctx context.Context, question string, chunks []Chunk, yield func(string) error) error
}

// Rewriter reformulates a user question into a retrieval query. Optional.
type Rewriter interface {
	Rewrite(ctx context.Context, question string) (string, error)
}

// Extractor turns raw file bytes into plain text and a source type.
// The default extractor handles pdf, docx, xlsx, markdown, html, xml and plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (text, sourceType string, err error)
}
