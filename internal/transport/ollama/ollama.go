// Package ollama adapts a local Ollama server, through langchaingo, to the
// embedding and generation contracts of the pipeline.
package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
	"github.com/kailas-cloud/ragdex/internal/metrics"
	"github.com/kailas-cloud/ragdex/internal/prompt"
)

const provider = "ollama"

// Config holds the Ollama connection settings.
type Config struct {
	ServerURL   string
	Model       string
	Dimensions  int
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Logger      *zap.Logger
}

func newLLM(cfg Config) (*ollama.LLM, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.ServerURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init ollama: %w", err)
	}
	return llm, nil
}

// documentEmbedder is the subset of langchaingo's embedder used here.
type documentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder produces unit-length embeddings from an Ollama embedding model.
type Embedder struct {
	inner      documentEmbedder
	model      string
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewEmbedder connects to Ollama and wraps it with langchaingo's embedder.
func NewEmbedder(cfg Config) (*Embedder, error) {
	llm, err := newLLM(cfg)
	if err != nil {
		return nil, err
	}
	inner, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return newEmbedder(inner, cfg), nil
}

func newEmbedder(inner documentEmbedder, cfg Config) *Embedder {
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Embedder{inner: inner, model: cfg.Model, dimensions: cfg.Dimensions, timeout: cfg.Timeout, logger: l}
}

// Embed implements domain.Embedder. Blank text maps to the zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.EmbeddingResult{Embedding: make([]float32, e.dimensions)}, nil
	}
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0]}, nil
}

// BatchEmbed implements domain.BatchEmbedder. Ollama reports no token usage.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	callCtx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	vecs, err := e.inner.EmbedDocuments(callCtx, texts)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, e.model, "api_error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("ollama embed: %w", ctxErr)
		}
		return domain.BatchEmbeddingResult{}, fmt.Errorf("ollama embed: %w: %w", domain.ErrEmbeddingProviderError, err)
	}
	if len(vecs) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, e.model, "count_mismatch").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf(
			"ollama embed: expected %d embeddings, got %d: %w", len(texts), len(vecs), domain.ErrEmbeddingProviderError)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(provider, e.model).Observe(duration.Seconds())

	for i := range vecs {
		vecs[i] = domain.Normalize(vecs[i])
	}
	return domain.BatchEmbeddingResult{Embeddings: vecs}, nil
}

// chatModel is the subset of llms.Model used for generation.
type chatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Generator answers and rewrites queries with an Ollama chat model.
type Generator struct {
	llm         chatModel
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewGenerator connects to Ollama for chat completions.
func NewGenerator(cfg Config) (*Generator, error) {
	llm, err := newLLM(cfg)
	if err != nil {
		return nil, err
	}
	return newGenerator(llm, cfg), nil
}

func newGenerator(llm chatModel, cfg Config) *Generator {
	g := &Generator{
		llm:         llm,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
	if g.temperature == 0 {
		g.temperature = prompt.GenerateTemperature
	}
	if g.maxTokens <= 0 {
		g.maxTokens = prompt.GenerateMaxTokens
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

func grounded(question string, chunks []chunk.Chunk) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, prompt.System),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt.User(question, chunks)),
	}
}

// Generate returns a grounded answer. Empty context yields the fixed refusal.
func (g *Generator) Generate(ctx context.Context, question string, chunks []chunk.Chunk) (string, error) {
	if len(chunks) == 0 {
		return domain.RefusalAnswer, nil
	}
	return g.complete(ctx, "generate", grounded(question, chunks),
		llms.WithTemperature(g.temperature), llms.WithMaxTokens(g.maxTokens))
}

// GenerateStream yields fragments through langchaingo's streaming callback.
func (g *Generator) GenerateStream(
	ctx context.Context, question string, chunks []chunk.Chunk, yield func(string) error,
) error {
	if len(chunks) == 0 {
		return yield(domain.RefusalAnswer)
	}

	var yieldErr error
	_, err := g.complete(ctx, "stream", grounded(question, chunks),
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(g.maxTokens),
		llms.WithStreamingFunc(func(_ context.Context, fragment []byte) error {
			if len(fragment) == 0 {
				return nil
			}
			if e := yield(string(fragment)); e != nil {
				yieldErr = e
				return e
			}
			return nil
		}),
	)
	if yieldErr != nil {
		return yieldErr
	}
	return err
}

// Rewrite turns a conversational question into a concise retrieval query.
func (g *Generator) Rewrite(ctx context.Context, query string) (string, error) {
	return g.complete(ctx, "rewrite", []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, prompt.Rewrite),
		llms.TextParts(llms.ChatMessageTypeHuman, query),
	}, llms.WithTemperature(prompt.RewriteTemperature), llms.WithMaxTokens(prompt.RewriteMaxTokens))
}

func (g *Generator) complete(
	ctx context.Context, kind string, messages []llms.MessageContent, opts ...llms.CallOption,
) (string, error) {
	callCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.llm.GenerateContent(callCtx, messages, opts...)

	status := "success"
	if err != nil || resp == nil || len(resp.Choices) == 0 {
		status = "error"
	}
	metrics.GenerationRequestsTotal.WithLabelValues(provider, g.model, kind, status).Inc()
	metrics.GenerationRequestDuration.WithLabelValues(provider, g.model, kind).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("ollama %s: %w", kind, ctxErr)
		}
		g.logger.Debug("Ollama request failed", zap.String("kind", kind), zap.Error(err))
		return "", fmt.Errorf("ollama %s: %w: %w", kind, domain.ErrGenerationProviderError, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama %s: empty response: %w", kind, domain.ErrGenerationProviderError)
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
