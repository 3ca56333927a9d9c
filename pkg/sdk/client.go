package ragdex

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/db"
	dbRedis "github.com/kailas-cloud/ragdex/internal/db/redis"
	dbValkey "github.com/kailas-cloud/ragdex/internal/db/valkey"
	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
	"github.com/kailas-cloud/ragdex/internal/extract"
	"github.com/kailas-cloud/ragdex/internal/repository/chunkstore"
	"github.com/kailas-cloud/ragdex/internal/repository/embcache"
	"github.com/kailas-cloud/ragdex/internal/usecase/pipeline"
)

const defaultReadinessTimeout = 10 * time.Second

// Внутренний интерфейс для подмены в тестах.
type pipelineService interface {
	AddDocument(ctx context.Context, data []byte, filename string, opts pipeline.IngestOptions) (domain.IngestResult, error)
	AddText(ctx context.Context, raw, source, sourceType string, opts pipeline.IngestOptions) (domain.IngestResult, error)
	Query(ctx context.Context, question string) (pipeline.Answer, error)
	QueryStream(ctx context.Context, question string, emit func(pipeline.StreamEvent) error) error
	Clear(ctx context.Context)
	DeleteSource(ctx context.Context, source string) (int, error)
	Stats() domain.Stats
}

// Client is the ragdex SDK entry point. It is safe for concurrent use.
type Client struct {
	store db.Store
	svc   pipelineService
	obs   *observer
}

// New creates a ragdex Client.
// The provided context is used for the readiness check of the optional embedding cache.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.embedder == nil {
		return nil, errors.New("ragdex: embedder required (use WithEmbedder)")
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	var docEmb domain.Embedder = &embedderAdapter{inner: cfg.embedder}
	var store db.Store
	if len(cfg.addrs) > 0 {
		store, err = createStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			store.Close()
			return nil, fmt.Errorf("ragdex: cache not ready: %w", err)
		}
		docEmb = embcache.New(docEmb, store, cfg.model, cfg.cacheTTL, nil, zap.NewNop())
	}

	svc, err := wirePipeline(cfg, docEmb)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	return &Client{store: store, svc: svc, obs: obs}, nil
}

func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "valkey":
		s, err := dbValkey.NewStore(dbValkey.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("ragdex: create valkey store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("ragdex: create redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("ragdex: unknown driver %q", cfg.driver)
	}
}

func wirePipeline(cfg *clientConfig, docEmb domain.Embedder) (*pipeline.Service, error) {
	deps := pipeline.Deps{
		Store:       chunkstore.New(),
		Extractor:   cfg.extractor,
		DocEmbedder: docEmb,
		Rewriter:    cfg.rewriter,
	}
	if cfg.extractor == nil {
		deps.Extractor = extract.New(zap.NewNop())
	}
	if cfg.queryEmbedder != nil {
		deps.QueryEmbedder = &embedderAdapter{inner: cfg.queryEmbedder}
	}
	if cfg.generator != nil {
		deps.Generator = &generatorAdapter{inner: cfg.generator}
	}

	svc, err := pipeline.New(deps, pipelineConfig(cfg), zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("ragdex: %w", err)
	}
	return svc, nil
}

// pipelineConfig overlays non-zero user parameters on the defaults.
func pipelineConfig(cfg *clientConfig) pipeline.Config {
	pc := pipeline.DefaultConfig()
	if p := cfg.chunking; p != nil {
		overlay(&pc.Chunking.MinSize, p.MinSize)
		overlay(&pc.Chunking.MaxSize, p.MaxSize)
		overlay(&pc.Chunking.Overlap, p.Overlap)
		overlay(&pc.Chunking.MinChunkChars, p.MinChunkChars)
		overlay(&pc.Chunking.MinSliceChars, p.MinSliceChars)
	}
	if o := cfg.retrieval; o != nil {
		overlay(&pc.Retrieval.TopK, o.TopK)
		overlay(&pc.Retrieval.Threshold, o.Threshold)
		overlay(&pc.Retrieval.SemanticWeight, o.SemanticWeight)
	}
	return pc
}

func overlay[T int | float64](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// AddDocument extracts, chunks and embeds a file. Re-adding a filename replaces its chunks.
// A file without extractable text yields Status "empty" and no error.
func (c *Client) AddDocument(ctx context.Context, data []byte, filename string) (res IngestResult, err error) {
	start := time.Now()
	defer func() { c.obs.observe("add_document", start, err, "filename", filename) }()

	r, err := c.svc.AddDocument(ctx, data, filename, pipeline.IngestOptions{})
	if err != nil {
		return IngestResult{}, fmt.Errorf("add document: %w", err)
	}
	return toIngestResult(r), nil
}

// AddText ingests already extracted text under the given source name.
func (c *Client) AddText(ctx context.Context, text, source string) (res IngestResult, err error) {
	start := time.Now()
	defer func() { c.obs.observe("add_text", start, err, "source", source) }()

	r, err := c.svc.AddText(ctx, text, source, domain.SourceTypeText, pipeline.IngestOptions{})
	if err != nil {
		return IngestResult{}, fmt.Errorf("add text: %w", err)
	}
	return toIngestResult(r), nil
}

// Query answers a question from the current corpus.
// Provider failures degrade to fixed answers; only cancellation is returned as an error.
func (c *Client) Query(ctx context.Context, question string) (ans Answer, err error) {
	start := time.Now()
	defer func() { c.obs.observe("query", start, err) }()

	a, err := c.svc.Query(ctx, question)
	if err != nil {
		return Answer{}, fmt.Errorf("query: %w", err)
	}
	return Answer{
		Answer:    a.Answer,
		Citations: toCitations(a.Chunks),
		Outcome:   a.Outcome,
	}, nil
}

// QueryStream answers a question incrementally. emit receives one chunks event,
// then token events, then done. An error from emit stops the stream and is returned.
func (c *Client) QueryStream(ctx context.Context, question string, emit func(StreamEvent) error) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("query_stream", start, err) }()

	return c.svc.QueryStream(ctx, question, func(ev pipeline.StreamEvent) error {
		return emit(StreamEvent{
			Type:      ev.Type,
			Citations: toCitations(ev.Chunks),
			Token:     ev.Token,
		})
	})
}

// Clear removes every document and chunk.
func (c *Client) Clear(ctx context.Context) {
	start := time.Now()
	c.svc.Clear(ctx)
	c.obs.observe("clear", start, nil)
}

// DeleteSource removes every chunk of one source and returns how many were removed.
// Unknown sources return ErrNotFound.
func (c *Client) DeleteSource(ctx context.Context, source string) (n int, err error) {
	start := time.Now()
	defer func() { c.obs.observe("delete_source", start, err, "source", source) }()

	return c.svc.DeleteSource(ctx, source)
}

// Stats summarizes the corpus.
func (c *Client) Stats() Stats {
	s := c.svc.Stats()
	return Stats{
		Documents:   s.Documents,
		Chunks:      s.Chunks,
		SourceTypes: maps.Clone(s.SourceTypes),
	}
}

func toIngestResult(r domain.IngestResult) IngestResult {
	return IngestResult{
		Status:        r.Status,
		Filename:      r.Filename,
		SourceType:    r.SourceType,
		ChunksCreated: r.ChunksCreated,
		CharCount:     r.CharCount,
	}
}

func toCitations(in []pipeline.Citation) []Citation {
	if in == nil {
		return nil
	}
	out := make([]Citation, len(in))
	for i, c := range in {
		out[i] = Citation{Source: c.Source, Index: c.Index, Text: c.Text, Score: c.Score}
	}
	return out
}

// embedderAdapter wraps public Embedder to satisfy internal domain.Embedder and domain.BatchEmbedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, providerError(ctx, err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

func (a *embedderAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	be, ok := a.inner.(BatchEmbedder)
	if !ok {
		return domain.BatchFallback(ctx, a, texts)
	}
	r, err := be.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, providerError(ctx, err)
	}
	if len(r.Embeddings) != len(texts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: got %d vectors for %d texts: %w",
			len(r.Embeddings), len(texts), domain.ErrEmbeddingProviderError)
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   r.Embeddings,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

func providerError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("embed: %w", err)
	}
	return fmt.Errorf("embed: %w: %w", domain.ErrEmbeddingProviderError, err)
}

// generatorAdapter wraps public Generator to satisfy pipeline.Generator.
type generatorAdapter struct {
	inner Generator
}

func (a *generatorAdapter) Generate(ctx context.Context, question string, chunks []chunk.Chunk) (string, error) {
	return a.inner.Generate(ctx, question, toPublicChunks(chunks))
}

func (a *generatorAdapter) GenerateStream(
	ctx context.Context, question string, chunks []chunk.Chunk, yield func(string) error,
) error {
	return a.inner.GenerateStream(ctx, question, toPublicChunks(chunks), yield)
}

func toPublicChunks(in []chunk.Chunk) []Chunk {
	out := make([]Chunk, len(in))
	for i, c := range in {
		out[i] = Chunk{Source: c.SourceID, Index: c.Index, Text: c.Text}
	}
	return out
}
