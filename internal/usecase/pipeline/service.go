// Package pipeline orchestrates ingestion (extract, chunk, embed, commit) and
// query answering (rewrite, embed, retrieve, generate) over the chunk store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/domain/text"
	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/metrics"
)

// DefaultEmbedBatchSize is how many chunks are embedded per provider call during ingestion.
const DefaultEmbedBatchSize = 32

// Ingestion modes used as metric labels.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
	ModeURL   = "url"
)

// Progress checkpoints reported during ingestion.
const (
	progressExtracted = 20
	progressChunked   = 30
	progressEmbedded  = 90
)

// Config holds chunking and retrieval parameters.
type Config struct {
	Chunking  chunk.Params
	Retrieval retrieval.Options
}

// DefaultConfig returns the stock chunking and retrieval parameters.
func DefaultConfig() Config {
	return Config{
		Chunking:  chunk.DefaultParams(),
		Retrieval: retrieval.DefaultOptions(),
	}
}

// Deps are the collaborators of the pipeline. Generator and Rewriter are optional;
// QueryEmbedder defaults to DocEmbedder.
type Deps struct {
	Store         ChunkStore
	Extractor     Extractor
	DocEmbedder   Embedder
	QueryEmbedder Embedder
	Generator     Generator
	Rewriter      Rewriter
}

// ProgressFunc receives ingestion progress in percent.
type ProgressFunc func(percent int)

// IngestOptions tune a single ingestion attempt.
type IngestOptions struct {
	Mode     string
	Progress ProgressFunc
}

func (o IngestOptions) mode() string {
	if o.Mode == "" {
		return ModeSync
	}
	return o.Mode
}

func (o IngestOptions) report(p int) {
	if o.Progress != nil {
		o.Progress(p)
	}
}

// Service is the pipeline orchestrator. The chunk store is its only shared mutable state.
type Service struct {
	store          ChunkStore
	extractor      Extractor
	docEmbedder    Embedder
	queryEmbedder  Embedder
	generator      Generator
	rewriter       Rewriter
	splitter       *chunk.Splitter
	retrieval      retrieval.Options
	embedBatchSize int
	now            func() time.Time
	logger         *zap.Logger
}

// New creates a pipeline service.
func New(deps Deps, cfg Config, log *zap.Logger) (*Service, error) {
	if deps.Store == nil || deps.DocEmbedder == nil {
		return nil, fmt.Errorf("pipeline requires a chunk store and an embedder: %w", domain.ErrInvalidInput)
	}
	splitter, err := chunk.NewSplitter(cfg.Chunking)
	if err != nil {
		return nil, fmt.Errorf("chunking: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	queryEmbedder := deps.QueryEmbedder
	if queryEmbedder == nil {
		queryEmbedder = deps.DocEmbedder
	}
	return &Service{
		store:          deps.Store,
		extractor:      deps.Extractor,
		docEmbedder:    deps.DocEmbedder,
		queryEmbedder:  queryEmbedder,
		generator:      deps.Generator,
		rewriter:       deps.Rewriter,
		splitter:       splitter,
		retrieval:      cfg.Retrieval,
		embedBatchSize: DefaultEmbedBatchSize,
		now:            time.Now,
		logger:         log,
	}, nil
}

// WithEmbedBatchSize overrides how many chunks go into one embedding call.
func (s *Service) WithEmbedBatchSize(n int) *Service {
	if n > 0 {
		s.embedBatchSize = n
	}
	return s
}

// AddDocument extracts text from raw file bytes and ingests it.
// A document without extractable text yields an "empty" result and no error.
func (s *Service) AddDocument(
	ctx context.Context, data []byte, filename string, opts IngestOptions,
) (domain.IngestResult, error) {
	if filename == "" {
		return domain.IngestResult{}, fmt.Errorf("filename is required: %w", domain.ErrInvalidInput)
	}
	if s.extractor == nil {
		return domain.IngestResult{}, fmt.Errorf("no extractor configured: %w", domain.ErrUnsupportedFormat)
	}

	start := time.Now()
	raw, sourceType, err := s.extractor.Extract(ctx, data, filename)
	if err != nil {
		s.observeIngest(opts.mode(), domain.IngestStatusFailed, start)
		return domain.IngestResult{
			Status:   domain.IngestStatusFailed,
			Filename: filename,
		}, fmt.Errorf("extract %s: %w", filename, err)
	}
	opts.report(progressExtracted)

	return s.ingest(ctx, raw, filename, sourceType, opts, start)
}

// AddText ingests already extracted text under the given source name.
func (s *Service) AddText(
	ctx context.Context, raw, source, sourceType string, opts IngestOptions,
) (domain.IngestResult, error) {
	if source == "" {
		return domain.IngestResult{}, fmt.Errorf("source is required: %w", domain.ErrInvalidInput)
	}
	opts.report(progressExtracted)
	return s.ingest(ctx, raw, source, sourceType, opts, time.Now())
}

func (s *Service) ingest(
	ctx context.Context, raw, source, sourceType string, opts IngestOptions, start time.Time,
) (domain.IngestResult, error) {
	log := logger.FromContextOr(ctx, s.logger)
	mode := opts.mode()

	canonical := text.Normalize(raw)
	res := domain.IngestResult{
		Filename:   source,
		SourceType: sourceType,
		CharCount:  utf8.RuneCountInString(canonical),
	}

	chunks := s.splitter.Split(canonical, source)
	if len(chunks) == 0 {
		res.Status = domain.IngestStatusEmpty
		s.observeIngest(mode, res.Status, start)
		log.Info("No extractable text",
			zap.String("source", source),
			zap.String("source_type", sourceType),
			zap.Int("char_count", res.CharCount),
		)
		return res, nil
	}
	opts.report(progressChunked)

	if err := s.embedChunks(ctx, chunks, opts); err != nil {
		res.Status = domain.IngestStatusFailed
		s.observeIngest(mode, res.Status, start)
		return res, fmt.Errorf("embed %s: %w", source, err)
	}

	s.store.Commit(domain.Document{
		Filename:   source,
		SourceType: sourceType,
		CharCount:  res.CharCount,
		Chunks:     len(chunks),
		IngestedAt: s.now(),
	}, chunks)

	res.Status = domain.IngestStatusProcessed
	res.ChunksCreated = len(chunks)

	metrics.ChunksCommittedTotal.Add(float64(len(chunks)))
	metrics.StoreChunks.Set(float64(s.store.Len()))
	s.observeIngest(mode, res.Status, start)

	log.Info("Document ingested",
		zap.String("source", source),
		zap.String("source_type", sourceType),
		zap.Int("chunks", len(chunks)),
		zap.Int("char_count", res.CharCount),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// embedChunks fills chunk embeddings in place. No lock is held while the provider is called.
func (s *Service) embedChunks(ctx context.Context, chunks []chunk.Chunk, opts IngestOptions) error {
	total := len(chunks)
	for offset := 0; offset < total; offset += s.embedBatchSize {
		end := min(offset+s.embedBatchSize, total)

		texts := make([]string, 0, end-offset)
		for _, c := range chunks[offset:end] {
			texts = append(texts, c.Text)
		}

		res, err := s.batchEmbed(ctx, texts)
		if err != nil {
			return err
		}
		if len(res.Embeddings) != len(texts) {
			return fmt.Errorf("expected %d embeddings, got %d: %w",
				len(texts), len(res.Embeddings), domain.ErrEmbeddingProviderError)
		}
		for i, emb := range res.Embeddings {
			chunks[offset+i].Embedding = emb
		}

		opts.report(progressChunked + (progressEmbedded-progressChunked)*end/total)
	}
	return nil
}

func (s *Service) batchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := s.docEmbedder.(domain.BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}
		return res, nil
	}
	res, err := domain.BatchFallback(ctx, s.docEmbedder, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return res, nil
}

func (s *Service) observeIngest(mode, outcome string, start time.Time) {
	metrics.IngestionJobsTotal.WithLabelValues(mode, outcome).Inc()
	metrics.IngestionDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// Clear atomically empties the chunk store.
func (s *Service) Clear(ctx context.Context) {
	s.store.Clear()
	metrics.StoreChunks.Set(0)
	logger.FromContextOr(ctx, s.logger).Info("Chunk store cleared")
}

// DeleteSource removes every chunk of one source.
func (s *Service) DeleteSource(ctx context.Context, source string) (int, error) {
	n, err := s.store.DeleteSource(source)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("source %q: %w", source, err)
		}
		return 0, fmt.Errorf("delete source: %w", err)
	}
	metrics.StoreChunks.Set(float64(s.store.Len()))
	logger.FromContextOr(ctx, s.logger).Info("Source deleted",
		zap.String("source", source),
		zap.Int("chunks", n),
	)
	return n, nil
}

// Stats summarizes the current corpus.
func (s *Service) Stats() domain.Stats {
	return s.store.Stats()
}

// Documents lists ingested sources.
func (s *Service) Documents() []domain.Document {
	return s.store.Documents()
}

// ChunkCount returns the number of stored chunks.
func (s *Service) ChunkCount() int {
	return s.store.Len()
}
