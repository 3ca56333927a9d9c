package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/config"
	"github.com/kailas-cloud/ragdex/internal/db"
	dbRedis "github.com/kailas-cloud/ragdex/internal/db/redis"
	dbValkey "github.com/kailas-cloud/ragdex/internal/db/valkey"
	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/extract"
	"github.com/kailas-cloud/ragdex/internal/metrics"
	"github.com/kailas-cloud/ragdex/internal/repository/chunkstore"
	"github.com/kailas-cloud/ragdex/internal/repository/embcache"
	taskrepo "github.com/kailas-cloud/ragdex/internal/repository/task"
	taskpg "github.com/kailas-cloud/ragdex/internal/repository/task/postgres"
	tasksqlite "github.com/kailas-cloud/ragdex/internal/repository/task/sqlite"
	ollamaTransport "github.com/kailas-cloud/ragdex/internal/transport/ollama"
	openaiTransport "github.com/kailas-cloud/ragdex/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/ragdex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	ledgeruc "github.com/kailas-cloud/ragdex/internal/usecase/ledger"
	"github.com/kailas-cloud/ragdex/internal/usecase/pipeline"
)

// app holds the components shared by serve and ask.
type app struct {
	store     db.Store // nil when no key-value store is configured
	pipeline  *pipeline.Service
	embedding healthuc.EmbeddingChecker
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// buildApp is the composition root for the pipeline and its providers.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}

	if cfg.Database.Enabled() {
		store, err := openStore(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.store = store
		logger.Info("Connected to database",
			zap.String("driver", cfg.Database.Driver),
			zap.Strings("addrs", cfg.Database.Addrs),
		)
	}

	inst, err := buildBaseEmbedder(cfg.Embedding, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.embedding = inst

	var embedder domain.Embedder = inst
	if cfg.Embedding.Cache && a.store != nil {
		ttl := time.Duration(cfg.Embedding.CacheTTLHours) * time.Hour
		embedder = embcache.New(inst, a.store, cfg.Embedding.Model, ttl, metrics.EmbeddingCacheTotal, logger)
	}

	deps := pipeline.Deps{
		Store:         chunkstore.New(),
		Extractor:     extract.New(logger),
		DocEmbedder:   withInstruction(embedder, cfg.Embedding.DocumentInstruction),
		QueryEmbedder: withInstruction(embedder, cfg.Embedding.QueryInstruction),
	}

	if cfg.Generation.Enabled() {
		gen, rewriter, err := buildGenerator(cfg.Generation, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		deps.Generator = gen
		if cfg.Generation.Rewrite {
			deps.Rewriter = rewriter
		}
	}

	svc, err := pipeline.New(deps, pipelineConfig(cfg), logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	a.pipeline = svc.WithEmbedBatchSize(cfg.Embedding.BatchSize)

	logger.Info("Pipeline ready",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.Bool("embedding_cache", cfg.Embedding.Cache && a.store != nil),
		zap.String("generation_model", cfg.Generation.Model),
		zap.Bool("rewrite", deps.Rewriter != nil),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	switch cfg.Driver {
	case config.DriverValkey:
		store, err = dbValkey.NewStore(dbValkey.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
	case config.DriverRedis:
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
		})
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", cfg.Driver, err)
	}

	if err := store.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("database not ready: %w", err)
	}
	return store, nil
}

// buildBaseEmbedder assembles provider -> Instrumented. Cache and instruction prefixes wrap it.
func buildBaseEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (*embeddinguc.InstrumentedEmbedder, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	var base domain.Embedder
	switch cfg.Provider {
	case config.ProviderOpenAI:
		base = openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Provider:   cfg.Provider,
			Timeout:    timeout,
			Logger:     logger,
		})
	case config.ProviderOllama:
		e, err := ollamaTransport.NewEmbedder(ollamaTransport.Config{
			ServerURL:  cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    timeout,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
		base = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	return embeddinguc.NewInstrumentedEmbedder(base, cfg.Provider, cfg.Model, logger).
		WithMaxBatchSize(cfg.BatchSize), nil
}

// withInstruction is the outermost decorator, so cache keys include the instruction.
func withInstruction(e domain.Embedder, instruction string) domain.Embedder {
	if instruction == "" {
		return e
	}
	return domain.NewInstructionEmbedder(e, instruction)
}

// rewritingGenerator is what both providers implement.
type rewritingGenerator interface {
	pipeline.Generator
	pipeline.Rewriter
}

func buildGenerator(cfg config.GenerationConfig, logger *zap.Logger) (pipeline.Generator, pipeline.Rewriter, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	var gen rewritingGenerator
	switch cfg.Provider {
	case config.ProviderOpenAI:
		gen = openaiTransport.NewGenerator(&openaiTransport.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Provider:    cfg.Provider,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     timeout,
			Logger:      logger,
		}).WithRewriteMaxTokens(cfg.RewriteMaxTokens)
	case config.ProviderOllama:
		g, err := ollamaTransport.NewGenerator(ollamaTransport.Config{
			ServerURL:   cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: float64(cfg.Temperature),
			MaxTokens:   cfg.MaxTokens,
			Timeout:     timeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create ollama generator: %w", err)
		}
		gen = g
	default:
		return nil, nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	return gen, gen, nil
}

func pipelineConfig(cfg config.Config) pipeline.Config {
	return pipeline.Config{
		Chunking: chunk.Params{
			MinSize:       cfg.Chunking.MinSize,
			MaxSize:       cfg.Chunking.MaxSize,
			Overlap:       cfg.Chunking.Overlap,
			MinChunkChars: cfg.Chunking.MinChunkChars,
			MinSliceChars: cfg.Chunking.MinSliceChars,
		},
		Retrieval: retrieval.Options{
			TopK:           cfg.Retrieval.TopK,
			Threshold:      cfg.Retrieval.Threshold,
			SemanticWeight: cfg.Retrieval.SemanticWeight,
		},
	}
}

// ledgerRepo is a task repository that owns a connection.
type ledgerRepo interface {
	ledgeruc.Repository
	Close() error
}

func openLedger(ctx context.Context, cfg config.LedgerConfig, store db.Store) (ledgerRepo, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		r, err := tasksqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return r, nil
	case config.DriverPostgres:
		r, err := taskpg.Open(ctx, taskpg.Config{DSN: cfg.PostgresDSN, Debug: cfg.Debug})
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return r, nil
	case config.DriverRedis:
		if store == nil {
			return nil, errors.New("redis ledger requires database.addrs")
		}
		return taskrepo.New(store, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
