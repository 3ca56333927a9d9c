package ragdex

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	embedder      Embedder
	queryEmbedder Embedder
	generator     Generator
	rewriter      Rewriter
	extractor     Extractor

	chunking  *ChunkingParams
	retrieval *RetrievalOptions

	// Embedding cache backend, optional.
	driver   string // "valkey" or "redis"
	addrs    []string
	password string
	cacheTTL time.Duration
	model    string

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithEmbedder sets the embedding provider used for documents and, unless
// WithQueryEmbedder is given, for questions. Required.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithQueryEmbedder sets a separate embedder for questions,
// e.g. one that applies a query instruction prefix.
func WithQueryEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.queryEmbedder = e
	})
}

// WithGenerator sets the answer generator.
func WithGenerator(g Generator) Option {
	return optionFunc(func(c *clientConfig) {
		c.generator = g
	})
}

// WithRewriter enables query rewriting before retrieval.
func WithRewriter(r Rewriter) Option {
	return optionFunc(func(c *clientConfig) {
		c.rewriter = r
	})
}

// WithExtractor replaces the built-in file extractor.
func WithExtractor(e Extractor) Option {
	return optionFunc(func(c *clientConfig) {
		c.extractor = e
	})
}

// WithChunking overrides splitter parameters.
// Defaults: min 400, max 600, overlap 100.
func WithChunking(p ChunkingParams) Option {
	return optionFunc(func(c *clientConfig) {
		c.chunking = &p
	})
}

// WithRetrieval overrides scorer parameters.
// Defaults: top 4, threshold 0.25, semantic weight 0.8.
func WithRetrieval(o RetrievalOptions) Option {
	return optionFunc(func(c *clientConfig) {
		c.retrieval = &o
	})
}

// WithValkey caches document embeddings in a Valkey instance.
// model namespaces cache keys so different embedding models never collide.
func WithValkey(addr, password, model string, ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
		c.model = model
		c.cacheTTL = ttl
	})
}

// WithRedis caches document embeddings in a Redis instance.
func WithRedis(addr, password, model string, ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
		c.model = model
		c.cacheTTL = ttl
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
