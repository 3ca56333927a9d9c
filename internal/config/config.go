package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Driver names.
const (
	DriverValkey   = "valkey"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the ragdex server configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Fetch      FetchConfig      `yaml:"fetch"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	MaxUploadMB     int `yaml:"max_upload_mb"`
	// AllowedOrigins enables CORS for these origins. Empty disables CORS.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds the key-value store settings. Empty addrs disable the store.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Enabled reports whether a key-value store is configured.
func (d DatabaseConfig) Enabled() bool { return len(d.Addrs) > 0 }

// LedgerConfig selects the task ledger backend.
type LedgerConfig struct {
	Driver      string `yaml:"driver"` // sqlite, postgres, redis (default: sqlite)
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	KeyPrefix   string `yaml:"key_prefix"`
	Debug       bool   `yaml:"debug"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider            string `yaml:"provider"` // openai, ollama
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
	TimeoutSec          int    `yaml:"timeout_sec"`
	BatchSize           int    `yaml:"batch_size"`
	Cache               bool   `yaml:"cache"`
	CacheTTLHours       int    `yaml:"cache_ttl_hours"`
}

// GenerationConfig holds chat-completion provider settings. An empty model disables generation.
type GenerationConfig struct {
	Provider         string  `yaml:"provider"` // openai, ollama
	APIKey           string  `yaml:"api_key"`
	BaseURL          string  `yaml:"base_url"`
	Model            string  `yaml:"model"`
	Temperature      float32 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	TimeoutSec       int     `yaml:"timeout_sec"`
	Rewrite          bool    `yaml:"rewrite"`
	RewriteMaxTokens int     `yaml:"rewrite_max_tokens"`
}

// Enabled reports whether a generation model is configured.
func (g GenerationConfig) Enabled() bool { return g.Model != "" }

// ChunkingConfig holds splitter settings, in characters.
type ChunkingConfig struct {
	MinSize       int `yaml:"min_size"`
	MaxSize       int `yaml:"max_size"`
	Overlap       int `yaml:"overlap"`
	MinChunkChars int `yaml:"min_chunk_chars"`
	MinSliceChars int `yaml:"min_slice_chars"`
}

// RetrievalConfig holds hybrid scorer settings.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	Threshold      float64 `yaml:"threshold"`
	SemanticWeight float64 `yaml:"semantic_weight"`
}

// IngestionConfig sizes the background worker pool.
type IngestionConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// PreloadDirs are scanned at startup; supported files are ingested in the background.
	PreloadDirs []string `yaml:"preload_dirs"`
}

// RateLimitConfig holds per-client request budgets. A negative value disables the limit.
type RateLimitConfig struct {
	IngestPerMinute int `yaml:"ingest_per_minute"`
	ChatPerMinute   int `yaml:"chat_per_minute"`
}

// FetchConfig holds URL ingestion settings.
type FetchConfig struct {
	Enabled           bool    `yaml:"enabled"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	MaxBytes          int64   `yaml:"max_bytes"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	UserAgent         string  `yaml:"user_agent"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands ${VAR} references, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadMB <= 0 {
		c.HTTP.MaxUploadMB = 20
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverValkey
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = DriverSQLite
	}
	if c.Ledger.SQLitePath == "" {
		c.Ledger.SQLitePath = filepath.Join("data", "tasks.db")
	}
	if c.Ledger.KeyPrefix == "" {
		c.Ledger.KeyPrefix = "ragdex:task:"
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = ProviderOpenAI
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.CacheTTLHours <= 0 {
		c.Embedding.CacheTTLHours = 24 * 7
	}

	if c.Generation.Provider == "" {
		c.Generation.Provider = c.Embedding.Provider
	}
	if c.Generation.Temperature == 0 {
		c.Generation.Temperature = 0.1
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = 1024
	}
	if c.Generation.TimeoutSec <= 0 {
		c.Generation.TimeoutSec = 60
	}
	if c.Generation.RewriteMaxTokens <= 0 {
		c.Generation.RewriteMaxTokens = 64
	}

	if c.Chunking.MinSize == 0 {
		c.Chunking.MinSize = 400
	}
	if c.Chunking.MaxSize == 0 {
		c.Chunking.MaxSize = 600
	}
	if c.Chunking.Overlap == 0 {
		c.Chunking.Overlap = 100
	}
	if c.Chunking.MinChunkChars == 0 {
		c.Chunking.MinChunkChars = 20
	}
	if c.Chunking.MinSliceChars == 0 {
		c.Chunking.MinSliceChars = 50
	}

	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 4
	}
	if c.Retrieval.Threshold == 0 {
		c.Retrieval.Threshold = 0.25
	}
	if c.Retrieval.SemanticWeight == 0 {
		c.Retrieval.SemanticWeight = 0.8
	}

	if c.Ingestion.Workers <= 0 {
		c.Ingestion.Workers = 4
	}
	if c.Ingestion.QueueSize <= 0 {
		c.Ingestion.QueueSize = 64
	}

	if c.Fetch.TimeoutSec <= 0 {
		c.Fetch.TimeoutSec = 10
	}

	if c.RateLimit.IngestPerMinute == 0 {
		c.RateLimit.IngestPerMinute = 5
	}
	if c.RateLimit.ChatPerMinute == 0 {
		c.RateLimit.ChatPerMinute = 20
	}
}

// Validate checks the configuration for correctness. Errors name the offending key.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}

	switch c.Database.Driver {
	case DriverValkey, DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q",
			DriverValkey, DriverRedis, c.Database.Driver))
	}

	switch c.Ledger.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Ledger.PostgresDSN == "" {
			errs = append(errs, errors.New("ledger.postgres_dsn is required for the postgres driver"))
		}
	case DriverRedis:
		if !c.Database.Enabled() {
			errs = append(errs, errors.New("ledger.driver redis requires database.addrs"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.driver must be sqlite, postgres or redis, got %q", c.Ledger.Driver))
	}

	if err := validProvider("embedding.provider", c.Embedding.Provider); err != nil {
		errs = append(errs, err)
	}
	if c.Embedding.Model == "" {
		errs = append(errs, errors.New("embedding.model is required"))
	}
	if c.Embedding.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be >= 0, got %d", c.Embedding.Dimensions))
	}
	if c.Embedding.Cache && !c.Database.Enabled() {
		errs = append(errs, errors.New("embedding.cache requires database.addrs"))
	}

	if c.Generation.Enabled() {
		if err := validProvider("generation.provider", c.Generation.Provider); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature must be in [0, 2], got %g", c.Generation.Temperature))
	}

	ch := c.Chunking
	if ch.Overlap < 0 || ch.Overlap >= ch.MaxSize {
		errs = append(errs, fmt.Errorf("chunking.overlap must be >= 0 and < chunking.max_size (%d), got %d",
			ch.MaxSize, ch.Overlap))
	}
	if ch.MinSize < 0 || ch.MinSize > ch.MaxSize {
		errs = append(errs, fmt.Errorf("chunking.min_size must be between 0 and chunking.max_size (%d), got %d",
			ch.MaxSize, ch.MinSize))
	}
	if ch.MinSliceChars < 0 || ch.MinSliceChars >= ch.MaxSize {
		errs = append(errs, fmt.Errorf("chunking.min_slice_chars must be >= 0 and < chunking.max_size (%d), got %d",
			ch.MaxSize, ch.MinSliceChars))
	}
	if ch.MinChunkChars < 0 || ch.MinChunkChars > ch.MaxSize {
		errs = append(errs, fmt.Errorf("chunking.min_chunk_chars must be between 0 and chunking.max_size (%d), got %d",
			ch.MaxSize, ch.MinChunkChars))
	}

	r := c.Retrieval
	if r.TopK < 1 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be >= 1, got %d", r.TopK))
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.threshold must be in [0, 1], got %g", r.Threshold))
	}
	if r.SemanticWeight < 0 || r.SemanticWeight > 1 {
		errs = append(errs, fmt.Errorf("retrieval.semantic_weight must be in [0, 1], got %g", r.SemanticWeight))
	}

	if c.Fetch.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("fetch.requests_per_second must be >= 0, got %g", c.Fetch.RequestsPerSecond))
	}

	for _, o := range c.HTTP.AllowedOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			errs = append(errs, fmt.Errorf(
				"http.allowed_origins entries must be \"*\" or start with http:// or https://, got %q", o))
		}
	}
	for _, d := range c.Ingestion.PreloadDirs {
		if strings.TrimSpace(d) == "" {
			errs = append(errs, errors.New("ingestion.preload_dirs must not contain empty paths"))
			break
		}
	}

	return errors.Join(errs...)
}

func validProvider(key, p string) error {
	switch p {
	case ProviderOpenAI, ProviderOllama:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", key, ProviderOpenAI, ProviderOllama, p)
	}
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
