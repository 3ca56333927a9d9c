package main

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/config"
	"github.com/kailas-cloud/ragdex/internal/domain"
)

func testConfig() config.Config {
	cfg := config.Config{
		Embedding:  config.EmbeddingConfig{Model: "text-embedding-3-small", APIKey: "sk-test"},
		Generation: config.GenerationConfig{Model: "gpt-4o-mini", APIKey: "sk-test", Rewrite: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestBuildApp_NoDatabase(t *testing.T) {
	a, err := buildApp(context.Background(), testConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.close()

	if a.store != nil {
		t.Error("expected no store without database.addrs")
	}
	if a.pipeline == nil || a.embedding == nil {
		t.Fatal("pipeline and embedding checker must be set")
	}
	if st := a.pipeline.Stats(); st.Chunks != 0 {
		t.Errorf("expected empty corpus, got %+v", st)
	}
}

func TestBuildApp_UnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Embedding.Provider = "nebius"
	if _, err := buildApp(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown embedding provider")
	}
}

func TestBuildGenerator_Providers(t *testing.T) {
	for _, p := range []string{config.ProviderOpenAI, config.ProviderOllama} {
		cfg := testConfig().Generation
		cfg.Provider = p
		cfg.BaseURL = "http://localhost:11434"
		gen, rw, err := buildGenerator(cfg, zap.NewNop())
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if gen == nil || rw == nil {
			t.Errorf("%s: generator and rewriter must be set", p)
		}
	}
}

func TestWithInstruction(t *testing.T) {
	var base domain.Embedder = &domain.InstructionEmbedder{}
	if got := withInstruction(base, ""); got != base {
		t.Error("empty instruction must return the embedder unchanged")
	}
	if got := withInstruction(base, "query: "); got == base {
		t.Error("instruction must wrap the embedder")
	}
}

func TestPipelineConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Chunking.MaxSize = 900
	cfg.Retrieval.TopK = 6

	pc := pipelineConfig(cfg)
	if pc.Chunking.MaxSize != 900 || pc.Chunking.Overlap != cfg.Chunking.Overlap {
		t.Errorf("unexpected chunking: %+v", pc.Chunking)
	}
	if pc.Retrieval.TopK != 6 || pc.Retrieval.SemanticWeight != cfg.Retrieval.SemanticWeight {
		t.Errorf("unexpected retrieval: %+v", pc.Retrieval)
	}
}

func TestOpenLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data", "tasks.db")
		repo, err := openLedger(ctx, config.LedgerConfig{Driver: config.DriverSQLite, SQLitePath: path}, nil)
		if err != nil {
			t.Fatalf("openLedger: %v", err)
		}
		defer repo.Close()
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("ping: %v", err)
		}
	})

	t.Run("redis without store", func(t *testing.T) {
		if _, err := openLedger(ctx, config.LedgerConfig{Driver: config.DriverRedis}, nil); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := openLedger(ctx, config.LedgerConfig{Driver: "mysql"}, nil); err == nil {
			t.Fatal("expected error")
		}
	})
}
