package pipeline

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/repository/chunkstore"
)

// --- Mocks ---

type mockExtractor struct {
	sourceType string
	err        error
}

func (m *mockExtractor) Extract(_ context.Context, data []byte, _ string) (string, string, error) {
	if m.err != nil {
		return "", "", m.err
	}
	st := m.sourceType
	if st == "" {
		st = domain.SourceTypeText
	}
	return string(data), st, nil
}

// keywordEmbedder hashes query-style tokens into a small bag-of-words vector.
type keywordEmbedder struct {
	calls   atomic.Int32
	err     error
	dropOne bool

	mu    sync.Mutex
	texts []string
}

const testDim = 64

func (m *keywordEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: bagOfWords(text), TotalTokens: 1}, nil
}

func (m *keywordEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	res, err := domain.BatchFallback(ctx, m, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	if m.dropOne && len(res.Embeddings) > 0 {
		res.Embeddings = res.Embeddings[1:]
	}
	return res, nil
}

func (m *keywordEmbedder) embedded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

func bagOfWords(text string) []float32 {
	v := make([]float32, testDim)
	for tok := range retrieval.Tokens(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[h.Sum32()%testDim]++
	}
	return domain.Normalize(v)
}

type mockGenerator struct {
	answer    string
	err       error
	fragments []string
	streamErr error
	// block makes GenerateStream wait for ctx cancellation after the first fragment.
	block bool

	calls     atomic.Int32
	questions []string
	chunks    [][]chunk.Chunk
}

func (m *mockGenerator) Generate(_ context.Context, question string, chunks []chunk.Chunk) (string, error) {
	m.calls.Add(1)
	m.questions = append(m.questions, question)
	m.chunks = append(m.chunks, chunks)
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func (m *mockGenerator) GenerateStream(
	ctx context.Context, question string, chunks []chunk.Chunk, yield func(string) error,
) error {
	m.calls.Add(1)
	m.questions = append(m.questions, question)
	for i, f := range m.fragments {
		if err := yield(f); err != nil {
			return err
		}
		if m.block && i == 0 {
			<-ctx.Done()
			return ctx.Err()
		}
	}
	return m.streamErr
}

type mockRewriter struct {
	out string
	err error
}

func (m *mockRewriter) Rewrite(_ context.Context, _ string) (string, error) {
	return m.out, m.err
}

// --- Helpers ---

type fixture struct {
	svc   *Service
	store *chunkstore.Store
	emb   *keywordEmbedder
	gen   *mockGenerator
}

func newFixture(t *testing.T, gen *mockGenerator, rw Rewriter) *fixture {
	t.Helper()
	store := chunkstore.New()
	emb := &keywordEmbedder{}
	deps := Deps{
		Store:       store,
		Extractor:   &mockExtractor{},
		DocEmbedder: emb,
		Rewriter:    rw,
	}
	if gen != nil {
		deps.Generator = gen
	}
	svc, err := New(deps, DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{svc: svc, store: store, emb: emb, gen: gen}
}

// document builds n paragraphs of a repeated word; each paragraph becomes one chunk
// under the default chunking parameters.
func document(word string, n int) string {
	para := strings.TrimSpace(strings.Repeat(word+" ", 480/(len(word)+1)))
	paras := make([]string, n)
	for i := range paras {
		paras[i] = para
	}
	return strings.Join(paras, "\n\n")
}

func ingest(t *testing.T, f *fixture, name, body string) domain.IngestResult {
	t.Helper()
	res, err := f.svc.AddDocument(context.Background(), []byte(body), name, IngestOptions{})
	if err != nil {
		t.Fatalf("AddDocument(%s): %v", name, err)
	}
	return res
}
