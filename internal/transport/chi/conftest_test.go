package chi

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kailas-cloud/ragdex/internal/domain"
	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	"github.com/kailas-cloud/ragdex/internal/usecase/pipeline"
)

type mockPipeline struct {
	ingestResult domain.IngestResult
	ingestErr    error
	gotData      []byte
	gotFilename  string
	gotMode      string

	answer    pipeline.Answer
	queryErr  error
	question  string
	events    []pipeline.StreamEvent
	streamErr error
	panicMsg  string
	tokens    int

	cleared    bool
	deleted    int
	deleteErr  error
	deletedSrc string
	stats      domain.Stats
}

func (m *mockPipeline) AddDocument(
	_ context.Context, data []byte, filename string, opts pipeline.IngestOptions,
) (domain.IngestResult, error) {
	m.gotData, m.gotFilename, m.gotMode = data, filename, opts.Mode
	return m.ingestResult, m.ingestErr
}

func (m *mockPipeline) Query(ctx context.Context, q string) (pipeline.Answer, error) {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	m.question = q
	if m.tokens > 0 {
		u := domain.UsageFromContext(ctx)
		u.AddEmbeddingTokens(m.tokens)
		u.AddGeneration()
	}
	return m.answer, m.queryErr
}

func (m *mockPipeline) QueryStream(_ context.Context, q string, emit func(pipeline.StreamEvent) error) error {
	m.question = q
	for _, ev := range m.events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return m.streamErr
}

func (m *mockPipeline) Clear(context.Context) { m.cleared = true }

func (m *mockPipeline) DeleteSource(_ context.Context, source string) (int, error) {
	m.deletedSrc = source
	return m.deleted, m.deleteErr
}

func (m *mockPipeline) Stats() domain.Stats { return m.stats }

type mockIngestor struct {
	id       string
	err      error
	gotURL   string
	gotFile  string
	gotBytes []byte
}

func (m *mockIngestor) SubmitFile(_ context.Context, data []byte, filename string) (string, error) {
	m.gotFile, m.gotBytes = filename, data
	return m.id, m.err
}

func (m *mockIngestor) SubmitURL(_ context.Context, rawURL string) (string, error) {
	m.gotURL = rawURL
	return m.id, m.err
}

type mockTasks struct {
	tasks    map[string]domtask.Task
	clearErr error
	cleared  bool
}

func (m *mockTasks) Get(_ context.Context, id string) (domtask.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return domtask.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *mockTasks) Clear(context.Context) error {
	m.cleared = true
	return m.clearErr
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

type fixture struct {
	pipeline *mockPipeline
	ingestor *mockIngestor
	tasks    *mockTasks
	health   *mockHealth
	server   *Server
	handler  http.Handler
}

func newFixture(t *testing.T, apiKeys ...string) *fixture {
	t.Helper()
	f := &fixture{
		pipeline: &mockPipeline{},
		ingestor: &mockIngestor{id: "task-1"},
		tasks:    &mockTasks{tasks: map[string]domtask.Task{}},
		health: &mockHealth{report: healthuc.Report{
			Status: healthuc.Healthy,
			Checks: map[string]healthuc.CheckResult{"embedding": healthuc.CheckOK},
		}},
	}
	f.server = NewServer(f.pipeline, f.ingestor, f.tasks, f.health, nil)
	f.handler = NewRouter(f.server, RouterOptions{APIKeys: apiKeys})
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func uploadRequest(t *testing.T, path, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
