package chi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/kailas-cloud/ragdex/internal/domain"
	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	"github.com/kailas-cloud/ragdex/internal/usecase/pipeline"
)

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func TestIngest_Processed(t *testing.T) {
	f := newFixture(t)
	f.pipeline.ingestResult = domain.IngestResult{
		Status:        domain.IngestStatusProcessed,
		Filename:      "notes.md",
		SourceType:    domain.SourceTypeMarkdown,
		ChunksCreated: 3,
		CharCount:     1200,
	}

	rr := f.do(uploadRequest(t, "/api/ingest", "notes.md", []byte("# hello")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[IngestResponse](t, rr)
	if resp.Status != "processed" || resp.ChunksCreated != 3 || resp.CharCount != 1200 || resp.SourceType != "md" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if f.pipeline.gotFilename != "notes.md" || string(f.pipeline.gotData) != "# hello" {
		t.Errorf("pipeline got %q / %q", f.pipeline.gotFilename, f.pipeline.gotData)
	}
	if f.pipeline.gotMode != pipeline.ModeSync {
		t.Errorf("expected sync mode, got %q", f.pipeline.gotMode)
	}
}

func TestIngest_Empty(t *testing.T) {
	f := newFixture(t)
	f.pipeline.ingestResult = domain.IngestResult{Status: domain.IngestStatusEmpty, Filename: "scan.png"}

	rr := f.do(uploadRequest(t, "/api/ingest", "scan.png", []byte{1, 2}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if resp := decode[IngestResponse](t, rr); resp.Status != "empty" || resp.ChunksCreated != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestIngest_MissingFile(t *testing.T) {
	f := newFixture(t)

	rr := f.do(jsonRequest(http.MethodPost, "/api/ingest", `{}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeBadRequest {
		t.Errorf("expected bad_request, got %s", resp.Code)
	}
}

func TestIngest_TooLarge(t *testing.T) {
	f := newFixture(t)
	f.server.WithMaxUploadBytes(64)

	rr := f.do(uploadRequest(t, "/api/ingest", "big.txt", []byte(strings.Repeat("x", 4096))))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestIngest_ProviderErrorHidesInternals(t *testing.T) {
	f := newFixture(t)
	f.pipeline.ingestErr = fmt.Errorf("batch embed: %w: dial tcp 10.0.0.7:443: refused", domain.ErrEmbeddingProviderError)

	rr := f.do(uploadRequest(t, "/api/ingest", "a.txt", []byte("text")))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	resp := decode[ErrorResponse](t, rr)
	if resp.Code != CodeEmbeddingProviderError {
		t.Errorf("expected embedding_provider_error, got %s", resp.Code)
	}
	if strings.Contains(resp.Message, "10.0.0.7") {
		t.Errorf("internal details leaked: %q", resp.Message)
	}
}

func TestIngest_UnknownErrorIs500(t *testing.T) {
	f := newFixture(t)
	f.pipeline.ingestErr = fmt.Errorf("disk on fire")

	rr := f.do(uploadRequest(t, "/api/ingest", "a.txt", []byte("text")))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Message != "internal error" {
		t.Errorf("expected generic message, got %q", resp.Message)
	}
}

func TestIngestAsync_Accepted(t *testing.T) {
	f := newFixture(t)

	rr := f.do(uploadRequest(t, "/api/ingest/async", "report.pdf", []byte("%PDF")))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if resp := decode[TaskAccepted](t, rr); resp.TaskID != "task-1" {
		t.Errorf("expected task-1, got %q", resp.TaskID)
	}
	if f.ingestor.gotFile != "report.pdf" || string(f.ingestor.gotBytes) != "%PDF" {
		t.Errorf("ingestor got %q / %q", f.ingestor.gotFile, f.ingestor.gotBytes)
	}
}

func TestIngestAsync_QueueFull(t *testing.T) {
	f := newFixture(t)
	f.ingestor.err = domain.ErrQueueFull

	rr := f.do(uploadRequest(t, "/api/ingest/async", "a.txt", []byte("x")))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeQueueFull {
		t.Errorf("expected queue_full, got %s", resp.Code)
	}
}

func TestIngestAsync_Disabled(t *testing.T) {
	p := &mockPipeline{}
	h := NewRouter(NewServer(p, nil, nil, nil, nil), RouterOptions{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadRequest(t, "/api/ingest/async", "a.txt", []byte("x")))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestIngestURL(t *testing.T) {
	f := newFixture(t)

	rr := f.do(jsonRequest(http.MethodPost, "/api/ingest/url", `{"url":"example.com/page"}`))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if f.ingestor.gotURL != "example.com/page" {
		t.Errorf("ingestor got %q", f.ingestor.gotURL)
	}
}

func TestIngestURL_Unsafe(t *testing.T) {
	f := newFixture(t)
	f.ingestor.err = fmt.Errorf("check url: %w", domain.ErrUnsafeURL)

	rr := f.do(jsonRequest(http.MethodPost, "/api/ingest/url", `{"url":"http://169.254.169.254/"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeUnsafeURL {
		t.Errorf("expected unsafe_url, got %s", resp.Code)
	}
}

func TestIngestURL_Validation(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`{"url":"  "}`, `{}`, `not json`} {
		rr := f.do(jsonRequest(http.MethodPost, "/api/ingest/url", body))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
	if f.ingestor.gotURL != "" {
		t.Errorf("ingestor must not be called, got %q", f.ingestor.gotURL)
	}
}

func TestGetTask(t *testing.T) {
	f := newFixture(t)
	f.tasks.tasks["t-42"] = domtask.Task{
		ID:       "t-42",
		Status:   domtask.StatusCompleted,
		Progress: 100,
		Meta:     map[string]string{domtask.MetaResult: "processed", domtask.MetaChunks: "4"},
	}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/api/tasks/t-42", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decode[TaskResponse](t, rr)
	if resp.TaskID != "t-42" || resp.Status != "completed" || resp.Progress != 100 {
		t.Errorf("unexpected task: %+v", resp)
	}
	if resp.Meta["chunks_created"] != "4" {
		t.Errorf("expected meta to be passed through, got %v", resp.Meta)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	f := newFixture(t)

	rr := f.do(httptest.NewRequest(http.MethodGet, "/api/tasks/missing", http.NoBody))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeTaskNotFound {
		t.Errorf("expected task_not_found, got %s", resp.Code)
	}
}

func TestClearTasks(t *testing.T) {
	f := newFixture(t)

	rr := f.do(httptest.NewRequest(http.MethodDelete, "/api/tasks", http.NoBody))

	if rr.Code != http.StatusOK || !f.tasks.cleared {
		t.Fatalf("expected ledger cleared, got %d", rr.Code)
	}
}

func TestChat_JSON(t *testing.T) {
	f := newFixture(t)
	f.pipeline.answer = pipeline.Answer{
		Answer:  "Paris [geo.txt:0]",
		Chunks:  []pipeline.Citation{{Source: "geo.txt", Index: 0, Text: "Paris is the capital.", Score: 87}},
		Outcome: pipeline.OutcomeAnswered,
	}

	rr := f.do(jsonRequest(http.MethodPost, "/api/chat", `{"message":"capital of France?"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decode[ChatResponse](t, rr)
	if resp.Answer != "Paris [geo.txt:0]" {
		t.Errorf("unexpected answer %q", resp.Answer)
	}
	if len(resp.RetrievedChunks) != 1 || resp.RetrievedChunks[0].Score != 87 || resp.RetrievedChunks[0].Source != "geo.txt" {
		t.Errorf("unexpected chunks: %+v", resp.RetrievedChunks)
	}
	if f.pipeline.question != "capital of France?" {
		t.Errorf("pipeline got %q", f.pipeline.question)
	}
}

func TestChat_UsageHeaders(t *testing.T) {
	f := newFixture(t)
	f.pipeline.tokens = 12

	rr := f.do(jsonRequest(http.MethodPost, "/api/chat", `{"message":"q"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Embedding-Tokens"); got != "12" {
		t.Errorf("X-Embedding-Tokens = %q, want 12", got)
	}
	if got := rr.Header().Get("X-Generation-Calls"); got != "1" {
		t.Errorf("X-Generation-Calls = %q, want 1", got)
	}
}

func TestChat_FormField(t *testing.T) {
	f := newFixture(t)
	f.pipeline.answer = pipeline.Answer{Answer: domain.RefusalAnswer}

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(url.Values{"message": {"hi"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := f.do(req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decode[ChatResponse](t, rr)
	if resp.RetrievedChunks == nil || len(resp.RetrievedChunks) != 0 {
		t.Errorf("expected empty chunk list, got %v", resp.RetrievedChunks)
	}
	if f.pipeline.question != "hi" {
		t.Errorf("pipeline got %q", f.pipeline.question)
	}
}

func TestChat_BadBody(t *testing.T) {
	f := newFixture(t)

	rr := f.do(jsonRequest(http.MethodPost, "/api/chat", `{"message":`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestChatStream_EventOrder(t *testing.T) {
	f := newFixture(t)
	f.pipeline.events = []pipeline.StreamEvent{
		{Type: pipeline.EventChunks, Chunks: []pipeline.Citation{{Source: "a.txt", Index: 1, Text: "t", Score: 50}}},
		{Type: pipeline.EventToken, Token: "Hel"},
		{Type: pipeline.EventToken, Token: "lo"},
		{Type: pipeline.EventDone},
	}

	rr := f.do(jsonRequest(http.MethodPost, "/api/chat/stream", `{"message":"q"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event stream, got %q", ct)
	}

	body := rr.Body.String()
	want := []string{
		"event: chunks\ndata: {\"chunks\":[{\"source\":\"a.txt\",\"index\":1,\"text\":\"t\",\"score\":50}]}\n\n",
		"event: token\ndata: {\"token\":\"Hel\"}\n\n",
		"event: token\ndata: {\"token\":\"lo\"}\n\n",
		"event: done\ndata: {}\n\n",
	}
	if body != strings.Join(want, "") {
		t.Errorf("unexpected stream:\n%s", body)
	}
}

func TestChatStream_ErrorBeforeFirstEvent(t *testing.T) {
	f := newFixture(t)
	f.pipeline.streamErr = fmt.Errorf("stream: %w", domain.ErrGenerationProviderError)

	rr := f.do(jsonRequest(http.MethodPost, "/api/chat/stream", `{"message":"q"}`))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeGenerationProviderError {
		t.Errorf("expected generation_provider_error, got %s", resp.Code)
	}
}

func TestChatStream_ErrorAfterStart(t *testing.T) {
	f := newFixture(t)
	f.pipeline.events = []pipeline.StreamEvent{{Type: pipeline.EventChunks}}
	f.pipeline.streamErr = fmt.Errorf("boom")

	rr := f.do(jsonRequest(http.MethodPost, "/api/chat/stream", `{"message":"q"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected committed 200, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "event: done") {
		t.Error("done must not be sent after a failure")
	}
}

func TestClear(t *testing.T) {
	f := newFixture(t)

	rr := f.do(httptest.NewRequest(http.MethodPost, "/api/clear", http.NoBody))

	if rr.Code != http.StatusOK || !f.pipeline.cleared {
		t.Fatalf("expected store cleared, got %d", rr.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	f.pipeline.deleted = 5

	rr := f.do(httptest.NewRequest(http.MethodDelete, "/api/documents/notes.md", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if f.pipeline.deletedSrc != "notes.md" {
		t.Errorf("expected notes.md, got %q", f.pipeline.deletedSrc)
	}
	resp := decode[map[string]any](t, rr)
	if resp["chunks_removed"] != float64(5) {
		t.Errorf("unexpected response %v", resp)
	}
}

func TestDeleteDocument_NotFound(t *testing.T) {
	f := newFixture(t)
	f.pipeline.deleteErr = fmt.Errorf("source: %w", domain.ErrNotFound)

	rr := f.do(httptest.NewRequest(http.MethodDelete, "/api/documents/nope.txt", http.NoBody))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeDocumentNotFound {
		t.Errorf("expected document_not_found, got %s", resp.Code)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.pipeline.stats = domain.Stats{Documents: 2, Chunks: 9, SourceTypes: map[string]int{"pdf": 1, "md": 1}}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/api/stats", http.NoBody))

	resp := decode[StatsResponse](t, rr)
	if resp.Documents != 2 || resp.Chunks != 9 || resp.SourceTypes["pdf"] != 1 {
		t.Errorf("unexpected stats: %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.health.report.Chunks = 12

	rr := f.do(httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decode[HealthResponse](t, rr)
	if resp.Status != "ok" || resp.ChunkCount != 12 || resp.Checks["embedding"] != "ok" {
		t.Errorf("unexpected health: %+v", resp)
	}
}

func TestHealth_Degraded(t *testing.T) {
	f := newFixture(t)
	f.health.report = healthuc.Report{
		Status: healthuc.Degraded,
		Checks: map[string]healthuc.CheckResult{"embedding": healthuc.CheckError, "ledger": healthuc.CheckOK},
	}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRouter_AuthAndExemptions(t *testing.T) {
	f := newFixture(t, "secret")

	if rr := f.do(httptest.NewRequest(http.MethodGet, "/api/stats", http.NoBody)); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	if rr := f.do(req); rr.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rr.Code)
	}

	if rr := f.do(httptest.NewRequest(http.MethodGet, "/health", http.NoBody)); rr.Code != http.StatusOK {
		t.Errorf("expected /health to skip auth, got %d", rr.Code)
	}
}

func TestRouter_RequestID(t *testing.T) {
	f := newFixture(t)

	rr := f.do(httptest.NewRequest(http.MethodGet, "/api/stats", http.NoBody))

	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestRouter_RecoversPanics(t *testing.T) {
	f := newFixture(t)
	f.pipeline.panicMsg = "boom"

	rr := f.do(jsonRequest(http.MethodPost, "/api/chat", `{"message":"q"}`))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeInternalError {
		t.Errorf("expected internal_error, got %s", resp.Code)
	}
}

func TestRouter_NotFound(t *testing.T) {
	f := newFixture(t)

	rr := f.do(httptest.NewRequest(http.MethodGet, "/api/nope", http.NoBody))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeNotFound {
		t.Errorf("expected not_found, got %s", resp.Code)
	}
}
