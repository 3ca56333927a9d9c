package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
	healthuc "github.com/kailas-cloud/ragdex/internal/usecase/health"
	"github.com/kailas-cloud/ragdex/internal/usecase/pipeline"
)

// DefaultMaxUploadBytes caps multipart uploads.
const DefaultMaxUploadBytes = 20 << 20

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// Server holds the HTTP handlers of the API.
type Server struct {
	pipeline       Pipeline
	ingestor       Ingestor
	tasks          Tasks
	health         HealthChecker
	maxUploadBytes int64
	ingestLimit    *RateLimiter
	chatLimit      *RateLimiter
	logger         *zap.Logger
	errorHandlers  []errorHandler
}

// NewServer creates an HTTP API server. ingestor, tasks and health may be nil;
// the corresponding routes then answer 503.
func NewServer(p Pipeline, ingestor Ingestor, tasks Tasks, health HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		pipeline:       p,
		ingestor:       ingestor,
		tasks:          tasks,
		health:         health,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         logger,
		errorHandlers:  defaultErrorHandlers(),
	}
}

// WithMaxUploadBytes overrides the upload size limit.
func (s *Server) WithMaxUploadBytes(n int64) *Server {
	if n > 0 {
		s.maxUploadBytes = n
	}
	return s
}

// WithRateLimits throttles the ingestion and chat endpoints per client.
// A nil limiter leaves its endpoints unlimited.
func (s *Server) WithRateLimits(ingest, chat *RateLimiter) *Server {
	s.ingestLimit = ingest
	s.chatLimit = chat
	return s
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.ingestLimit.Middleware)
			r.Post("/ingest", s.Ingest)
			r.Post("/ingest/async", s.IngestAsync)
			r.Post("/ingest/url", s.IngestURL)
		})

		r.Get("/tasks/{taskID}", s.GetTask)
		r.Delete("/tasks", s.ClearTasks)

		r.Group(func(r chi.Router) {
			r.Use(s.chatLimit.Middleware)
			r.Post("/chat", s.Chat)
			r.Post("/chat/stream", s.ChatStream)
		})

		r.Post("/clear", s.Clear)
		r.Delete("/documents/{source}", s.DeleteDocument)
		r.Get("/stats", s.Stats)
	})
}

// IngestResponse is the body of a synchronous ingestion.
type IngestResponse struct {
	Status        string `json:"status"`
	Filename      string `json:"filename"`
	SourceType    string `json:"source_type"`
	ChunksCreated int    `json:"chunks_created"`
	CharCount     int    `json:"char_count"`
}

// TaskAccepted is the body of an accepted background job.
type TaskAccepted struct {
	TaskID string `json:"task_id"`
}

// TaskResponse is the public view of a ledger record.
type TaskResponse struct {
	TaskID   string            `json:"task_id"`
	Status   string            `json:"status"`
	Progress int               `json:"progress"`
	Meta     map[string]string `json:"meta"`
}

// ChunkResponse is one cited chunk.
type ChunkResponse struct {
	Source string `json:"source"`
	Index  int    `json:"index"`
	Text   string `json:"text"`
	Score  int    `json:"score"`
}

// ChatResponse is the body of a non-streaming answer.
type ChatResponse struct {
	Answer          string          `json:"answer"`
	RetrievedChunks []ChunkResponse `json:"retrieved_chunks"`
}

// StatsResponse summarizes the corpus.
type StatsResponse struct {
	Documents   int            `json:"documents"`
	Chunks      int            `json:"chunks"`
	SourceTypes map[string]int `json:"source_types"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Checks     map[string]string `json:"checks"`
	ChunkCount int               `json:"chunk_count"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type urlRequest struct {
	URL string `json:"url"`
}

// Ingest handles POST /api/ingest.
func (s *Server) Ingest(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	res, err := s.pipeline.AddDocument(ctx, data, filename, pipeline.IngestOptions{Mode: pipeline.ModeSync})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setUsageHeaders(w, usage)

	writeJSON(w, http.StatusOK, IngestResponse{
		Status:        res.Status,
		Filename:      res.Filename,
		SourceType:    res.SourceType,
		ChunksCreated: res.ChunksCreated,
		CharCount:     res.CharCount,
	})
}

// IngestAsync handles POST /api/ingest/async.
func (s *Server) IngestAsync(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "background ingestion is disabled")
		return
	}
	data, filename, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	id, err := s.ingestor.SubmitFile(r.Context(), data, filename)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, TaskAccepted{TaskID: id})
}

// IngestURL handles POST /api/ingest/url.
func (s *Server) IngestURL(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "background ingestion is disabled")
		return
	}

	var req urlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "url is required")
		return
	}

	id, err := s.ingestor.SubmitURL(r.Context(), req.URL)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, TaskAccepted{TaskID: id})
}

// GetTask handles GET /api/tasks/{taskID}.
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "task ledger is disabled")
		return
	}

	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeTaskNotFound, "task not found")
			return
		}
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(t))
}

// ClearTasks handles DELETE /api/tasks.
func (s *Server) ClearTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "task ledger is disabled")
		return
	}
	if err := s.tasks.Clear(r.Context()); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// Chat handles POST /api/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	question, ok := readQuestion(w, r)
	if !ok {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	ans, err := s.pipeline.Query(ctx, question)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, ChatResponse{
		Answer:          ans.Answer,
		RetrievedChunks: chunksToResponse(ans.Chunks),
	})
}

// Clear handles POST /api/clear.
func (s *Server) Clear(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Clear(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// DeleteDocument handles DELETE /api/documents/{source}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	n, err := s.pipeline.DeleteSource(r.Context(), source)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeDocumentNotFound, "document not found")
			return
		}
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "source": source, "chunks_removed": n})
}

// Stats handles GET /api/stats.
func (s *Server) Stats(w http.ResponseWriter, _ *http.Request) {
	st := s.pipeline.Stats()
	types := st.SourceTypes
	if types == nil {
		types = map[string]int{}
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Documents:   st.Documents,
		Chunks:      st.Chunks,
		SourceTypes: types,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: string(healthuc.Healthy), Checks: map[string]string{}})
		return
	}
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:     string(report.Status),
		Checks:     checks,
		ChunkCount: report.Chunks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func setUsageHeaders(w http.ResponseWriter, usage *domain.Usage) {
	if tokens, used := usage.EmbeddingTokens(); used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(tokens))
	}
	if calls := usage.GenerationCalls(); calls > 0 {
		w.Header().Set("X-Generation-Calls", strconv.Itoa(calls))
	}
}

// readUpload reads the multipart "file" field. Writes the error response itself.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	tooLarge := func() ([]byte, string, bool) {
		writeError(w, http.StatusRequestEntityTooLarge, CodeValidationFailed,
			fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes))
		return nil, "", false
	}
	if r.ContentLength > s.maxUploadBytes {
		return tooLarge()
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return tooLarge()
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "multipart field \"file\" is required")
		return nil, "", false
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "failed to read upload")
		return nil, "", false
	}
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "filename is required")
		return nil, "", false
	}
	return data, header.Filename, true
}

// readQuestion accepts {"message": ...} JSON or a "message" form field.
func readQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		return r.FormValue("message"), true
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return "", false
	}
	return req.Message, true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func taskToResponse(t domtask.Task) TaskResponse {
	meta := t.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	return TaskResponse{
		TaskID:   t.ID,
		Status:   string(t.Status),
		Progress: t.Progress,
		Meta:     meta,
	}
}

func chunksToResponse(cs []pipeline.Citation) []ChunkResponse {
	out := make([]ChunkResponse, len(cs))
	for i, c := range cs {
		out[i] = ChunkResponse{Source: c.Source, Index: c.Index, Text: c.Text, Score: c.Score}
	}
	return out
}
