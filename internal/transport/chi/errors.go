package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/logger"
	ingestuc "github.com/kailas-cloud/ragdex/internal/usecase/ingest"
)

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

// Error codes returned by the API.
const (
	CodeBadRequest              ErrorCode = "bad_request"
	CodeValidationFailed        ErrorCode = "validation_failed"
	CodeUnauthorized            ErrorCode = "unauthorized"
	CodeNotFound                ErrorCode = "not_found"
	CodeTaskNotFound            ErrorCode = "task_not_found"
	CodeDocumentNotFound        ErrorCode = "document_not_found"
	CodeUnsafeURL               ErrorCode = "unsafe_url"
	CodeUnsupportedFormat       ErrorCode = "unsupported_format"
	CodeTaskTerminal            ErrorCode = "task_terminal"
	CodeQueueFull               ErrorCode = "queue_full"
	CodeRateLimited             ErrorCode = "rate_limited"
	CodeUnavailable             ErrorCode = "unavailable"
	CodeFetchFailed             ErrorCode = "fetch_failed"
	CodeEmbeddingProviderError  ErrorCode = "embedding_provider_error"
	CodeGenerationProviderError ErrorCode = "generation_provider_error"
	CodeInternalError           ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// sentinels are safe to echo to clients; anything else becomes "internal error".
var sentinels = []error{
	domain.ErrNotFound,
	domain.ErrAlreadyExists,
	domain.ErrInvalidInput,
	domain.ErrUnsupportedFormat,
	domain.ErrNoExtractableText,
	domain.ErrUnsafeURL,
	domain.ErrFetchFailed,
	domain.ErrTaskTerminal,
	domain.ErrInvalidTransition,
	domain.ErrQueueFull,
	domain.ErrEmbeddingProviderError,
	domain.ErrGenerationProviderError,
	ingestuc.ErrStopped,
}

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(domain.ErrUnsafeURL, http.StatusBadRequest, CodeUnsafeURL),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, CodeUnsupportedFormat),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrTaskTerminal, http.StatusConflict, CodeTaskTerminal),
		sentinelHandler(domain.ErrInvalidTransition, http.StatusConflict, CodeTaskTerminal),
		sentinelHandler(domain.ErrQueueFull, http.StatusServiceUnavailable, CodeQueueFull),
		sentinelHandler(ingestuc.ErrStopped, http.StatusServiceUnavailable, CodeUnavailable),
		sentinelHandler(domain.ErrFetchFailed, http.StatusBadGateway, CodeFetchFailed),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProviderError),
		sentinelHandler(domain.ErrGenerationProviderError, http.StatusBadGateway, CodeGenerationProviderError),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
