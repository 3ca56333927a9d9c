package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidInput signals a malformed request or parameter.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedFormat signals a file type no extractor handles.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrNoExtractableText signals a document that yielded no text.
	ErrNoExtractableText = errors.New("no extractable text")

	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrGenerationProviderError signals a language-generation provider failure.
	ErrGenerationProviderError = errors.New("generation provider error")

	// ErrUnsafeURL signals an ingestion target rejected by the fetch policy.
	ErrUnsafeURL = errors.New("unsafe url")
	// ErrFetchFailed signals a remote fetch that was allowed but did not succeed.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrTaskTerminal signals a mutation attempt on a completed or failed task.
	ErrTaskTerminal = errors.New("task is in a terminal state")
	// ErrInvalidTransition signals a task status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid task transition")
	// ErrQueueFull signals that the ingestion queue cannot accept more work.
	ErrQueueFull = errors.New("ingestion queue full")
)

// TransitionError wraps ErrInvalidTransition with the offending statuses.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition.Error(), e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NewTransitionError creates an invalid transition error.
func NewTransitionError(from, to string) error {
	return &TransitionError{From: from, To: to}
}
