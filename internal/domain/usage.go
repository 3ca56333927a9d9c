package domain

import (
	"context"
	"sync"
)

type usageKey struct{}

// Usage collects provider usage for a single request.
// The handler puts a pointer into the context before calling the service;
// the pipeline records embedding tokens and generation calls; the handler
// reads it back for response headers.
type Usage struct {
	mu               sync.Mutex
	embeddingTokens  int
	generationCalls  int
	embeddingInvoked bool
}

// NewContextWithUsage returns a context with an attached usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *Usage) {
	u := &Usage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}

// AddEmbeddingTokens records consumed embedding tokens. Safe on a nil receiver.
func (u *Usage) AddEmbeddingTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.embeddingTokens += n
	u.embeddingInvoked = true
	u.mu.Unlock()
}

// AddGeneration records one generation call. Safe on a nil receiver.
func (u *Usage) AddGeneration() {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.generationCalls++
	u.mu.Unlock()
}

// EmbeddingTokens returns the recorded embedding token count and whether embedding ran at all
// (a cache hit reports zero tokens but still counts as invoked).
func (u *Usage) EmbeddingTokens() (int, bool) {
	if u == nil {
		return 0, false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.embeddingTokens, u.embeddingInvoked
}

// GenerationCalls returns the number of generation calls recorded.
func (u *Usage) GenerationCalls() int {
	if u == nil {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.generationCalls
}
