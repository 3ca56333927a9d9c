package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
	"github.com/kailas-cloud/ragdex/internal/metrics"
	"github.com/kailas-cloud/ragdex/internal/prompt"
)

// Request kinds used as metric labels.
const (
	kindGenerate = "generate"
	kindStream   = "stream"
	kindRewrite  = "rewrite"
)

// Generator answers questions and rewrites queries through the OpenAI-compatible chat API.
type Generator struct {
	client           *openai.Client
	model            string
	temperature      float32
	maxTokens        int
	rewriteMaxTokens int
	provider         string
	logger           *zap.Logger
}

// NewGenerator creates a chat-completion backed generator.
func NewGenerator(cfg *Config) *Generator {
	g := &Generator{
		client:           newClient(cfg),
		model:            cfg.Model,
		temperature:      cfg.Temperature,
		maxTokens:        cfg.MaxTokens,
		rewriteMaxTokens: prompt.RewriteMaxTokens,
		provider:         cfg.Provider,
		logger:           loggerOrNop(cfg.Logger),
	}
	if g.temperature == 0 {
		g.temperature = prompt.GenerateTemperature
	}
	if g.maxTokens <= 0 {
		g.maxTokens = prompt.GenerateMaxTokens
	}
	return g
}

// WithRewriteMaxTokens overrides the token cap of rewrite requests.
func (g *Generator) WithRewriteMaxTokens(n int) *Generator {
	if n > 0 {
		g.rewriteMaxTokens = n
	}
	return g
}

func (g *Generator) groundedRequest(question string, chunks []chunk.Chunk) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User(question, chunks)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
}

// Generate returns a grounded answer. Empty context yields the fixed refusal without a request.
func (g *Generator) Generate(ctx context.Context, question string, chunks []chunk.Chunk) (string, error) {
	if len(chunks) == 0 {
		return domain.RefusalAnswer, nil
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, g.groundedRequest(question, chunks))
	g.observe(kindGenerate, start, err)
	if err != nil {
		return "", g.wrapErr(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion: %w", domain.ErrGenerationProviderError)
	}
	g.recordTokens(resp.Usage)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateStream yields answer fragments as they arrive. Empty context yields the refusal as one fragment.
func (g *Generator) GenerateStream(
	ctx context.Context, question string, chunks []chunk.Chunk, yield func(string) error,
) error {
	if len(chunks) == 0 {
		return yield(domain.RefusalAnswer)
	}

	start := time.Now()
	req := g.groundedRequest(question, chunks)
	req.Stream = true

	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		g.observe(kindStream, start, err)
		return g.wrapErr(ctx, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			g.observe(kindStream, start, nil)
			return nil
		}
		if err != nil {
			g.observe(kindStream, start, err)
			return g.wrapErr(ctx, err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := yield(resp.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

// Rewrite turns a conversational question into a concise retrieval query.
func (g *Generator) Rewrite(ctx context.Context, query string) (string, error) {
	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.Rewrite},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		Temperature: prompt.RewriteTemperature,
		MaxTokens:   g.rewriteMaxTokens,
	})
	g.observe(kindRewrite, start, err)
	if err != nil {
		return "", g.wrapErr(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty rewrite: %w", domain.ErrGenerationProviderError)
	}
	g.recordTokens(resp.Usage)

	rewritten := strings.TrimSpace(resp.Choices[0].Message.Content)
	g.logger.Debug("Query rewritten", zap.String("query", query), zap.String("rewritten", rewritten))
	return rewritten, nil
}

func (g *Generator) observe(kind string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, kind, status).Inc()
	metrics.GenerationRequestDuration.WithLabelValues(g.provider, g.model, kind).Observe(time.Since(start).Seconds())
}

func (g *Generator) recordTokens(u openai.Usage) {
	if u.TotalTokens == 0 {
		return
	}
	metrics.GenerationTokensTotal.WithLabelValues(g.provider, g.model, "prompt").Add(float64(u.PromptTokens))
	metrics.GenerationTokensTotal.WithLabelValues(g.provider, g.model, "completion").Add(float64(u.CompletionTokens))
}

func (g *Generator) wrapErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("generation request: %w", ctxErr)
	}
	return parseAPIError("generation", domain.ErrGenerationProviderError, err)
}
