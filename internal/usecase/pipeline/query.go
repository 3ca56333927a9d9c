package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/metrics"
)

// Query outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeRefused  = "refused"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Stream event types.
const (
	EventChunks = "chunks"
	EventToken  = "token"
	EventDone   = "done"
)

// Citation describes one retrieved chunk returned alongside an answer.
type Citation struct {
	Source string
	Index  int
	Text   string
	Score  int
}

// Answer is the result of a synchronous query.
type Answer struct {
	Answer  string
	Chunks  []Citation
	Outcome string
}

// StreamEvent is one element of a streamed answer. The chunks event comes first,
// then token fragments, then done.
type StreamEvent struct {
	Type   string
	Chunks []Citation
	Token  string
}

// Query answers a question from the current corpus.
// Provider failures degrade to fixed answers; only caller cancellation is returned as an error.
func (s *Service) Query(ctx context.Context, question string) (Answer, error) {
	log := logger.FromContextOr(ctx, s.logger)

	if strings.TrimSpace(question) == "" {
		return s.finish(ModeSync, Answer{Answer: domain.RefusalAnswer, Outcome: OutcomeRefused}), nil
	}

	results, err := s.retrieve(ctx, question)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Answer{}, fmt.Errorf("query: %w", ctxErr)
		}
		log.Error("Retrieval failed", zap.Error(err))
		return s.finish(ModeSync, Answer{Answer: domain.RetrievalFailureAnswer, Outcome: OutcomeFailed}), nil
	}
	if len(results) == 0 {
		return s.finish(ModeSync, Answer{Answer: domain.RefusalAnswer, Outcome: OutcomeRefused}), nil
	}

	citations := toCitations(results)
	if s.generator == nil {
		return s.finish(ModeSync, Answer{
			Answer:  domain.GeneratorUnavailableAnswer,
			Chunks:  citations,
			Outcome: OutcomeDegraded,
		}), nil
	}

	text, err := s.generator.Generate(ctx, question, toChunks(results))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Answer{}, fmt.Errorf("query: %w", ctxErr)
		}
		log.Error("Generation failed", zap.Error(err), zap.Int("chunks", len(results)))
		return s.finish(ModeSync, Answer{
			Answer:  domain.DegradedAnswer,
			Chunks:  citations,
			Outcome: OutcomeDegraded,
		}), nil
	}
	domain.UsageFromContext(ctx).AddGeneration()

	return s.finish(ModeSync, Answer{Answer: text, Chunks: citations, Outcome: OutcomeAnswered}), nil
}

// QueryStream runs the query flow and emits the citations once, then answer fragments, then done.
// It stops as soon as ctx is canceled or emit fails and returns that error; shared state is never touched.
func (s *Service) QueryStream(ctx context.Context, question string, emit func(StreamEvent) error) error {
	log := logger.FromContextOr(ctx, s.logger)

	fixed := func(outcome, answer string, citations []Citation) error {
		s.observeQuery("stream", outcome)
		if err := emit(StreamEvent{Type: EventChunks, Chunks: citations}); err != nil {
			return err
		}
		if err := emit(StreamEvent{Type: EventToken, Token: answer}); err != nil {
			return err
		}
		return emit(StreamEvent{Type: EventDone})
	}

	if strings.TrimSpace(question) == "" {
		return fixed(OutcomeRefused, domain.RefusalAnswer, nil)
	}

	results, err := s.retrieve(ctx, question)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("query stream: %w", ctxErr)
		}
		log.Error("Retrieval failed", zap.Error(err))
		return fixed(OutcomeFailed, domain.RetrievalFailureAnswer, nil)
	}
	if len(results) == 0 {
		return fixed(OutcomeRefused, domain.RefusalAnswer, nil)
	}

	citations := toCitations(results)
	if s.generator == nil {
		return fixed(OutcomeDegraded, domain.GeneratorUnavailableAnswer, citations)
	}

	if err := emit(StreamEvent{Type: EventChunks, Chunks: citations}); err != nil {
		return err
	}

	var emitErr error
	err = s.generator.GenerateStream(ctx, question, toChunks(results), func(fragment string) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if e := emit(StreamEvent{Type: EventToken, Token: fragment}); e != nil {
			emitErr = e
			return e
		}
		return nil
	})
	switch {
	case emitErr != nil:
		return emitErr
	case ctx.Err() != nil:
		log.Debug("Stream canceled by caller")
		return fmt.Errorf("query stream: %w", ctx.Err())
	case err != nil:
		log.Error("Stream generation failed", zap.Error(err))
		s.observeQuery("stream", OutcomeDegraded)
		if e := emit(StreamEvent{Type: EventToken, Token: domain.StreamInterruption}); e != nil {
			return e
		}
		return emit(StreamEvent{Type: EventDone})
	}

	domain.UsageFromContext(ctx).AddGeneration()
	s.observeQuery("stream", OutcomeAnswered)
	return emit(StreamEvent{Type: EventDone})
}

// retrieve rewrites the question, embeds it and scores a snapshot of the store.
func (s *Service) retrieve(ctx context.Context, question string) ([]retrieval.Result, error) {
	query := s.rewrite(ctx, question)

	emb, err := s.queryEmbedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	corpus := s.store.Snapshot()
	results := retrieval.Retrieve(query, emb.Embedding, corpus, s.retrieval)
	metrics.RetrievalResults.Observe(float64(len(results)))
	return results, nil
}

// rewrite falls back to the original question on any rewriter failure.
func (s *Service) rewrite(ctx context.Context, question string) string {
	if s.rewriter == nil {
		return question
	}
	rewritten, err := s.rewriter.Rewrite(ctx, question)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.FromContextOr(ctx, s.logger).Warn("Query rewrite failed, using original question",
				zap.Error(err))
		}
		return question
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return question
	}
	return rewritten
}

func (s *Service) finish(mode string, a Answer) Answer {
	s.observeQuery(mode, a.Outcome)
	return a
}

func (s *Service) observeQuery(mode, outcome string) {
	metrics.QueriesTotal.WithLabelValues(mode, outcome).Inc()
}

func toCitations(results []retrieval.Result) []Citation {
	out := make([]Citation, 0, len(results))
	for _, r := range results {
		out = append(out, Citation{
			Source: r.Chunk.SourceID,
			Index:  r.Chunk.Index,
			Text:   r.Chunk.Text,
			Score:  int(r.Semantic * 100),
		})
	}
	return out
}

func toChunks(results []retrieval.Result) []chunk.Chunk {
	out := make([]chunk.Chunk, 0, len(results))
	for _, r := range results {
		out = append(out, r.Chunk)
	}
	return out
}
