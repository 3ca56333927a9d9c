// Package retrieval ranks chunks against a query by blending vector similarity with
// lexical overlap.
package retrieval

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
)

// Defaults.
const (
	DefaultTopK           = 4
	DefaultThreshold      = 0.25
	DefaultSemanticWeight = 0.8
	minTokenLen           = 3
)

// Options tunes a retrieval pass. The lexical weight is 1-SemanticWeight.
type Options struct {
	TopK           int
	Threshold      float64
	SemanticWeight float64
}

// DefaultOptions returns topK=4, threshold=0.25, semantic weight 0.8.
func DefaultOptions() Options {
	return Options{
		TopK:           DefaultTopK,
		Threshold:      DefaultThreshold,
		SemanticWeight: DefaultSemanticWeight,
	}
}

// Result is one ranked chunk.
type Result struct {
	Chunk    chunk.Chunk
	Score    float64 // combined, in [0,1]
	Semantic float64 // clipped cosine, in [0,1]
	Lexical  float64 // query-token coverage, in [0,1]
}

// Retrieve scores every chunk of corpus against the query and returns at most
// opts.TopK results at or above opts.Threshold, best first. Equal scores keep
// corpus order. Chunks without a usable embedding, or with a dimension that does
// not match queryVec, are skipped.
func Retrieve(query string, queryVec []float32, corpus []chunk.Chunk, opts Options) []Result {
	if len(corpus) == 0 || strings.TrimSpace(query) == "" || opts.TopK <= 0 {
		return nil
	}

	w := clip01(opts.SemanticWeight)
	queryTokens := Tokens(query)

	results := make([]Result, 0, len(corpus))
	for _, c := range corpus {
		if !c.HasEmbedding() || len(c.Embedding) != len(queryVec) {
			continue
		}
		sem := Cosine(queryVec, c.Embedding)
		lex := Overlap(queryTokens, Tokens(c.Text))
		score := clip01(w*sem + (1-w)*lex)
		if score < opts.Threshold {
			continue
		}
		results = append(results, Result{Chunk: c, Score: score, Semantic: sem, Lexical: lex})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results
}

// Tokens returns the lowercase set of words with at least three characters.
// A word is a maximal run of letters, digits or underscores.
func Tokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isWordRune(r)
	})
	for _, f := range fields {
		if len([]rune(f)) >= minTokenLen {
			set[f] = struct{}{}
		}
	}
	return set
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Overlap returns |query ∩ doc| / |query|, or 0 for an empty query set.
func Overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	var hits int
	for tok := range query {
		if _, ok := doc[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// Cosine returns the cosine similarity of a and b clipped to [0,1].
// Mismatched lengths or zero-norm vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clip01(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func clip01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
