// Package prompt builds the grounded generation and query rewrite prompts
// shared by every generation provider.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
)

// Sampling defaults.
const (
	GenerateTemperature = 0.1
	GenerateMaxTokens   = 1024
	RewriteTemperature  = 0
	RewriteMaxTokens    = 64
)

// Rewrite is the system prompt of the query rewriter.
const Rewrite = "You are a professional search query optimizer. " +
	"Rewrite the user's request into a concise, fact-seeking query for a vector database. " +
	"Remove conversational filler. Output ONLY the query text."

// System is the system prompt of the grounded generator.
var System = `You are a document auditor.
Answer factually and EXCLUSIVELY from the provided context.

STRICT PROTOCOL:
1. Use ONLY information from the provided CONTEXT BLOCKS.
2. If the answer is not present, respond with: "` + domain.RefusalAnswer + `"
3. Do not supplement with external knowledge.
4. Cite every factual statement as [source:index] right after the claim.
5. Be professional, concise and neutral.`

// Context formats chunks as labeled blocks separated by blank lines.
func Context(chunks []chunk.Chunk) string {
	blocks := make([]string, 0, len(chunks))
	for _, c := range chunks {
		blocks = append(blocks, fmt.Sprintf("--- BLOCK [%s] ---\n%s", c.Ref(), c.Text))
	}
	return strings.Join(blocks, "\n\n")
}

// User builds the user message carrying the context blocks and the question.
func User(question string, chunks []chunk.Chunk) string {
	return "CONTEXT BLOCKS:\n\n" + Context(chunks) + "\n\nUSER QUESTION: " + question
}
