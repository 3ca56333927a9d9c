package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// Default sizes, measured in characters (runes).
const (
	DefaultMinSize       = 400
	DefaultMaxSize       = 600
	DefaultOverlap       = 100
	DefaultMinChunkChars = 20
	DefaultMinSliceChars = 50
)

const paragraphSep = "\n\n"

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Params bounds chunk sizes. MinSize is a soft target: paragraphs are
// accumulated until the next one would push the buffer past MaxSize.
type Params struct {
	MinSize       int
	MaxSize       int
	Overlap       int
	MinChunkChars int // chunks shorter than this (after trimming) are dropped
	MinSliceChars int // slices of an oversized paragraph must be longer than this
}

// DefaultParams returns the default chunking parameters.
func DefaultParams() Params {
	return Params{
		MinSize:       DefaultMinSize,
		MaxSize:       DefaultMaxSize,
		Overlap:       DefaultOverlap,
		MinChunkChars: DefaultMinChunkChars,
		MinSliceChars: DefaultMinSliceChars,
	}
}

// Validate checks 0 <= overlap < maxSize and 0 <= minSize <= maxSize. The
// minimum lengths must stay below maxSize, otherwise every slice of an
// oversized paragraph would be dropped.
func (p Params) Validate() error {
	if p.MaxSize <= 0 {
		return fmt.Errorf("%w: max size must be positive", domain.ErrInvalidInput)
	}
	if p.Overlap < 0 || p.Overlap >= p.MaxSize {
		return fmt.Errorf("%w: overlap must be in [0, max size)", domain.ErrInvalidInput)
	}
	if p.MinSize < 0 || p.MinSize > p.MaxSize {
		return fmt.Errorf("%w: min size must be in [0, max size]", domain.ErrInvalidInput)
	}
	if p.MinChunkChars < 0 || p.MinSliceChars < 0 {
		return fmt.Errorf("%w: minimum lengths must not be negative", domain.ErrInvalidInput)
	}
	if p.MinSliceChars >= p.MaxSize {
		return fmt.Errorf("%w: min slice chars must be < max size", domain.ErrInvalidInput)
	}
	if p.MinChunkChars > p.MaxSize {
		return fmt.Errorf("%w: min chunk chars must be <= max size", domain.ErrInvalidInput)
	}
	return nil
}

// Splitter cuts normalized text into overlapping, size-bounded, paragraph-respecting chunks.
type Splitter struct {
	p Params
}

// NewSplitter validates params and creates a Splitter.
func NewSplitter(p Params) (*Splitter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{p: p}, nil
}

// Params returns the splitter configuration.
func (s *Splitter) Params() Params { return s.p }

// Split returns the chunks of text for sourceID. Embeddings are left empty.
// Empty or whitespace-only text yields no chunks.
func (s *Splitter) Split(text, sourceID string) []Chunk {
	pieces := s.pieces(text)

	out := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if utf8.RuneCountInString(piece) < s.p.MinChunkChars {
			continue
		}
		out = append(out, Chunk{SourceID: sourceID, Index: len(out), Text: piece})
	}
	return out
}

func (s *Splitter) pieces(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		out    []string
		buf    string
		bufLen int
	)

	emit := func(piece string) {
		if piece = strings.TrimSpace(piece); piece != "" {
			out = append(out, piece)
		}
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		paraLen := utf8.RuneCountInString(para)

		if joinedLen(bufLen, paraLen) <= s.p.MaxSize {
			buf, bufLen = s.appendParagraph(buf, bufLen, para, paraLen)
			continue
		}

		var seed string
		if buf != "" {
			closed := strings.TrimSpace(buf)
			emit(closed)
			seed = tail(closed, s.p.Overlap)
		}
		buf, bufLen = "", 0

		if paraLen > s.p.MaxSize {
			out = append(out, s.slice(para)...)
			continue
		}

		// The overlap seed is dropped when it would push the chunk past MaxSize.
		if seedLen := utf8.RuneCountInString(seed); seed != "" && joinedLen(seedLen, paraLen) <= s.p.MaxSize {
			buf, bufLen = seed, seedLen
		}
		buf, bufLen = s.appendParagraph(buf, bufLen, para, paraLen)
	}

	emit(buf)
	return out
}

func joinedLen(bufLen, paraLen int) int {
	if bufLen == 0 {
		return paraLen
	}
	return bufLen + len(paragraphSep) + paraLen
}

func (s *Splitter) appendParagraph(buf string, bufLen int, para string, paraLen int) (string, int) {
	if buf == "" {
		return para, paraLen
	}
	return buf + paragraphSep + para, bufLen + len(paragraphSep) + paraLen
}

// slice cuts an oversized paragraph into MaxSize windows stepping MaxSize-Overlap.
func (s *Splitter) slice(para string) []string {
	runes := []rune(para)
	step := s.p.MaxSize - s.p.Overlap

	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+s.p.MaxSize, len(runes))
		piece := runes[start:end]
		if len(piece) > s.p.MinSliceChars {
			if trimmed := strings.TrimSpace(string(piece)); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[len(runes)-n:]))
}
