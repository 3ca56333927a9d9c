// Package chunk defines the retrievable text segment and the paragraph-aware splitter.
package chunk

import "strconv"

// Chunk is a contiguous segment of one source's normalized text.
// Index runs 0..n-1 per source in emission order. An empty or all-zero
// Embedding means the chunk has no usable vector and never matches a query.
type Chunk struct {
	SourceID  string
	Index     int
	Text      string
	Embedding []float32
}

// Ref returns the citation key "source:index".
func (c Chunk) Ref() string {
	return c.SourceID + ":" + strconv.Itoa(c.Index)
}

// HasEmbedding reports whether the chunk carries a usable vector.
func (c Chunk) HasEmbedding() bool {
	for _, x := range c.Embedding {
		if x != 0 {
			return true
		}
	}
	return false
}
