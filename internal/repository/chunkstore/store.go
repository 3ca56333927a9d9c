// Package chunkstore holds the in-memory chunk store owned by the pipeline.
package chunkstore

import (
	"maps"
	"slices"
	"sync"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/chunk"
)

// Store keeps chunks in insertion order plus one bookkeeping record per source.
// Writers hold the lock only for the slice mutation; readers take a snapshot.
type Store struct {
	mu     sync.RWMutex
	chunks []chunk.Chunk
	docs   map[string]domain.Document
}

// New creates an empty store.
func New() *Store {
	return &Store{docs: make(map[string]domain.Document)}
}

// Commit appends all chunks of one document in a single critical section.
// Re-ingesting a source is an explicit replace, the same as DeleteSource followed
// by Commit under one lock: the old chunk set is dropped and the new one is
// indexed 0..n-1. Outside of Clear, DeleteSource and this replace no chunk is removed.
func (s *Store) Commit(doc domain.Document, chunks []chunk.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.Filename]; ok {
		s.chunks = removeSource(s.chunks, doc.Filename)
	}
	s.chunks = append(s.chunks, chunks...)
	s.docs[doc.Filename] = doc
}

// Snapshot returns a point-in-time copy of the chunk slice.
// Chunk values are shared; embeddings must be treated as read-only.
func (s *Store) Snapshot() []chunk.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chunks)
}

// Clear removes every chunk and document record.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.docs = make(map[string]domain.Document)
}

// DeleteSource removes all chunks of one source and reports how many were dropped.
// A missing source returns domain.ErrNotFound.
func (s *Store) DeleteSource(source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[source]; !ok {
		return 0, domain.ErrNotFound
	}
	before := len(s.chunks)
	s.chunks = removeSource(s.chunks, source)
	delete(s.docs, source)
	return before - len(s.chunks), nil
}

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Documents returns the bookkeeping records sorted by filename.
func (s *Store) Documents() []domain.Document {
	s.mu.RLock()
	docs := slices.Collect(maps.Values(s.docs))
	s.mu.RUnlock()

	slices.SortFunc(docs, func(a, b domain.Document) int {
		switch {
		case a.Filename < b.Filename:
			return -1
		case a.Filename > b.Filename:
			return 1
		default:
			return 0
		}
	})
	return docs
}

// Stats counts documents, chunks and documents per source type.
func (s *Store) Stats() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make(map[string]int)
	for _, d := range s.docs {
		types[d.SourceType]++
	}
	return domain.Stats{
		Documents:   len(s.docs),
		Chunks:      len(s.chunks),
		SourceTypes: types,
	}
}

func removeSource(chunks []chunk.Chunk, source string) []chunk.Chunk {
	return slices.DeleteFunc(chunks, func(c chunk.Chunk) bool {
		return c.SourceID == source
	})
}
