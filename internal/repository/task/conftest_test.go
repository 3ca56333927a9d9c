package task

import (
	"context"
	"sync"

	"github.com/kailas-cloud/ragdex/internal/db"
)

// memStore is an in-memory implementation of the consumer interface.
type memStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string

	hsetErr error
	scanErr error
	delKeys [][]string
}

func newMemStore() *memStore {
	return &memStore{hashes: make(map[string]map[string]string)}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hsetErr != nil {
		return m.hsetErr
	}
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *memStore) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	if _, exists := h[field]; exists {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (m *memStore) HSetIfExists(_ context.Context, key, guard string, fields map[string]string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hsetErr != nil {
		return false, m.hsetErr
	}
	h, ok := m.hashes[key]
	if !ok {
		return false, nil
	}
	if _, claimed := h[guard]; !claimed {
		return false, nil
	}
	for k, v := range fields {
		h[k] = v
	}
	return true, nil
}

func (m *memStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok || len(h) == 0 {
		return nil, db.ErrKeyNotFound
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delKeys = append(m.delKeys, keys)
	for _, k := range keys {
		delete(m.hashes, k)
	}
	return nil
}

func (m *memStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	prefix := pattern[:len(pattern)-1]
	var keys []string
	for k := range m.hashes {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
