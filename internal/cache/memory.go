package cache

import (
	"context"
	"sync"
	"time"

	"codegen-pipeline/internal/sandbox"
)

// MemoryStore is the in-process fallback when Redis is not configured. Same
// semantics as the Redis store: first-writer-wins puts, lazy expiry on read.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	hits    int64
	misses  int64
}

type memEntry struct {
	result    *sandbox.Result
	createdAt time.Time
	ttl       time.Duration
	hitCount  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

func (m *MemoryStore) Get(_ context.Context, fingerprint string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[fingerprint]
	if !ok {
		m.misses++
		return nil, ErrMiss
	}
	if time.Since(e.createdAt) >= e.ttl {
		delete(m.entries, fingerprint)
		m.misses++
		return nil, ErrMiss
	}

	m.hits++
	e.hitCount++

	// Copy so callers cannot mutate the stored result.
	res := *e.result
	res.Cached = true
	return &Entry{
		Fingerprint: fingerprint,
		Result:      &res,
		CreatedAt:   e.createdAt,
		TTL:         e.ttl,
		HitCount:    e.hitCount,
	}, nil
}

func (m *MemoryStore) Put(_ context.Context, fingerprint string, result *sandbox.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[fingerprint]; ok && time.Since(e.createdAt) < e.ttl {
		// First writer wins for a live fingerprint.
		return nil
	}

	res := *result
	m.entries[fingerprint] = &memEntry{
		result:    &res,
		createdAt: time.Now(),
		ttl:       ttl,
	}
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	cutoff := time.Now().Add(-olderThan)
	for fp, e := range m.entries {
		if olderThan <= 0 || e.createdAt.Before(cutoff) {
			delete(m.entries, fp)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	var durSum time.Duration
	now := time.Now()
	for _, e := range m.entries {
		if now.Sub(e.createdAt) >= e.ttl {
			continue
		}
		total++
		durSum += e.result.Duration
	}

	s := Stats{
		TotalCached: total,
		Hits:        m.hits,
		Misses:      m.misses,
		HitRate:     hitRate(m.hits, m.misses),
	}
	if total > 0 {
		s.AvgDurationMS = float64(durSum.Milliseconds()) / float64(total)
	}
	return s, nil
}

func (m *MemoryStore) Close() error { return nil }
