package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/sandbox"
)

// Sentinel errors for typed error checking.
var (
	ErrMiss        = errors.New("cache miss")
	ErrUnavailable = errors.New("cache unavailable")
)

// Entry is one cached execution result, immutable for its TTL window.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	Result      *sandbox.Result `json:"result"`
	CreatedAt   time.Time       `json:"created_at"`
	TTL         time.Duration   `json:"ttl"`
	HitCount    int64           `json:"hit_count"`
}

// Stats is the administrative view of the cache.
type Stats struct {
	TotalCached   int64   `json:"total_cached"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	HitRate       float64 `json:"hit_rate"`
}

// Store is the content-addressed result cache. Put is first-writer-wins: a
// second Put for a still-live fingerprint leaves the stored result
// unchanged. Get performs lazy expiry, so a stale entry is a miss.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Put(ctx context.Context, fingerprint string, result *sandbox.Result, ttl time.Duration) error
	Clear(ctx context.Context, olderThan time.Duration) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Resilient wraps a store so that a cache outage degrades the pipeline to
// always-execute instead of failing it: a backend error reads as a miss and
// writes are dropped with a log line.
type Resilient struct {
	inner Store
}

func NewResilient(inner Store) *Resilient {
	return &Resilient{inner: inner}
}

func (r *Resilient) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	entry, err := r.inner.Get(ctx, fingerprint)
	if err != nil && !errors.Is(err, ErrMiss) {
		log.Warn().Err(err).Msg("cache read failed, treating as miss")
		return nil, ErrMiss
	}
	return entry, err
}

func (r *Resilient) Put(ctx context.Context, fingerprint string, result *sandbox.Result, ttl time.Duration) error {
	if err := r.inner.Put(ctx, fingerprint, result, ttl); err != nil {
		log.Warn().Err(err).Msg("cache write failed, result not cached")
	}
	return nil
}

func (r *Resilient) Clear(ctx context.Context, olderThan time.Duration) (int64, error) {
	return r.inner.Clear(ctx, olderThan)
}

func (r *Resilient) Stats(ctx context.Context) (Stats, error) {
	return r.inner.Stats(ctx)
}

func (r *Resilient) Close() error {
	return r.inner.Close()
}
