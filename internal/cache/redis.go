package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/sandbox"
)

// Key layout: one JSON entry per fingerprint plus a hit counter alongside
// it, and two global counters for the stats surface.
const (
	entryKeyPrefix = "codegen:result:"
	hitsKeyPrefix  = "codegen:hitcount:"
	statsHitsKey   = "codegen:stats:hits"
	statsMissesKey = "codegen:stats:misses"
)

// RedisStore is the shared result cache.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, addr string, db int, timeout time.Duration) (*RedisStore, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Int("db", db).Msg("connected to redis")
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client; tests use this with
// miniredis.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisEntry struct {
	Result    *sandbox.Result `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
	TTLMs     int64           `json:"ttl_ms"`
}

func (r *RedisStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	data, err := r.client.Get(ctx, entryKeyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		_ = r.client.Incr(ctx, statsMissesKey).Err()
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var re redisEntry
	if err := json.Unmarshal(data, &re); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}

	// Redis expires the key itself; this guards against clock drift between
	// the TTL and the recorded creation time.
	ttl := time.Duration(re.TTLMs) * time.Millisecond
	if time.Since(re.CreatedAt) >= ttl {
		_ = r.client.Del(ctx, entryKeyPrefix+fingerprint, hitsKeyPrefix+fingerprint).Err()
		_ = r.client.Incr(ctx, statsMissesKey).Err()
		return nil, ErrMiss
	}

	_ = r.client.Incr(ctx, statsHitsKey).Err()
	hitCount, _ := r.client.Incr(ctx, hitsKeyPrefix+fingerprint).Result()

	res := *re.Result
	res.Cached = true
	return &Entry{
		Fingerprint: fingerprint,
		Result:      &res,
		CreatedAt:   re.CreatedAt,
		TTL:         ttl,
		HitCount:    hitCount,
	}, nil
}

func (r *RedisStore) Put(ctx context.Context, fingerprint string, result *sandbox.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	data, err := json.Marshal(redisEntry{
		Result:    result,
		CreatedAt: time.Now(),
		TTLMs:     ttl.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	// SET NX: first writer wins for a live fingerprint.
	if err := r.client.SetNX(ctx, entryKeyPrefix+fingerprint, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	var deleted int64
	iter := r.client.Scan(ctx, 0, entryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		if olderThan > 0 {
			data, err := r.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var re redisEntry
			if err := json.Unmarshal(data, &re); err != nil || !re.CreatedAt.Before(cutoff) {
				continue
			}
		}

		fp := key[len(entryKeyPrefix):]
		if err := r.client.Del(ctx, key, hitsKeyPrefix+fp).Err(); err == nil {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return deleted, nil
}

func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	hits, _ := r.client.Get(ctx, statsHitsKey).Int64()
	misses, _ := r.client.Get(ctx, statsMissesKey).Int64()

	var total int64
	var durSumMS int64
	iter := r.client.Scan(ctx, 0, entryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var re redisEntry
		if err := json.Unmarshal(data, &re); err != nil {
			continue
		}
		total++
		durSumMS += re.Result.Duration.Milliseconds()
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := Stats{
		TotalCached: total,
		Hits:        hits,
		Misses:      misses,
		HitRate:     hitRate(hits, misses),
	}
	if total > 0 {
		s.AvgDurationMS = float64(durSumMS) / float64(total)
	}
	return s, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
