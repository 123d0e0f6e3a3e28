package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisGetPutRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	if _, err := store.Get(ctx, "fp1"); err != ErrMiss {
		t.Fatalf("Get on empty cache = %v, want ErrMiss", err)
	}

	if err := store.Put(ctx, "fp1", sampleResult("10"), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, err := store.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !entry.Result.Cached {
		t.Error("cached result must have Cached=true")
	}
	if string(entry.Result.ReturnValue) != "10" {
		t.Errorf("return value = %s, want 10", entry.Result.ReturnValue)
	}
	if entry.HitCount != 1 {
		t.Errorf("hit count = %d, want 1", entry.HitCount)
	}
}

func TestRedisPutIsFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	if err := store.Put(ctx, "fp1", sampleResult("10"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "fp1", sampleResult("999"), time.Hour); err != nil {
		t.Fatal(err)
	}

	entry, err := store.Get(ctx, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Result.ReturnValue) != "10" {
		t.Errorf("second Put overwrote live entry: %s", entry.Result.ReturnValue)
	}
}

func TestRedisExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	if err := store.Put(ctx, "fp1", sampleResult("10"), time.Minute); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "fp1"); err != ErrMiss {
		t.Errorf("expired entry Get = %v, want ErrMiss", err)
	}
}

func TestRedisClearOlderThan(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	// Backdate an entry by writing it directly with an old created_at.
	old := redisEntry{Result: sampleResult("1"), CreatedAt: time.Now().Add(-48 * time.Hour), TTLMs: (100 * time.Hour).Milliseconds()}
	data, _ := json.Marshal(old)
	if err := store.client.Set(ctx, entryKeyPrefix+"old", data, 100*time.Hour).Err(); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "new", sampleResult("2"), time.Hour); err != nil {
		t.Fatal(err)
	}

	deleted, err := store.Clear(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := store.Get(ctx, "old"); err != ErrMiss {
		t.Error("old entry survived clear")
	}
	if _, err := store.Get(ctx, "new"); err != nil {
		t.Errorf("new entry removed by clear: %v", err)
	}
}

func TestRedisClearAll(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	_ = store.Put(ctx, "a", sampleResult("1"), time.Hour)
	_ = store.Put(ctx, "b", sampleResult("2"), time.Hour)

	deleted, err := store.Clear(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
}

func TestRedisStats(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	_ = store.Put(ctx, "fp1", sampleResult("10"), time.Hour)
	_, _ = store.Get(ctx, "fp1")
	_, _ = store.Get(ctx, "fp1")
	_, _ = store.Get(ctx, "missing")

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalCached != 1 {
		t.Errorf("TotalCached = %d, want 1", stats.TotalCached)
	}
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", stats.Hits, stats.Misses)
	}
	if stats.AvgDurationMS != 40 {
		t.Errorf("AvgDurationMS = %f, want 40", stats.AvgDurationMS)
	}
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)
	mr.Close()

	_, err := store.Get(ctx, "fp1")
	if err == nil || err == ErrMiss {
		t.Errorf("Get on dead redis = %v, want unavailable error", err)
	}

	// Wrapped in Resilient, the outage reads as a miss.
	r := NewResilient(store)
	if _, err := r.Get(ctx, "fp1"); err != ErrMiss {
		t.Errorf("Resilient Get on dead redis = %v, want ErrMiss", err)
	}
}
