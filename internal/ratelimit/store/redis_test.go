package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testRedisConfig(prefix string) RedisConfig {
	return RedisConfig{
		Host:   "localhost",
		Port:   6379,
		DB:     15,
		Prefix: prefix,
	}
}

func setupRedisTest(t *testing.T) (*Redis, func()) {
	t.Helper()

	config := testRedisConfig("test:ratelimit:")
	store := NewRedis(config)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		store.Close()
		t.Skip("Redis not available:", err)
	}

	cleanup := func() {
		ctx := context.Background()
		iter := store.client.Scan(ctx, 0, config.Prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			store.client.Del(ctx, iter.Val())
		}
		store.Close()
	}

	return store, cleanup
}

func TestRedisConfig_Addr(t *testing.T) {
	config := RedisConfig{Host: "cache", Port: 6380}
	if got := config.Addr(); got != "cache:6380" {
		t.Errorf("Addr() = %s, want cache:6380", got)
	}
}

func TestNewRedis_LazyConnection(t *testing.T) {
	// Nothing listens here; construction must still succeed.
	store := NewRedis(RedisConfig{Host: "localhost", Port: 1, DialTimeout: 100 * time.Millisecond})
	defer store.Close()

	if store.prefix != "ratelimit:" {
		t.Errorf("prefix = %q, want default ratelimit:", store.prefix)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := store.Ping(ctx); err == nil {
		t.Error("Ping() against closed port should error")
	}
	if _, _, err := store.Increment(ctx, "client", time.Minute); err == nil {
		t.Error("Increment() against closed port should error")
	}
}

func TestParseIncrResult(t *testing.T) {
	tests := []struct {
		name      string
		result    []any
		wantCount int64
		wantTTL   time.Duration
		wantErr   bool
	}{
		{"valid", []any{int64(3), int64(1500)}, 3, 1500 * time.Millisecond, false},
		{"negative ttl clamps to zero", []any{int64(1), int64(-1)}, 1, 0, false},
		{"short result", []any{int64(1)}, 0, 0, true},
		{"bad count type", []any{"1", int64(10)}, 0, 0, true},
		{"bad ttl type", []any{int64(1), "10"}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, ttl, err := parseIncrResult(tt.result)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseIncrResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if count != tt.wantCount || ttl != tt.wantTTL {
				t.Errorf("parseIncrResult() = (%d, %v), want (%d, %v)", count, ttl, tt.wantCount, tt.wantTTL)
			}
		})
	}
}

func TestRedis_Increment(t *testing.T) {
	store, cleanup := setupRedisTest(t)
	defer cleanup()

	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		count, ttl, err := store.Increment(ctx, "test:sequential", time.Minute)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if count != i {
			t.Errorf("Increment() = %v, want %v", count, i)
		}
		if ttl <= 0 || ttl > time.Minute {
			t.Errorf("Increment() ttl = %v, want within (0, 1m]", ttl)
		}
	}
}

func TestRedis_Increment_Expiration(t *testing.T) {
	store, cleanup := setupRedisTest(t)
	defer cleanup()

	ctx := context.Background()
	key := "test:expiration"
	window := 200 * time.Millisecond

	if count, _, _ := store.Increment(ctx, key, window); count != 1 {
		t.Fatalf("Increment() = %v, want 1", count)
	}
	if count, _, _ := store.Increment(ctx, key, window); count != 2 {
		t.Fatalf("Increment() before expiration = %v, want 2", count)
	}

	time.Sleep(400 * time.Millisecond)

	count, _, err := store.Increment(ctx, key, window)
	if err != nil {
		t.Fatalf("Increment() after expiration error = %v", err)
	}
	if count != 1 {
		t.Errorf("Increment() after expiration = %v, want 1 (reset)", count)
	}
}

func TestRedis_Increment_ConcurrentDistinctCounts(t *testing.T) {
	store, cleanup := setupRedisTest(t)
	defer cleanup()

	ctx := context.Background()
	const goroutines = 50

	counts := make(chan int64, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			count, _, err := store.Increment(ctx, "test:concurrent", time.Minute)
			if err != nil {
				t.Errorf("Increment() error = %v", err)
				return
			}
			counts <- count
		}()
	}

	wg.Wait()
	close(counts)

	seen := make(map[int64]bool)
	for c := range counts {
		if seen[c] {
			t.Errorf("count %d observed twice", c)
		}
		seen[c] = true
	}
	if len(seen) != goroutines {
		t.Errorf("observed %d distinct counts, want %d", len(seen), goroutines)
	}
}

func TestRedis_Increment_RestoresMissingExpiry(t *testing.T) {
	store, cleanup := setupRedisTest(t)
	defer cleanup()

	ctx := context.Background()
	key := "test:no_expiry"
	store.client.Set(ctx, store.prefix+key, 5, 0)

	count, ttl, err := store.Increment(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if count != 6 {
		t.Errorf("Increment() count = %v, want 6", count)
	}
	if ttl != time.Minute {
		t.Errorf("Increment() ttl = %v, want 1m", ttl)
	}

	pttl, err := store.client.PTTL(ctx, store.prefix+key).Result()
	if err != nil {
		t.Fatalf("PTTL() error = %v", err)
	}
	if pttl <= 0 {
		t.Errorf("PTTL() = %v, want > 0", pttl)
	}
}

func TestRedis_PrefixIsolation(t *testing.T) {
	store1, cleanup := setupRedisTest(t)
	defer cleanup()

	store2 := newRedisFromClient(store1.client, "test:ratelimit:other:")

	ctx := context.Background()
	if _, _, err := store1.Increment(ctx, "shared", time.Minute); err != nil {
		t.Fatalf("store1.Increment() error = %v", err)
	}

	count, _, err := store2.Increment(ctx, "shared", time.Minute)
	if err != nil {
		t.Fatalf("store2.Increment() error = %v", err)
	}
	if count != 1 {
		t.Errorf("store2.Increment() = %v, want 1 (prefixes should isolate)", count)
	}
}

func TestRedis_ContextCancellation(t *testing.T) {
	store, cleanup := setupRedisTest(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := store.Increment(ctx, "test:context", time.Minute); err == nil {
		t.Error("Increment() with canceled context should error")
	}
	if err := store.Ping(ctx); err == nil {
		t.Error("Ping() with canceled context should error")
	}
}

func TestRedis_ErrorsAfterClose(t *testing.T) {
	store, cleanup := setupRedisTest(t)
	defer cleanup()

	store.Close()

	ctx := context.Background()
	if _, _, err := store.Increment(ctx, "test:closed", time.Minute); err == nil {
		t.Error("Increment() after Close() should error")
	}
	if err := store.Ping(ctx); err == nil {
		t.Error("Ping() after Close() should error")
	}
}

func BenchmarkRedis_Increment(b *testing.B) {
	store := NewRedis(testRedisConfig("bench:"))
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		b.Skip("Redis not available:", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = store.Increment(ctx, "bench:key", time.Minute)
	}
}
