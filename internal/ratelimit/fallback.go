package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localBuckets keeps one token bucket per client for the FailLocal policy.
// Buckets refill at limit/window with a burst of limit, so the average rate
// matches the shared fixed window while the store is down.
type localBuckets struct {
	mu        sync.Mutex
	entries   map[string]*localEntry
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
}

type localEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLocalBuckets(limit int64, window time.Duration) *localBuckets {
	return &localBuckets{
		entries: make(map[string]*localEntry),
		rate:    rate.Limit(float64(limit) / window.Seconds()),
		burst:   int(limit),
		idleTTL: max(2*window, time.Minute),
	}
}

// allow takes one token for key and reports whether it was available along with
// the delay until the next token.
func (b *localBuckets) allow(key string, now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastSweep) >= b.idleTTL {
		b.sweep(now)
	}

	ent, ok := b.entries[key]
	if !ok {
		ent = &localEntry{lim: rate.NewLimiter(b.rate, b.burst)}
		b.entries[key] = ent
	}
	ent.lastSeen = now

	r := ent.lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (b *localBuckets) sweep(now time.Time) {
	cutoff := now.Add(-b.idleTTL)
	for k, ent := range b.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(b.entries, k)
		}
	}
	b.lastSweep = now
}

func (b *localBuckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
