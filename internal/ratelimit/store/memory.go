package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by a Memory store after Close.
var ErrClosed = errors.New("store closed")

type memoryEntry struct {
	count      int64
	expiration time.Time
}

// Memory is an in-process Store. Counters are not shared between instances, so it
// only suits single-instance development and tests.
type Memory struct {
	mu        sync.RWMutex
	entries   map[string]*memoryEntry
	stopCh    chan struct{}
	closeOnce sync.Once
	closed    bool
}

// NewMemory creates a new in-memory store with periodic cleanup of expired entries.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		stopCh:  make(chan struct{}),
	}

	go m.cleanup()
	return m
}

func (m *Memory) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, 0, ErrClosed
	}

	now := time.Now()
	entry, exists := m.entries[key]

	if !exists || !now.Before(entry.expiration) {
		m.entries[key] = &memoryEntry{
			count:      1,
			expiration: now.Add(window),
		}
		return 1, window, nil
	}

	entry.count++
	return entry.count, max(0, entry.expiration.Sub(now)), nil
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.stopCh)
	})
	return nil
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictExpired(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

func (m *Memory) evictExpired(now time.Time) {
	var expiredKeys []string

	m.mu.RLock()
	for key, entry := range m.entries {
		if !now.Before(entry.expiration) {
			expiredKeys = append(expiredKeys, key)
		}
	}
	m.mu.RUnlock()

	if len(expiredKeys) == 0 {
		return
	}

	m.mu.Lock()
	for _, key := range expiredKeys {
		if entry, ok := m.entries[key]; ok && !now.Before(entry.expiration) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}
