package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps per-team request timestamps in process memory. State is
// deliberately volatile: a restart clears all windows. A background goroutine
// evicts teams that have gone quiet.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[uint64][]time.Time

	now  func() time.Time
	done chan struct{}
	once sync.Once
}

// NewMemoryLimiter constructs a MemoryLimiter and starts its eviction loop.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		windows: make(map[uint64][]time.Time),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Allow prunes timestamps older than the trailing window, rejects when the
// remaining count has reached the limit, and records the attempt otherwise.
func (m *MemoryLimiter) Allow(_ context.Context, teamID uint64, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	now := m.now()
	cutoff := now.Add(-Window)

	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.windows[teamID]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		m.windows[teamID] = kept
		return false, nil
	}

	m.windows[teamID] = append(kept, now)
	return true, nil
}

// Close stops the eviction goroutine.
func (m *MemoryLimiter) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// evictLoop periodically drops teams whose whole window has aged out.
func (m *MemoryLimiter) evictLoop() {
	ticker := time.NewTicker(Window)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

// evictStale removes teams with no timestamps inside the trailing window.
func (m *MemoryLimiter) evictStale() {
	cutoff := m.now().Add(-Window)

	m.mu.Lock()
	defer m.mu.Unlock()
	for teamID, window := range m.windows {
		stale := true
		for _, ts := range window {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(m.windows, teamID)
		}
	}
}
