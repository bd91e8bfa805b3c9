// Package ratelimit counts requests per key over a sliding time window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one hit against a window.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Store records a hit for key if fewer than limit hits fall inside the window ending at now.
// Rejected hits are not recorded. A non-positive limit rejects every hit.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}

// MemoryStore keeps hit timestamps per key in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: make(map[string][]time.Time)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: false, Limit: limit, RetryAfter: window}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	s.sweep(cutoff, now, window)

	hits := prune(s.hits[key], cutoff)

	if len(hits) >= limit {
		s.hits[key] = hits
		retry := hits[0].Add(window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retry}, nil
	}

	hits = append(hits, now)
	s.hits[key] = hits

	return Decision{Allowed: true, Limit: limit, Remaining: limit - len(hits)}, nil
}

// sweep drops idle keys at most once per window.
func (s *MemoryStore) sweep(cutoff, now time.Time, window time.Duration) {
	if now.Sub(s.lastSweep) < window {
		return
	}
	s.lastSweep = now

	for k, hits := range s.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(s.hits, k)
		}
	}
}

// prune drops timestamps at or before cutoff; hits are kept in ascending order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
