package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps buckets in process memory. Each bucket has its own lock,
// so checks on different keys do not contend beyond the map lookup.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

type bucket struct {
	mu         sync.Mutex
	timestamps []time.Time
	// dead is set once Cleanup has removed the bucket from the map.
	dead bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

// Allow prunes entries at or before now-window, rejects when the remaining
// count has reached the rule, and records now otherwise.
func (s *MemoryStore) Allow(_ context.Context, key string, rule Rule, now time.Time) (Result, error) {
	b := s.lockedBucket(key)
	defer b.mu.Unlock()

	b.prune(now.Add(-rule.Window))

	if len(b.timestamps) >= rule.Count {
		return Result{
			Allowed:    false,
			RetryAfter: retryAfter(rule.Window, now, b.timestamps[0]),
		}, nil
	}

	b.timestamps = append(b.timestamps, now)
	return Result{Allowed: true, Remaining: rule.Count - len(b.timestamps)}, nil
}

// Forget removes one entry recorded at exactly at. The client uses it to roll
// back a speculative record when the send it guarded fails.
func (s *MemoryStore) Forget(key string, at time.Time) {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ts := range b.timestamps {
		if ts.Equal(at) {
			b.timestamps = append(b.timestamps[:i], b.timestamps[i+1:]...)
			return
		}
	}
}

// Cleanup drops buckets with no entries newer than maxAge.
func (s *MemoryStore) Cleanup(now time.Time, maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.buckets {
		b.mu.Lock()
		b.prune(now.Add(-maxAge))
		if len(b.timestamps) == 0 {
			b.dead = true
			delete(s.buckets, key)
		}
		b.mu.Unlock()
	}
}

// lockedBucket returns the live bucket for key with its lock held. A bucket
// Cleanup removed between the map lookup and the lock is skipped, so no
// entry is recorded where later checks cannot see it.
func (s *MemoryStore) lockedBucket(key string) *bucket {
	for {
		b := s.bucket(key)
		b.mu.Lock()
		if !b.dead {
			return b
		}
		b.mu.Unlock()
	}
}

func (s *MemoryStore) bucket(key string) *bucket {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[key]; !ok {
		b = &bucket{}
		s.buckets[key] = b
	}
	return b
}

func (b *bucket) prune(cutoff time.Time) {
	i := 0
	for i < len(b.timestamps) && !b.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.timestamps = append(b.timestamps[:0], b.timestamps[i:]...)
	}
}
