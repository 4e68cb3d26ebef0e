// Package ratelimit implements per-identifier sliding-window limiting
// with progressive DDoS penalties. Counters live in a pluggable Store so
// a single instance can use process memory while a fleet shares Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store records request timestamps per identifier. Implementations must
// serialize concurrent access to the same identifier; different
// identifiers may proceed in parallel.
type Store interface {
	// Append records one request at ts.
	Append(ctx context.Context, identifier string, ts time.Time) error
	// CountSince returns the number of recorded requests at or after since.
	CountSince(ctx context.Context, identifier string, since time.Time) (int, error)
	// PruneBefore drops requests recorded before cutoff.
	PruneBefore(ctx context.Context, identifier string, cutoff time.Time) error
}

// MemoryStore keeps timestamp lists in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string][]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string][]time.Time)}
}

func (s *MemoryStore) Append(_ context.Context, identifier string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[identifier] = append(s.counters[identifier], ts)
	return nil
}

func (s *MemoryStore) CountSince(_ context.Context, identifier string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, ts := range s.counters[identifier] {
		if !ts.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) PruneBefore(_ context.Context, identifier string, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	timestamps := s.counters[identifier]
	pruned := timestamps[:0]
	for _, ts := range timestamps {
		if !ts.Before(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	if len(pruned) == 0 {
		delete(s.counters, identifier)
		return nil
	}
	s.counters[identifier] = pruned
	return nil
}
