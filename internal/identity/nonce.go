package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// ReplayGuard remembers recently seen (message, signature) pairs per user
// for a bounded window. A second presentation of an identical signed
// message inside the window is a replay, even though the signature still
// verifies.
type ReplayGuard struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time // userID + digest -> first seen
}

// NewReplayGuard creates a guard that remembers pairs for the given window.
func NewReplayGuard(window time.Duration) *ReplayGuard {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &ReplayGuard{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Seen records the pair and reports whether it was already present within
// the window. Expired entries are pruned opportunistically on each call.
func (g *ReplayGuard) Seen(userID string, message []byte, signature string) bool {
	digest := sha256.Sum256(append(append([]byte(userID+"\n"), message...), []byte("\n"+signature)...))
	key := hex.EncodeToString(digest[:])

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-g.window)
	for k, t := range g.seen {
		if t.Before(cutoff) {
			delete(g.seen, k)
		}
	}

	if _, ok := g.seen[key]; ok {
		return true
	}
	g.seen[key] = now
	return false
}

// Len returns the number of tracked pairs, for tests and status output.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
