// Package revocation tracks revoked tokens and users. Revocation is
// monotonic: once an identifier is revoked this package never clears it;
// re-admitting a user is an administrative action that issues a fresh
// key record instead.
package revocation

import (
	"log/slog"
	"sync"
	"time"
)

// Record captures why and when an identifier was revoked.
type Record struct {
	Reason    string    `json:"reason"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Status is the result of a revocation check.
type Status struct {
	Revoked bool
	Reason  string
}

// UserEntry is one revoked user in an exported list.
type UserEntry struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// List is a CRL-style snapshot suitable for distribution to downstream
// verifiers that cache revocation state locally.
type List struct {
	Version     int         `json:"version"`
	GeneratedAt time.Time   `json:"generated_at"`
	NextUpdate  time.Time   `json:"next_update"`
	Tokens      []string    `json:"tokens"`
	Users       []UserEntry `json:"users"`
}

// Registry is the in-memory revocation store.
type Registry struct {
	mu      sync.RWMutex
	tokens  map[string]Record
	users   map[string]Record
	version int
	refresh time.Duration
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. refresh sets the advertised
// next-update interval on exported lists.
func NewRegistry(refresh time.Duration, logger *slog.Logger) *Registry {
	if refresh <= 0 {
		refresh = 15 * time.Minute
	}
	return &Registry{
		tokens:  make(map[string]Record),
		users:   make(map[string]Record),
		refresh: refresh,
		logger:  logger,
	}
}

// RevokeToken marks a single token as revoked. Revoking an already
// revoked token keeps the original record.
func (r *Registry) RevokeToken(tokenID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[tokenID]; exists {
		return
	}
	r.tokens[tokenID] = Record{Reason: reason, RevokedAt: time.Now().UTC()}
	r.version++
	r.logger.Info("token revoked", "token_id", tokenID, "reason", reason)
}

// RevokeUserTokens revokes every token belonging to a user, present and
// future, until the user is re-issued a key record.
func (r *Registry) RevokeUserTokens(userID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[userID]; exists {
		return
	}
	r.users[userID] = Record{Reason: reason, RevokedAt: time.Now().UTC()}
	r.version++
	r.logger.Info("user revoked", "user_id", userID, "reason", reason)
}

// IsRevoked checks a token and its owning user. The user-wide check wins
// when both match. Either argument may be empty.
func (r *Registry) IsRevoked(tokenID, userID string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if userID != "" {
		if rec, ok := r.users[userID]; ok {
			return Status{Revoked: true, Reason: rec.Reason}
		}
	}
	if tokenID != "" {
		if rec, ok := r.tokens[tokenID]; ok {
			return Status{Revoked: true, Reason: rec.Reason}
		}
	}
	return Status{}
}

// Export produces a snapshot of all revocations for distribution.
func (r *Registry) Export() List {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now().UTC()
	list := List{
		Version:     r.version,
		GeneratedAt: now,
		NextUpdate:  now.Add(r.refresh),
		Tokens:      make([]string, 0, len(r.tokens)),
		Users:       make([]UserEntry, 0, len(r.users)),
	}
	for id := range r.tokens {
		list.Tokens = append(list.Tokens, id)
	}
	for id, rec := range r.users {
		list.Users = append(list.Users, UserEntry{UserID: id, Reason: rec.Reason})
	}
	return list
}

// Counts returns the number of revoked tokens and users.
func (r *Registry) Counts() (tokens, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens), len(r.users)
}
