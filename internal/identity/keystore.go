package identity

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/vetgate/vetgate/internal/model"
)

// KeyRecord is the server-side view of a user's key: the public half and
// the trust metadata attached at issuance. Private keys never appear here.
type KeyRecord struct {
	UserID    string
	PublicKey ed25519.PublicKey
	Clearance model.ClearanceLevel
	IssuedAt  time.Time
	ExpiresAt time.Time // zero means no expiry
}

// Expired reports whether the record has an expiry in the past.
func (r KeyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// KeyStore holds public key records, keyed by user ID.
type KeyStore struct {
	mu      sync.RWMutex
	records map[string]KeyRecord
}

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		records: make(map[string]KeyRecord),
	}
}

// Register stores a public key record, replacing any previous record for
// the same user.
func (ks *KeyStore) Register(rec KeyRecord) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.records[rec.UserID] = rec
}

// LoadFromDir merges all .pub files from a directory into the store.
func (ks *KeyStore) LoadFromDir(dir string) error {
	loaded, err := LoadPublicRecords(dir)
	if err != nil {
		return fmt.Errorf("loading keys from %s: %w", dir, err)
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for id, rec := range loaded {
		ks.records[id] = rec
	}
	return nil
}

// ReloadFromDir clears all records and reloads .pub files from the
// directory. Used by the key-directory watcher.
func (ks *KeyStore) ReloadFromDir(dir string) error {
	loaded, err := LoadPublicRecords(dir)
	if err != nil {
		return fmt.Errorf("reloading keys from %s: %w", dir, err)
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.records = loaded
	return nil
}

// Get returns the key record for a user.
func (ks *KeyStore) Get(userID string) (KeyRecord, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	rec, ok := ks.records[userID]
	return rec, ok
}

// Count returns the number of stored records.
func (ks *KeyStore) Count() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.records)
}

// UserIDs returns the IDs of all registered users.
func (ks *KeyStore) UserIDs() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	ids := make([]string, 0, len(ks.records))
	for id := range ks.records {
		ids = append(ids, id)
	}
	return ids
}
