package identity

import (
	"log/slog"
	"time"

	"github.com/vetgate/vetgate/internal/model"
	"github.com/vetgate/vetgate/internal/revocation"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	Valid     bool
	Clearance model.ClearanceLevel
	Reason    string // set when Valid is false
}

// Service authenticates callers against stored key records, checking
// revocation state and rejecting replayed messages.
type Service struct {
	keys        *KeyStore
	revocations *revocation.Registry
	replays     *ReplayGuard
	logger      *slog.Logger
}

// NewService wires the key store, revocation registry, and replay guard.
func NewService(keys *KeyStore, revocations *revocation.Registry, nonceWindow time.Duration, logger *slog.Logger) *Service {
	return &Service{
		keys:        keys,
		revocations: revocations,
		replays:     NewReplayGuard(nonceWindow),
		logger:      logger,
	}
}

// GenerateKeypair issues a keypair for a user, stores only the public
// record, and returns both halves to the caller. The private key is not
// retained; this is the caller's one chance to capture it.
func (s *Service) GenerateKeypair(userID string, clearance model.ClearanceLevel) (*Keypair, error) {
	kp, err := GenerateKeypair(userID)
	if err != nil {
		return nil, err
	}
	s.keys.Register(KeyRecord{
		UserID:    userID,
		PublicKey: kp.PublicKey,
		Clearance: clearance,
		IssuedAt:  time.Now().UTC(),
	})
	s.logger.Info("keypair issued", "user_id", userID, "clearance", clearance.String(),
		"fingerprint", Fingerprint(kp.PublicKey)[:16])
	return kp, nil
}

// Authenticate verifies a signed message for a user.
//
// Order matters: revocation is consulted before any cryptographic work so
// a revoked identity fails immediately regardless of signature validity,
// and the replay check runs only after the signature verifies so garbage
// input cannot poison the replay cache.
func (s *Service) Authenticate(userID string, message []byte, signature string) AuthResult {
	if st := s.revocations.IsRevoked("", userID); st.Revoked {
		return AuthResult{Reason: "user revoked: " + st.Reason}
	}

	rec, ok := s.keys.Get(userID)
	if !ok {
		return AuthResult{Reason: "unknown user"}
	}
	if rec.Expired(time.Now()) {
		return AuthResult{Reason: "key record expired"}
	}

	if !Verify(rec.PublicKey, message, signature) {
		return AuthResult{Reason: "signature mismatch"}
	}

	if s.replays.Seen(userID, message, signature) {
		s.logger.Warn("replayed signed message rejected", "user_id", userID)
		return AuthResult{Reason: "replayed message"}
	}

	return AuthResult{Valid: true, Clearance: rec.Clearance}
}

// Keys exposes the underlying key store (for status output and reloads).
func (s *Service) Keys() *KeyStore {
	return s.keys
}
