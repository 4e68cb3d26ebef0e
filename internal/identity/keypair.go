// Package identity provides Ed25519 key issuance, message signing, and
// caller authentication with replay protection. Private keys are handed
// to the caller exactly once at generation time; the server keeps only
// public key records.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vetgate/vetgate/internal/model"
	"github.com/vetgate/vetgate/internal/safefile"
)

const (
	pemTypePrivate = "VETGATE ED25519 PRIVATE KEY"
	pemTypePublic  = "VETGATE ED25519 PUBLIC KEY"
)

// Keypair holds an Ed25519 key pair for a user.
type Keypair struct {
	UserID     string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeypair creates a new Ed25519 key pair for the named user.
func GenerateKeypair(userID string) (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	return &Keypair{
		UserID:     userID,
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// Save writes the keypair to disk as PEM files:
// <dir>/<user>.key (private) and <dir>/<user>.pub (public).
// The public PEM carries the clearance level as a header so a key
// directory is self-describing.
func (kp *Keypair) Save(dir string, clearance model.ClearanceLevel) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating keys directory: %w", err)
	}

	privBlock := &pem.Block{
		Type:  pemTypePrivate,
		Bytes: kp.PrivateKey,
	}
	privPath := filepath.Join(dir, kp.UserID+".key")
	if err := os.WriteFile(privPath, pem.EncodeToMemory(privBlock), 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	pubBlock := &pem.Block{
		Type:    pemTypePublic,
		Headers: map[string]string{"Clearance": clearance.String()},
		Bytes:   kp.PublicKey,
	}
	pubPath := filepath.Join(dir, kp.UserID+".pub")
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(pubBlock), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	return nil
}

// LoadKeypair loads a full keypair (private + public) from disk.
// Key files must not be symlinks and must not exceed 64 KB.
func LoadKeypair(dir, userID string) (*Keypair, error) {
	privPath := filepath.Join(dir, userID+".key")
	privPEM, err := safefile.ReadFileMax(privPath, 64*1024)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	privBlock, _ := pem.Decode(privPEM)
	if privBlock == nil {
		return nil, fmt.Errorf("invalid PEM in %s", privPath)
	}
	priv := ed25519.PrivateKey(privBlock.Bytes)

	rec, err := LoadPublicRecord(dir, userID)
	if err != nil {
		// Derive public key from private key
		return &Keypair{
			UserID:     userID,
			PublicKey:  priv.Public().(ed25519.PublicKey),
			PrivateKey: priv,
		}, nil
	}

	return &Keypair{
		UserID:     userID,
		PublicKey:  rec.PublicKey,
		PrivateKey: priv,
	}, nil
}

// LoadPublicRecord loads the public key record for one user.
// The file must not be a symlink and must not exceed 64 KB.
func LoadPublicRecord(dir, userID string) (KeyRecord, error) {
	pubPath := filepath.Join(dir, userID+".pub")
	pubPEM, err := safefile.ReadFileMax(pubPath, 64*1024)
	if err != nil {
		return KeyRecord{}, fmt.Errorf("reading public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return KeyRecord{}, fmt.Errorf("invalid PEM in %s", pubPath)
	}

	clearance := model.ClearancePublic
	if name, ok := pubBlock.Headers["Clearance"]; ok {
		level, err := model.ParseClearance(name)
		if err != nil {
			return KeyRecord{}, fmt.Errorf("key %s: %w", userID, err)
		}
		clearance = level
	}

	info, err := os.Stat(pubPath)
	if err != nil {
		return KeyRecord{}, err
	}

	return KeyRecord{
		UserID:    userID,
		PublicKey: ed25519.PublicKey(pubBlock.Bytes),
		Clearance: clearance,
		IssuedAt:  info.ModTime().UTC(),
	}, nil
}

// LoadPublicRecords loads all .pub files from a directory, keyed by user ID.
func LoadPublicRecords(dir string) (map[string]KeyRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading keys directory: %w", err)
	}

	records := make(map[string]KeyRecord)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pub" {
			continue
		}
		if entry.Type()&os.ModeSymlink != 0 {
			continue // skip symlinks
		}
		userID := entry.Name()[:len(entry.Name())-4] // strip .pub
		rec, err := LoadPublicRecord(dir, userID)
		if err != nil {
			return nil, fmt.Errorf("loading key for %s: %w", userID, err)
		}
		records[userID] = rec
	}
	return records, nil
}

// Fingerprint returns the SHA-256 hex fingerprint of a public key.
func Fingerprint(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return hex.EncodeToString(h[:])
}
