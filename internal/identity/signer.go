package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// Sign signs a message and returns the signature base64-encoded.
func Sign(privateKey ed25519.PrivateKey, message []byte) string {
	sig := ed25519.Sign(privateKey, message)
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify checks a base64 signature over message. ed25519.Verify runs in
// constant time with respect to the signature bytes.
func Verify(publicKey ed25519.PublicKey, message []byte, signatureB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey, message, sig)
}

// NewNonce returns a single-use nonce for embedding in signed messages:
// a UTC timestamp plus 16 random bytes.
func NewNonce() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("reading random nonce bytes: %w", err)
	}
	return fmt.Sprintf("%d.%s", time.Now().UTC().UnixNano(), hex.EncodeToString(buf[:])), nil
}
