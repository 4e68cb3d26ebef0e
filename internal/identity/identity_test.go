package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vetgate/vetgate/internal/model"
)

func TestGenerateKeypair(t *testing.T) {
	kp, err := GenerateKeypair("alice")
	if err != nil {
		t.Fatal(err)
	}
	if kp.UserID != "alice" {
		t.Errorf("user id = %q, want %q", kp.UserID, "alice")
	}
	if len(kp.PublicKey) != 32 {
		t.Errorf("public key length = %d, want 32", len(kp.PublicKey))
	}
	if len(kp.PrivateKey) != 64 {
		t.Errorf("private key length = %d, want 64", len(kp.PrivateKey))
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	kp, err := GenerateKeypair("alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := kp.Save(dir, model.ClearanceGamma); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "alice.key")); err != nil {
		t.Errorf("private key file not found: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "alice.pub")); err != nil {
		t.Errorf("public key file not found: %v", err)
	}

	loaded, err := LoadKeypair(dir, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.PublicKey.Equal(kp.PublicKey) {
		t.Error("loaded public key doesn't match original")
	}

	rec, err := LoadPublicRecord(dir, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Clearance != model.ClearanceGamma {
		t.Errorf("clearance = %s, want GAMMA", rec.Clearance)
	}
}

func TestSignAndVerify(t *testing.T) {
	kp, _ := GenerateKeypair("signer")
	msg := []byte("approve transfer 42")

	sig := Sign(kp.PrivateKey, msg)
	if !Verify(kp.PublicKey, msg, sig) {
		t.Error("valid signature rejected")
	}
	if Verify(kp.PublicKey, []byte("approve transfer 43"), sig) {
		t.Error("tampered message verified")
	}
	if Verify(kp.PublicKey, msg, "not-valid-base64!!!") {
		t.Error("garbage signature verified")
	}
}

func TestVerifyWrongKey(t *testing.T) {
	kp1, _ := GenerateKeypair("a")
	kp2, _ := GenerateKeypair("b")

	sig := Sign(kp1.PrivateKey, []byte("hello"))
	if Verify(kp2.PublicKey, []byte("hello"), sig) {
		t.Error("signature verified with wrong key")
	}
}

func TestLoadPublicRecords(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		kp, _ := GenerateKeypair(name)
		if err := kp.Save(dir, model.ClearanceAlpha); err != nil {
			t.Fatal(err)
		}
	}

	records, err := LoadPublicRecords(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Errorf("loaded %d records, want 3", len(records))
	}
}

func TestFingerprint(t *testing.T) {
	kp, _ := GenerateKeypair("fp")
	fp := Fingerprint(kp.PublicKey)
	if len(fp) != 64 { // SHA-256 hex
		t.Errorf("fingerprint length = %d, want 64", len(fp))
	}
	if fp != Fingerprint(kp.PublicKey) {
		t.Error("fingerprint should be deterministic")
	}
}

func TestNewNonceUnique(t *testing.T) {
	a, err := NewNonce()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewNonce()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two nonces should not collide")
	}
}
