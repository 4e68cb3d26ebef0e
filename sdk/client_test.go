package sdk

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8443", "test-service", nil)
	if c.baseURL != "http://localhost:8443" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.callerID != "test-service" {
		t.Errorf("callerID = %q", c.callerID)
	}
	if c.privateKey != nil {
		t.Error("expected nil private key")
	}
}

func TestEvaluate_Allowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/decisions" {
			t.Errorf("path = %s", r.URL.Path)
		}

		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.CallerID != "svc-a" {
			t.Errorf("caller_id = %q", req.CallerID)
		}
		if req.Action != "db.query" {
			t.Errorf("action = %q", req.Action)
		}

		_ = json.NewEncoder(w).Encode(Decision{
			RequestID: "req-1",
			Outcome:   "ALLOWED",
			Allowed:   true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-a", nil)
	d, err := c.Evaluate(context.Background(), Request{Action: "db.query", Payload: "SELECT 1"})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.Outcome != "ALLOWED" {
		t.Errorf("decision = %+v", d)
	}
}

func TestEvaluate_SignedRequest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Signature == "" || req.SignedMessage == "" {
			t.Error("expected signed request")
		}
		sig, err := base64.StdEncoding.DecodeString(req.Signature)
		if err != nil {
			t.Fatalf("signature base64: %v", err)
		}
		if !ed25519.Verify(pub, []byte(req.SignedMessage), sig) {
			t.Error("signature does not verify")
		}
		_ = json.NewEncoder(w).Encode(Decision{Outcome: "ALLOWED", Allowed: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-a", priv)
	if _, err := c.Evaluate(context.Background(), Request{Action: "db.query"}); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluate_SignedMessagesAreUnique(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if seen[req.SignedMessage] {
			t.Errorf("signed message repeated: %q", req.SignedMessage)
		}
		seen[req.SignedMessage] = true
		_ = json.NewEncoder(w).Encode(Decision{Outcome: "ALLOWED", Allowed: true})
	}))
	defer srv.Close()

	// Identical requests back to back must not produce identical signed
	// messages, or the second would be rejected as a replay.
	c := NewClient(srv.URL, "svc-a", priv)
	for i := 0; i < 5; i++ {
		if _, err := c.Evaluate(context.Background(), Request{Action: "db.query", Payload: "same"}); err != nil {
			t.Fatal(err)
		}
	}
	if len(seen) != 5 {
		t.Errorf("distinct signed messages = %d, want 5", len(seen))
	}
}

func TestEvaluate_Quarantined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(Decision{
			RequestID: "req-2",
			Outcome:   "QUARANTINED",
			Allowed:   false,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-a", nil)
	d, err := c.Evaluate(context.Background(), Request{Action: "db.query", Payload: "'; DROP TABLE users; --"})
	if err == nil {
		t.Fatal("expected DecisionError")
	}

	var derr *DecisionError
	if !errors.As(err, &derr) {
		t.Fatalf("error type = %T", err)
	}
	if derr.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d", derr.StatusCode)
	}
	if d == nil || d.Outcome != "QUARANTINED" {
		t.Errorf("decision = %+v", d)
	}
}

func TestRevocationsAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/revocations":
			_, _ = w.Write([]byte(`{"version":3,"tokens":["tok-1"],"users":[{"user_id":"svc-b","reason":"leak"}]}`))
		case "/healthz":
			_, _ = w.Write([]byte(`{"status":"ok","chain_entries":12}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "svc-a", nil)

	list, err := c.Revocations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if list.Version != 3 || len(list.Tokens) != 1 || len(list.Users) != 1 {
		t.Errorf("list = %+v", list)
	}

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.ChainEntries != 12 {
		t.Errorf("health = %+v", h)
	}
}

func TestLoadKeypair(t *testing.T) {
	dir := t.TempDir()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "VETGATE ED25519 PRIVATE KEY", Bytes: priv})
	if err := os.WriteFile(filepath.Join(dir, "svc-a.key"), pemBytes, 0o600); err != nil {
		t.Fatal(err)
	}

	kp, err := LoadKeypair(dir, "svc-a")
	if err != nil {
		t.Fatal(err)
	}
	if kp.Name != "svc-a" {
		t.Errorf("name = %q", kp.Name)
	}
	if !kp.PrivateKey.Equal(priv) {
		t.Error("private key mismatch")
	}

	if _, err := LoadKeypair(dir, "missing"); err == nil {
		t.Error("expected error for missing key")
	}
}
