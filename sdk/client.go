// Package sdk provides a Go client for the vetgate decision API.
//
// Basic usage:
//
//	c := sdk.NewClient("http://localhost:8443", "my-service", nil)
//	d, err := c.Evaluate(ctx, sdk.Request{Action: "db.query", Payload: q})
//
// With Ed25519 signing:
//
//	kp, _ := sdk.LoadKeypair("./keys", "my-service")
//	c := sdk.NewClient("http://localhost:8443", "my-service", kp.PrivateKey)
//	d, err := c.Evaluate(ctx, sdk.Request{Action: "db.query", Payload: q})
package sdk

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Request describes one action to evaluate.
type Request struct {
	Action    string `json:"action"`
	Resource  string `json:"resource,omitempty"`
	Payload   string `json:"payload,omitempty"`
	TargetURL string `json:"target_url,omitempty"`
	Clearance string `json:"clearance,omitempty"`
	TokenID   string `json:"token_id,omitempty"`
}

type wireRequest struct {
	Request
	CallerID      string `json:"caller_id,omitempty"`
	Signature     string `json:"signature,omitempty"`
	SignedMessage string `json:"signed_message,omitempty"`
}

// GateResult is one gate's verdict as returned by the API.
type GateResult struct {
	GateID   string            `json:"gate_id"`
	GateName string            `json:"gate_name"`
	Passed   bool              `json:"passed"`
	Severity string            `json:"severity"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Decision is returned by POST /v1/decisions.
type Decision struct {
	RequestID   string       `json:"request_id"`
	Outcome     string       `json:"outcome"` // ALLOWED, QUARANTINED, DENIED
	Allowed     bool         `json:"allowed"`
	GateResults []GateResult `json:"gate_results"`
	EntryID     string       `json:"audit_entry_id,omitempty"`
	ChainHash   string       `json:"chain_hash,omitempty"`
	RetryAfterS int          `json:"retry_after_s,omitempty"`
}

// RevocationList mirrors GET /v1/revocations.
type RevocationList struct {
	Version     int       `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
	NextUpdate  time.Time `json:"next_update"`
	Tokens      []string  `json:"tokens"`
	Users       []struct {
		UserID string `json:"user_id"`
		Reason string `json:"reason"`
	} `json:"users"`
}

// Health is returned by GET /healthz.
type Health struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	ChainEntries int    `json:"chain_entries"`
	ChainHash    string `json:"chain_hash"`
}

// DecisionError is returned when the gateway does not allow a request.
type DecisionError struct {
	StatusCode int
	Decision   Decision
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("vetgate: %s (HTTP %d, request=%s)",
		e.Decision.Outcome, e.StatusCode, e.Decision.RequestID)
}

// Client talks to a vetgate gateway.
type Client struct {
	baseURL    string
	callerID   string
	privateKey ed25519.PrivateKey // nil = unsigned
	httpClient *http.Client
}

// NewClient creates a client. Pass nil for privateKey to send unsigned
// requests, which the gateway treats as PUBLIC clearance.
func NewClient(baseURL, callerID string, privateKey ed25519.PrivateKey) *Client {
	return &Client{
		baseURL:    baseURL,
		callerID:   callerID,
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Evaluate submits a request for a gate decision. A non-allowed outcome
// returns both the decision and a DecisionError.
func (c *Client) Evaluate(ctx context.Context, req Request) (*Decision, error) {
	wire := wireRequest{Request: req, CallerID: c.callerID}
	if c.privateKey != nil {
		nonce, err := newNonce()
		if err != nil {
			return nil, err
		}
		wire.SignedMessage = fmt.Sprintf("%s\n%s\n%s\n%s", c.callerID, req.Action, req.Payload, nonce)
		wire.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(c.privateKey, []byte(wire.SignedMessage)))
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/decisions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	var d Decision
	if err := json.NewDecoder(httpResp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decoding response (HTTP %d): %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode == http.StatusOK {
		return &d, nil
	}
	return &d, &DecisionError{StatusCode: httpResp.StatusCode, Decision: d}
}

// Revoke revokes a token or every token of a user on the gateway and
// returns the updated list. Exactly one of tokenID and userID may be
// empty.
func (c *Client) Revoke(ctx context.Context, tokenID, userID, reason string) (*RevocationList, error) {
	body, err := json.Marshal(map[string]string{
		"token_id": tokenID,
		"user_id":  userID,
		"reason":   reason,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/revocations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("revoking: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("revoking: HTTP %d", httpResp.StatusCode)
	}

	var list RevocationList
	if err := json.NewDecoder(httpResp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding revocations: %w", err)
	}
	return &list, nil
}

// Revocations fetches the current revocation list.
func (c *Client) Revocations(ctx context.Context) (*RevocationList, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/revocations", nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching revocations: %w", err)
	}
	defer httpResp.Body.Close()

	var list RevocationList
	if err := json.NewDecoder(httpResp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding revocations: %w", err)
	}
	return &list, nil
}

// Health checks the gateway health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	defer httpResp.Body.Close()

	var h Health
	if err := json.NewDecoder(httpResp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding health: %w", err)
	}
	return &h, nil
}

// newNonce returns a timestamp plus 16 random bytes, so two signed
// messages with identical content never collide in the gateway's
// replay guard.
func newNonce() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("reading random nonce bytes: %w", err)
	}
	return fmt.Sprintf("%d.%s", time.Now().UTC().UnixNano(), hex.EncodeToString(buf[:])), nil
}

// Keypair holds an Ed25519 key pair loaded from disk.
type Keypair struct {
	Name       string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// LoadKeypair loads a vetgate keypair from PEM files in the given
// directory. Expects <dir>/<name>.key.
func LoadKeypair(dir, name string) (*Keypair, error) {
	privPath := filepath.Join(dir, name+".key")
	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	privBlock, _ := pem.Decode(privPEM)
	if privBlock == nil {
		return nil, fmt.Errorf("invalid PEM in %s", privPath)
	}
	priv := ed25519.PrivateKey(privBlock.Bytes)
	pub := priv.Public().(ed25519.PublicKey)

	return &Keypair{Name: name, PublicKey: pub, PrivateKey: priv}, nil
}
