package gateway

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetgate/vetgate/internal/config"
	"github.com/vetgate/vetgate/internal/model"
	"github.com/vetgate/vetgate/internal/revocation"
)

// testServer wires a full gateway on a random port with temp storage.
// The listener is bound but never served; requests go through the
// handler directly.
func testServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Defaults()
	cfg.Server.Port = 0
	cfg.Identity.KeysDir = filepath.Join(dir, "keys")
	cfg.Audit.ChainPath = filepath.Join(dir, "audit", "chain.ndjson")
	cfg.Audit.FallbackPath = filepath.Join(dir, "audit", "fallback.log")
	cfg.Audit.IndexPath = filepath.Join(dir, "audit", "index.db")

	s, err := NewServer(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.ln.Close()
		_ = s.index.Close()
		_ = s.chain.Close()
	})
	return s
}

func postDecision(t *testing.T, s *Server, req DecisionRequest) (*httptest.ResponseRecorder, DecisionResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	httpReq := httptest.NewRequest("POST", "/v1/decisions", bytes.NewReader(body))
	httpReq.RemoteAddr = "10.9.8.7:51234"
	s.srv.Handler.ServeHTTP(rec, httpReq)

	var resp DecisionResponse
	if rec.Code == http.StatusOK || rec.Code == http.StatusForbidden || rec.Code == http.StatusTooManyRequests {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestDecisionUnsignedPublicAllowed(t *testing.T) {
	s := testServer(t)

	rec, resp := postDecision(t, s, DecisionRequest{
		Action:   "files.read",
		Resource: "docs/readme",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Allowed)
	assert.Equal(t, model.OutcomeAllowed, resp.Outcome)
	assert.NotEmpty(t, resp.EntryID)
	assert.NotEmpty(t, resp.ChainHash)
	assert.Equal(t, 1, s.chain.Length())
}

func TestDecisionInjectionQuarantined(t *testing.T) {
	s := testServer(t)

	rec, resp := postDecision(t, s, DecisionRequest{
		Action:  "db.query",
		Payload: "'; DROP TABLE users; --",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, resp.Allowed)
	assert.Equal(t, model.OutcomeQuarantined, resp.Outcome)

	failed := map[string]bool{}
	for _, r := range resp.GateResults {
		if r.CriticalFailure() {
			failed[r.GateID] = true
		}
	}
	assert.True(t, failed["content"])
}

func TestDecisionUnsignedClaimedClearanceRejected(t *testing.T) {
	s := testServer(t)

	rec, resp := postDecision(t, s, DecisionRequest{
		Action:    "db.query",
		Clearance: "OMEGA",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, model.OutcomeQuarantined, resp.Outcome)
}

func TestDecisionValidation(t *testing.T) {
	s := testServer(t)

	rec, _ := postDecision(t, s, DecisionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = postDecision(t, s, DecisionRequest{Action: "x", Clearance: "SUPREME"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevocationEndpoints(t *testing.T) {
	s := testServer(t)

	body := bytes.NewBufferString(`{"user_id":"svc-batch","reason":"credential leak"}`)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/revocations", body))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/revocations", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list revocation.List
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Users, 1)
	assert.Equal(t, "svc-batch", list.Users[0].UserID)

	// A revoked caller is now rejected
	recDec, resp := postDecision(t, s, DecisionRequest{Action: "db.query", CallerID: "svc-batch"})
	assert.Equal(t, http.StatusForbidden, recDec.Code)
	assert.False(t, resp.Allowed)
}

func TestAuditQueryEndpoint(t *testing.T) {
	s := testServer(t)

	postDecision(t, s, DecisionRequest{Action: "files.read"})
	postDecision(t, s, DecisionRequest{Action: "db.query", Payload: "'; DROP TABLE users; --"})

	// The index writer is async
	deadline := time.Now().Add(2 * time.Second)
	var payload struct {
		Count int `json:"count"`
	}
	for time.Now().Before(deadline) {
		rec := httptest.NewRecorder()
		s.srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/audit?outcome=QUARANTINED", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		if payload.Count == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("quarantined decision never appeared in index, count=%d", payload.Count)
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)
	postDecision(t, s, DecisionRequest{Action: "files.read"})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status       string `json:"status"`
		ChainEntries int    `json:"chain_entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.ChainEntries)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t)
	postDecision(t, s, DecisionRequest{Action: "files.read"})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vetgate_decisions_total")
}
