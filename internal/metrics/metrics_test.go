package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetgate/vetgate/internal/model"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveDecision(t *testing.T) {
	m := New()

	m.ObserveDecision(model.OutcomeQuarantined, []model.GateResult{
		{GateID: "content", Passed: false, Severity: model.SeverityCritical},
		{GateID: "auth", Passed: true, Severity: model.SeverityInfo},
	}, 5*time.Millisecond)
	m.ObserveDecision(model.OutcomeAllowed, nil, time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `vetgate_decisions_total{outcome="QUARANTINED"} 1`)
	assert.Contains(t, body, `vetgate_decisions_total{outcome="ALLOWED"} 1`)
	assert.Contains(t, body, `vetgate_gate_failures_total{gate="content",severity="CRITICAL"} 1`)
	assert.NotContains(t, body, `gate="auth"`)
}

func TestDDoSAndChainGauges(t *testing.T) {
	m := New()
	m.ObserveDDoSBlock()
	m.ObserveDDoSBlock()
	m.SetChainLength(42)

	body := scrape(t, m)
	assert.Contains(t, body, "vetgate_ddos_blocks_total 2")
	assert.Contains(t, body, "vetgate_audit_chain_entries 42")
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveDDoSBlock()

	assert.Contains(t, scrape(t, a), "vetgate_ddos_blocks_total 1")
	assert.Contains(t, scrape(t, b), "vetgate_ddos_blocks_total 0")
}
