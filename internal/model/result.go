package model

import "time"

// Severity classifies how serious a gate finding is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Outcome is the aggregate decision for one pipeline run.
type Outcome string

const (
	OutcomeAllowed     Outcome = "ALLOWED"
	OutcomeQuarantined Outcome = "QUARANTINED"
	OutcomeDenied      Outcome = "DENIED"
)

// GateResult is the verdict of a single gate. Results are collected in
// gate execution order and never reordered or mutated after capture.
type GateResult struct {
	GateID    string            `json:"gate_id"`
	GateName  string            `json:"gate_name"`
	Passed    bool              `json:"passed"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// CriticalFailure reports whether this result counts toward the
// quarantine/deny threshold.
func (r GateResult) CriticalFailure() bool {
	return !r.Passed && r.Severity == SeverityCritical
}

// Classify maps the number of critical failures in a run to an outcome:
// zero is allowed, one or two quarantine the request for review, three or
// more deny it outright.
func Classify(results []GateResult) Outcome {
	failures := 0
	for _, r := range results {
		if r.CriticalFailure() {
			failures++
		}
	}
	switch {
	case failures == 0:
		return OutcomeAllowed
	case failures <= 2:
		return OutcomeQuarantined
	default:
		return OutcomeDenied
	}
}
