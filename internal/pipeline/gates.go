package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vetgate/vetgate/internal/anomaly"
	"github.com/vetgate/vetgate/internal/content"
	"github.com/vetgate/vetgate/internal/identity"
	"github.com/vetgate/vetgate/internal/model"
	"github.com/vetgate/vetgate/internal/ratelimit"
	"github.com/vetgate/vetgate/internal/revocation"
	"github.com/vetgate/vetgate/internal/ssrf"
)

func pass(severity model.Severity, msg string) model.GateResult {
	return model.GateResult{Passed: true, Severity: severity, Message: msg, Timestamp: time.Now().UTC()}
}

func fail(severity model.Severity, msg string) model.GateResult {
	return model.GateResult{Passed: false, Severity: severity, Message: msg, Timestamp: time.Now().UTC()}
}

// AuthGate verifies the caller's Ed25519 signature and that the claimed
// clearance does not exceed the registered key's level. Unsigned
// requests pass only when they claim no clearance above PUBLIC.
func AuthGate(svc *identity.Service) Gate {
	return NewGate("auth", "Key & Signature Verification", func(_ context.Context, sc *model.SecurityContext) model.GateResult {
		if sc.CallerID == "" || sc.Signature == "" {
			if sc.Clearance > model.ClearancePublic {
				return fail(model.SeverityCritical,
					fmt.Sprintf("unsigned request claims %s clearance", sc.Clearance))
			}
			return pass(model.SeverityWarning, "unsigned request, treated as PUBLIC")
		}

		res := svc.Authenticate(sc.CallerID, []byte(sc.SignedMessage), sc.Signature)
		if !res.Valid {
			return fail(model.SeverityCritical, res.Reason)
		}
		if sc.Clearance > res.Clearance {
			return fail(model.SeverityCritical,
				fmt.Sprintf("claimed clearance %s exceeds registered %s", sc.Clearance, res.Clearance))
		}

		r := pass(model.SeverityInfo, "signature verified")
		r.Metadata = map[string]string{"clearance": res.Clearance.String()}
		return r
	})
}

// RevocationGate rejects revoked tokens and revoked users.
func RevocationGate(reg *revocation.Registry) Gate {
	return NewGate("revocation", "Revocation Check", func(_ context.Context, sc *model.SecurityContext) model.GateResult {
		st := reg.IsRevoked(sc.TokenID, sc.CallerID)
		if st.Revoked {
			return fail(model.SeverityCritical, "credentials revoked: "+st.Reason)
		}
		return pass(model.SeverityInfo, "not revoked")
	})
}

// RateLimitGate consumes one slot from the caller's sliding window. A
// store error fails closed.
func RateLimitGate(l *ratelimit.Limiter) Gate {
	return NewGate("rate_limit", "Rate Limit", func(ctx context.Context, sc *model.SecurityContext) model.GateResult {
		res, err := l.CheckLimit(ctx, sc.Identifier())
		if err != nil {
			return fail(model.SeverityCritical, "rate limit store unavailable: "+err.Error())
		}
		if !res.Allowed {
			r := fail(model.SeverityCritical, "rate limit exceeded")
			r.Metadata = map[string]string{
				"retry_after_s": strconv.Itoa(int(res.RetryAfter / time.Second)),
			}
			return r
		}
		r := pass(model.SeverityInfo, "within limit")
		r.Metadata = map[string]string{"remaining": strconv.Itoa(res.Remaining)}
		return r
	})
}

// SSRFGate validates the outbound target URL when the request has one.
func SSRFGate(v *ssrf.Validator) Gate {
	return NewGate("ssrf", "Outbound URL Validation", func(ctx context.Context, sc *model.SecurityContext) model.GateResult {
		if sc.TargetURL == "" {
			return pass(model.SeverityInfo, "no outbound target")
		}
		verdict := v.ValidateURL(ctx, sc.TargetURL)
		if !verdict.Valid {
			return fail(model.SeverityCritical, verdict.Reason)
		}
		return pass(model.SeverityInfo, "target permitted")
	})
}

// ContentGate screens the request payload for injection patterns,
// suspicious entropy, and semantic findings.
func ContentGate(v *content.Verifier) Gate {
	return NewGate("content", "Content Verification", func(ctx context.Context, sc *model.SecurityContext) model.GateResult {
		if sc.Payload == "" {
			return pass(model.SeverityInfo, "empty payload")
		}

		report, err := v.Verify(ctx, sc.Payload, sc.ContentType)
		if err != nil {
			return fail(model.SeverityCritical, "content verification unavailable: "+err.Error())
		}

		meta := map[string]string{
			"confidence": strconv.FormatFloat(report.Confidence, 'f', 2, 64),
			"issues":     strconv.Itoa(len(report.Issues)),
		}
		if !report.Safe {
			r := fail(model.SeverityCritical, summarizeIssues(report.Issues))
			r.Metadata = meta
			return r
		}
		if len(report.Issues) > 0 {
			r := pass(model.SeverityWarning, summarizeIssues(report.Issues))
			r.Metadata = meta
			return r
		}
		r := pass(model.SeverityInfo, "payload clean")
		r.Metadata = meta
		return r
	})
}

func summarizeIssues(issues []content.Issue) string {
	msgs := make([]string, 0, len(issues))
	for _, is := range issues {
		msgs = append(msgs, is.Message)
	}
	return strings.Join(msgs, "; ")
}

// AnomalyGate scores the request against the caller's behavioral
// baseline.
func AnomalyGate(d *anomaly.Detector) Gate {
	return NewGate("anomaly", "Anomaly Detection", func(_ context.Context, sc *model.SecurityContext) model.GateResult {
		res := d.Detect(sc)
		meta := map[string]string{"score": strconv.FormatFloat(res.Score, 'f', 2, 64)}
		if res.Anomalous {
			r := fail(model.SeverityCritical, "anomalous behavior: "+strings.Join(res.Alerts, "; "))
			r.Metadata = meta
			return r
		}
		if len(res.Alerts) > 0 {
			r := pass(model.SeverityWarning, strings.Join(res.Alerts, "; "))
			r.Metadata = meta
			return r
		}
		r := pass(model.SeverityInfo, "within baseline")
		r.Metadata = meta
		return r
	})
}
