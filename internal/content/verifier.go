// Package content scans request payloads in three stages: signature
// matching against known-malicious patterns, Shannon-entropy screening
// for encoded or obfuscated blobs, and an injected semantic scorer.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/vetgate/vetgate/internal/model"
)

// Issue is one finding from a verification stage.
type Issue struct {
	Stage    string         `json:"stage"` // signature, entropy, semantic
	Severity model.Severity `json:"severity"`
	Message  string         `json:"message"`
	Match    string         `json:"match,omitempty"`
}

// Report merges the results of all stages.
type Report struct {
	Safe       bool
	Confidence float64
	Issues     []Issue
}

// signature pairs a name with its compiled pattern. Any match is a
// CRITICAL finding.
type signature struct {
	name    string
	pattern *regexp.Regexp
}

var signatures = []signature{
	{"sql-injection-drop", regexp.MustCompile(`(?i)['"]?\s*;\s*drop\s+table`)},
	{"sql-injection-union", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"sql-injection-tautology", regexp.MustCompile(`(?i)['"]\s*or\s+['"]?1['"]?\s*=\s*['"]?1`)},
	{"sql-comment-trailer", regexp.MustCompile(`(?i);\s*--\s*$`)},
	{"script-tag", regexp.MustCompile(`(?i)<\s*script[\s>]`)},
	{"javascript-uri", regexp.MustCompile(`(?i)javascript\s*:`)},
	{"event-handler-injection", regexp.MustCompile(`(?i)\bon(error|load|click|mouseover)\s*=`)},
	{"eval-loader", regexp.MustCompile(`(?i)\beval\s*\(\s*(atob|unescape|String\.fromCharCode)\s*\(`)},
	{"shell-command-chain", regexp.MustCompile(`(?i)[;&|]\s*(rm\s+-rf|curl\s+|wget\s+|nc\s+-e)`)},
	{"command-substitution", regexp.MustCompile("\\$\\([^)]*\\)|`[^`]+`")},
	{"path-traversal", regexp.MustCompile(`\.\./\.\./`)},
	{"template-injection", regexp.MustCompile(`\{\{\s*[^}]*(system|exec|popen)[^}]*\}\}`)},
}

// Scorer is the injected semantic/reputation stage. Implementations may
// call out to an external service; errors fail closed at the gate level.
type Scorer interface {
	Score(ctx context.Context, content, contentType string) ([]Issue, error)
}

// Verifier runs the staged scan.
type Verifier struct {
	entropyThreshold float64
	entropyMinLen    int
	scorer           Scorer // nil disables the semantic stage
	logger           *slog.Logger
}

// NewVerifier creates a verifier. scorer may be nil.
func NewVerifier(entropyThreshold float64, entropyMinLen int, scorer Scorer, logger *slog.Logger) *Verifier {
	if entropyThreshold <= 0 {
		entropyThreshold = 7.0
	}
	if entropyMinLen <= 0 {
		entropyMinLen = 64
	}
	return &Verifier{
		entropyThreshold: entropyThreshold,
		entropyMinLen:    entropyMinLen,
		scorer:           scorer,
		logger:           logger,
	}
}

// Verify runs every stage and merges the findings. Stage order is fixed;
// later stages run even when earlier ones already found critical issues,
// so the report reflects everything wrong with the payload.
func (v *Verifier) Verify(ctx context.Context, content, contentType string) (Report, error) {
	var issues []Issue

	// Stage 1: known-malicious signatures.
	for _, sig := range signatures {
		if m := sig.pattern.FindString(content); m != "" {
			issues = append(issues, Issue{
				Stage:    "signature",
				Severity: model.SeverityCritical,
				Message:  "matched signature " + sig.name,
				Match:    truncate(m, 120),
			})
		}
	}

	// Stage 2: entropy screening. High entropy on short content is
	// meaningless, so a minimum length applies.
	if len(content) >= v.entropyMinLen {
		if e := ShannonEntropy(content); e > v.entropyThreshold {
			issues = append(issues, Issue{
				Stage:    "entropy",
				Severity: model.SeverityWarning,
				Message:  fmt.Sprintf("entropy %.2f bits/symbol exceeds threshold %.2f (possible encoded payload)", e, v.entropyThreshold),
			})
		}
	}

	// Stage 3: semantic scorer, when configured.
	if v.scorer != nil {
		scored, err := v.scorer.Score(ctx, content, contentType)
		if err != nil {
			return Report{}, fmt.Errorf("semantic scoring: %w", err)
		}
		issues = append(issues, scored...)
	}

	return buildReport(issues), nil
}

// buildReport computes confidence and safety from merged issues:
// confidence = max(0, 1 - 0.3*critical - 0.1*warning), safe when no
// critical findings exist.
func buildReport(issues []Issue) Report {
	critical, warning := 0, 0
	for _, issue := range issues {
		switch issue.Severity {
		case model.SeverityCritical:
			critical++
		case model.SeverityWarning:
			warning++
		}
	}
	confidence := 1 - 0.3*float64(critical) - 0.1*float64(warning)
	if confidence < 0 {
		confidence = 0
	}
	return Report{
		Safe:       critical == 0,
		Confidence: confidence,
		Issues:     issues,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
