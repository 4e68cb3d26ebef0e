package content

import (
	"context"
	"fmt"

	"github.com/garagon/aguara"

	"github.com/vetgate/vetgate/internal/model"
)

// AguaraScorer implements the semantic stage with the Aguara rule
// engine, covering prompt injection, credential leaks, and related
// threat patterns beyond the built-in signature list.
type AguaraScorer struct {
	opts []aguara.Option
}

// NewAguaraScorer creates a scorer. If customRulesDir is non-empty,
// rules from that directory are loaded in addition to the built-ins.
func NewAguaraScorer(customRulesDir string) *AguaraScorer {
	s := &AguaraScorer{}
	if customRulesDir != "" {
		s.opts = append(s.opts, aguara.WithCustomRules(customRulesDir))
	}
	return s
}

// Score scans the content and maps rule findings onto verifier issues.
func (s *AguaraScorer) Score(ctx context.Context, content, contentType string) ([]Issue, error) {
	filename := "payload.txt"
	if contentType == "markdown" {
		filename = "payload.md"
	}
	result, err := aguara.ScanContent(ctx, content, filename, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("aguara scan: %w", err)
	}

	var issues []Issue
	for _, f := range result.Findings {
		severity := model.SeverityInfo
		switch {
		case f.Severity >= aguara.SeverityCritical:
			severity = model.SeverityCritical
		case f.Severity >= aguara.SeverityHigh:
			severity = model.SeverityWarning
		}
		issues = append(issues, Issue{
			Stage:    "semantic",
			Severity: severity,
			Message:  fmt.Sprintf("rule %s (%s)", f.RuleID, f.RuleName),
			Match:    truncate(f.MatchedText, 120),
		})
	}
	return issues, nil
}

// RulesCount reports how many rules the engine has loaded.
func (s *AguaraScorer) RulesCount(ctx context.Context) int {
	result, err := aguara.ScanContent(ctx, "probe", "probe.txt", s.opts...)
	if err != nil {
		return 0
	}
	return result.RulesLoaded
}
