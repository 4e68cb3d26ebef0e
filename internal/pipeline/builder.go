package pipeline

import (
	"fmt"
	"slices"

	"github.com/vetgate/vetgate/internal/anomaly"
	"github.com/vetgate/vetgate/internal/config"
	"github.com/vetgate/vetgate/internal/content"
	"github.com/vetgate/vetgate/internal/identity"
	"github.com/vetgate/vetgate/internal/model"
	"github.com/vetgate/vetgate/internal/ratelimit"
	"github.com/vetgate/vetgate/internal/revocation"
	"github.com/vetgate/vetgate/internal/ssrf"
)

// Components holds the built security services the gates wrap.
type Components struct {
	Identity    *identity.Service
	Revocations *revocation.Registry
	Limiter     *ratelimit.Limiter
	SSRF        *ssrf.Validator
	Content     *content.Verifier
	Anomaly     *anomaly.Detector
}

// BuildGates assembles the gate list from config: the default order,
// reordered by gates.order when set, minus gates.disabled. Unknown gate
// IDs in either list are an error rather than a silent no-op.
func BuildGates(cfg *config.Config, c Components) ([]Gate, error) {
	floors := make(map[string]model.ClearanceLevel, len(cfg.Gates.MinClearance))
	for action, name := range cfg.Gates.MinClearance {
		lvl, err := model.ParseClearance(name)
		if err != nil {
			return nil, fmt.Errorf("gates.min_clearance[%q]: %w", action, err)
		}
		floors[action] = lvl
	}

	available := map[string]Gate{
		"auth":       AuthGate(c.Identity),
		"revocation": RevocationGate(c.Revocations),
		"rate_limit": RateLimitGate(c.Limiter),
		"ssrf":       SSRFGate(c.SSRF),
		"content":    ContentGate(c.Content),
		"clearance":  ClearanceGate(floors),
		"anomaly":    AnomalyGate(c.Anomaly),
	}

	defaultOrder := []string{"auth", "revocation", "rate_limit", "ssrf", "content", "clearance", "anomaly"}
	order := cfg.Gates.Order
	for _, id := range order {
		if _, ok := available[id]; !ok {
			return nil, fmt.Errorf("gates.order: unknown gate %q", id)
		}
	}
	// Unlisted built-in gates keep their default position after the
	// explicitly ordered ones.
	for _, id := range defaultOrder {
		if !slices.Contains(order, id) {
			order = append(order, id)
		}
	}

	for _, id := range cfg.Gates.Disabled {
		if _, ok := available[id]; !ok {
			return nil, fmt.Errorf("gates.disabled: unknown gate %q", id)
		}
	}

	var gates []Gate
	for _, id := range order {
		if slices.Contains(cfg.Gates.Disabled, id) {
			continue
		}
		gates = append(gates, available[id])
	}
	if len(gates) == 0 {
		return nil, fmt.Errorf("no gates enabled")
	}
	return gates, nil
}
