package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/vetgate/vetgate/internal/model"
)

// ClearanceGate enforces a per-action clearance floor. The floor for an
// action is the longest matching entry: an exact action match wins,
// otherwise dot-separated prefixes are tried ("db.query" falls back to
// "db"), otherwise the "" default applies.
func ClearanceGate(floors map[string]model.ClearanceLevel) Gate {
	return NewGate("clearance", "Clearance Floor", func(_ context.Context, sc *model.SecurityContext) model.GateResult {
		required, ok := lookupFloor(floors, sc.Action)
		if !ok {
			return pass(model.SeverityInfo, "no clearance floor for action")
		}
		if sc.Clearance < required {
			return fail(model.SeverityCritical,
				fmt.Sprintf("action %q requires %s, caller has %s", sc.Action, required, sc.Clearance))
		}
		return pass(model.SeverityInfo, "clearance sufficient")
	})
}

func lookupFloor(floors map[string]model.ClearanceLevel, action string) (model.ClearanceLevel, bool) {
	if lvl, ok := floors[action]; ok {
		return lvl, true
	}
	for i := len(action) - 1; i > 0; i-- {
		if action[i] != '.' {
			continue
		}
		if lvl, ok := floors[action[:i]]; ok {
			return lvl, true
		}
	}
	lvl, ok := floors[""]
	return lvl, ok
}

// Predicate is one owner-defined policy condition. detail is reported
// in the gate message either way.
type Predicate func(sc *model.SecurityContext) (ok bool, detail string)

// PredicateGate adapts a Predicate into a pipeline gate. Failures carry
// the given severity, so soft policies can report WARNING without
// affecting the outcome classification.
func PredicateGate(id, name string, severity model.Severity, pred Predicate) Gate {
	return NewGate(id, name, func(_ context.Context, sc *model.SecurityContext) model.GateResult {
		ok, detail := pred(sc)
		if !ok {
			return fail(severity, detail)
		}
		return pass(model.SeverityInfo, detail)
	})
}

// Approvals counts sign-offs per request for actions that need more
// than one human.
type Approvals struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewApprovals creates an empty approval tracker.
func NewApprovals() *Approvals {
	return &Approvals{counts: make(map[string]int)}
}

// Grant records one approval for a request.
func (a *Approvals) Grant(requestID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[requestID]++
}

// Count returns the approvals recorded for a request.
func (a *Approvals) Count(requestID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[requestID]
}

// MultiPartyGate requires N recorded approvals before the listed
// actions may proceed. Actions outside the map pass untouched.
func MultiPartyGate(required map[string]int, approvals *Approvals) Gate {
	return NewGate("multi_party", "Multi-Party Approval", func(_ context.Context, sc *model.SecurityContext) model.GateResult {
		need, ok := required[sc.Action]
		if !ok || need <= 0 {
			return pass(model.SeverityInfo, "no approval requirement")
		}
		have := approvals.Count(sc.RequestID)
		if have < need {
			return fail(model.SeverityCritical,
				fmt.Sprintf("action %q has %d of %d required approvals", sc.Action, have, need))
		}
		return pass(model.SeverityInfo, fmt.Sprintf("%d approvals recorded", have))
	})
}
