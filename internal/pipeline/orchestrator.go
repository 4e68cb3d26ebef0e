// Package pipeline runs every security gate against a request, in a
// fixed order, and records exactly one audit entry per decision. Gates
// never short-circuit each other; a failed check still lets the rest of
// the pipeline observe the request.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vetgate/vetgate/internal/auditchain"
	"github.com/vetgate/vetgate/internal/model"
)

// Gate is one independent security check. Implementations must not
// mutate the security context and must not panic; a panic is treated
// as a critical gate failure, not a crash.
type Gate interface {
	ID() string
	Name() string
	Check(ctx context.Context, sc *model.SecurityContext) model.GateResult
}

type funcGate struct {
	id    string
	name  string
	check func(ctx context.Context, sc *model.SecurityContext) model.GateResult
}

func (g funcGate) ID() string   { return g.id }
func (g funcGate) Name() string { return g.name }
func (g funcGate) Check(ctx context.Context, sc *model.SecurityContext) model.GateResult {
	return g.check(ctx, sc)
}

// NewGate wraps a plain function as a Gate.
func NewGate(id, name string, check func(ctx context.Context, sc *model.SecurityContext) model.GateResult) Gate {
	return funcGate{id: id, name: name, check: check}
}

// Recorder persists a decision. *auditchain.Chain satisfies this.
type Recorder interface {
	Append(sc *model.SecurityContext, results []model.GateResult, outcome model.Outcome) (*auditchain.Entry, error)
}

// Observer is notified after every decision. Used for metrics.
type Observer interface {
	ObserveDecision(outcome model.Outcome, results []model.GateResult, elapsed time.Duration)
}

// Decision is the pipeline's answer for one request.
type Decision struct {
	Outcome model.Outcome      `json:"outcome"`
	Allowed bool               `json:"allowed"`
	Results []model.GateResult `json:"gate_results"`
	Entry   *auditchain.Entry  `json:"audit_entry,omitempty"`
}

// Orchestrator owns the gate order and the audit recorder.
type Orchestrator struct {
	gates    []Gate
	recorder Recorder
	index    auditchain.Index
	observer Observer
	logger   *slog.Logger
}

// NewOrchestrator assembles the pipeline. index and observer may be nil.
func NewOrchestrator(gates []Gate, recorder Recorder, index auditchain.Index, observer Observer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		gates:    gates,
		recorder: recorder,
		index:    index,
		observer: observer,
		logger:   logger,
	}
}

// Gates returns the configured gate IDs in execution order.
func (o *Orchestrator) Gates() []string {
	ids := make([]string, len(o.gates))
	for i, g := range o.gates {
		ids[i] = g.ID()
	}
	return ids
}

// Process runs every gate, classifies the outcome, and appends the
// decision to the audit chain. If the chain write fails the request is
// denied and the error returned; the entry itself survives in the
// recorder's fallback log.
func (o *Orchestrator) Process(ctx context.Context, sc *model.SecurityContext) (Decision, error) {
	start := time.Now()

	if sc.RequestID == "" {
		sc.RequestID = uuid.NewString()
	}
	if sc.Timestamp.IsZero() {
		sc.Timestamp = time.Now().UTC()
	}

	// A started pipeline runs to completion even if the caller goes
	// away: the audit record must describe every gate that ran.
	gateCtx := context.WithoutCancel(ctx)

	results := make([]model.GateResult, 0, len(o.gates))
	for _, g := range o.gates {
		results = append(results, o.runGate(gateCtx, g, sc))
	}

	outcome := model.Classify(results)
	decision := Decision{
		Outcome: outcome,
		Allowed: outcome == model.OutcomeAllowed,
		Results: results,
	}

	entry, err := o.recorder.Append(sc, results, outcome)
	if err != nil {
		decision.Outcome = model.OutcomeDenied
		decision.Allowed = false
		o.logger.Error("decision not recorded, denying request",
			"request_id", sc.RequestID, "error", err)
		return decision, fmt.Errorf("recording decision: %w", err)
	}
	decision.Entry = entry

	if o.index != nil {
		o.index.Record(auditchain.Project(entry))
	}
	if o.observer != nil {
		o.observer.ObserveDecision(outcome, results, time.Since(start))
	}

	o.logger.Info("request evaluated",
		"request_id", sc.RequestID,
		"caller", sc.Identifier(),
		"action", sc.Action,
		"outcome", outcome,
		"gates", len(results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return decision, nil
}

func (o *Orchestrator) runGate(ctx context.Context, g Gate, sc *model.SecurityContext) (res model.GateResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("gate panicked", "gate", g.ID(), "panic", r)
			// The failing gate produced nothing usable, so the result is
			// attributed to ERROR with the originating gate in metadata.
			res = model.GateResult{
				GateID:    "error",
				GateName:  "ERROR",
				Passed:    false,
				Severity:  model.SeverityCritical,
				Message:   fmt.Sprintf("internal gate error: %v", r),
				Metadata:  map[string]string{"origin_gate": g.ID()},
				Timestamp: time.Now().UTC(),
			}
		}
	}()

	res = g.Check(ctx, sc)
	if res.GateID == "" {
		res.GateID = g.ID()
	}
	if res.GateName == "" {
		res.GateName = g.Name()
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}
	return res
}
