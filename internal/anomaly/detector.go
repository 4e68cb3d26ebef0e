package anomaly

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vetgate/vetgate/internal/model"
)

// Signal weights. The four signals sum to 1.1, so a request tripping
// everything saturates the score.
const (
	weightOffHours = 0.2
	weightVelocity = 0.4
	weightSource   = 0.3
	weightBehavior = 0.2
)

// Result is the outcome of anomaly scoring for one request.
type Result struct {
	Anomalous bool
	Score     float64
	Alerts    []string
}

type event struct {
	ts     time.Time
	source string
	action string
}

// profile is the trailing history for one identifier.
type profile struct {
	events  []event
	sources map[string]int
	actions map[string]int
}

// Detector scores requests and maintains baselines.
type Detector struct {
	mu         sync.Mutex
	threshold  float64
	minSamples int
	window     time.Duration
	profiles   map[string]*profile
	velocity   map[string]Baseline // per-identifier requests-per-minute baseline
	logger     *slog.Logger
}

// NewDetector creates a detector. Until an identifier accumulates
// minSamples events, it is never reported anomalous (baseline
// bootstrap: insufficient history means no judgment).
func NewDetector(threshold float64, minSamples int, window time.Duration, logger *slog.Logger) *Detector {
	if threshold <= 0 {
		threshold = 0.5
	}
	if minSamples <= 0 {
		minSamples = 20
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Detector{
		threshold:  threshold,
		minSamples: minSamples,
		window:     window,
		profiles:   make(map[string]*profile),
		velocity:   make(map[string]Baseline),
		logger:     logger,
	}
}

// Detect scores the request against the identifier's baselines, then
// records it as history for future scoring.
func (d *Detector) Detect(ctx *model.SecurityContext) Result {
	identifier := ctx.Identifier()
	now := ctx.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, known := d.profiles[identifier]
	res := Result{}

	// Off-hours activity is scored even before a baseline exists; the
	// remaining signals need history.
	if hour := now.UTC().Hour(); hour < 6 || hour >= 22 {
		res.Score += weightOffHours
		res.Alerts = append(res.Alerts, fmt.Sprintf("off-hours activity (%02d:00 UTC)", hour))
	}

	if known && len(p.events) >= d.minSamples {
		if bl, ok := d.velocity[identifier]; ok && bl.Samples >= d.minSamples {
			recent := p.countSince(now.Add(-time.Minute))
			ceiling := bl.Mean + 3*bl.StdDev
			if float64(recent) > ceiling {
				res.Score += weightVelocity
				res.Alerts = append(res.Alerts,
					fmt.Sprintf("velocity %d req/min exceeds baseline ceiling %.1f", recent, ceiling))
			}
		}

		if ctx.SourceAddress != "" && p.sources[ctx.SourceAddress] == 0 {
			res.Score += weightSource
			res.Alerts = append(res.Alerts, "unfamiliar source address "+ctx.SourceAddress)
		}

		if ctx.Action != "" && p.actions[ctx.Action] == 0 {
			res.Score += weightBehavior
			res.Alerts = append(res.Alerts, "action outside historical pattern: "+ctx.Action)
		}
	}

	if res.Score > 1 {
		res.Score = 1
	}
	res.Anomalous = res.Score > d.threshold
	if res.Anomalous {
		d.logger.Warn("anomalous request",
			"identifier", identifier, "score", res.Score, "alerts", len(res.Alerts))
	}

	d.record(identifier, ctx, now)
	return res
}

func (d *Detector) record(identifier string, ctx *model.SecurityContext, now time.Time) {
	p, ok := d.profiles[identifier]
	if !ok {
		p = &profile{
			sources: make(map[string]int),
			actions: make(map[string]int),
		}
		d.profiles[identifier] = p
	}
	p.events = append(p.events, event{ts: now, source: ctx.SourceAddress, action: ctx.Action})
	if ctx.SourceAddress != "" {
		p.sources[ctx.SourceAddress]++
	}
	if ctx.Action != "" {
		p.actions[ctx.Action]++
	}
}

func (p *profile) countSince(since time.Time) int {
	count := 0
	for _, e := range p.events {
		if !e.ts.Before(since) {
			count++
		}
	}
	return count
}

// UpdateBaselines recomputes per-identifier velocity statistics from the
// trailing window and discards older events. This is a batch operation
// meant for a background ticker, not the request path.
func (d *Detector) UpdateBaselines() {
	d.updateBaselinesAt(time.Now().UTC())
}

func (d *Detector) updateBaselinesAt(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-d.window)
	for identifier, p := range d.profiles {
		p.pruneBefore(cutoff)
		if len(p.events) == 0 {
			delete(d.profiles, identifier)
			delete(d.velocity, identifier)
			continue
		}

		// Bucket events per minute over the span they cover, then take
		// mean/stddev of the bucket counts.
		buckets := make(map[int64]int)
		for _, e := range p.events {
			buckets[e.ts.Unix()/60]++
		}
		counts := make([]float64, 0, len(buckets))
		for _, c := range buckets {
			counts = append(counts, float64(c))
		}
		mean, stddev := meanStdDev(counts)
		d.velocity[identifier] = Baseline{Mean: mean, StdDev: stddev, Samples: len(p.events)}
	}
}

func (p *profile) pruneBefore(cutoff time.Time) {
	kept := p.events[:0]
	for _, e := range p.events {
		if e.ts.Before(cutoff) {
			p.sources[e.source]--
			if p.sources[e.source] <= 0 {
				delete(p.sources, e.source)
			}
			p.actions[e.action]--
			if p.actions[e.action] <= 0 {
				delete(p.actions, e.action)
			}
			continue
		}
		kept = append(kept, e)
	}
	p.events = kept
}

// Baselines returns a copy of the current velocity baselines, for
// status output.
func (d *Detector) Baselines() map[string]Baseline {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]Baseline, len(d.velocity))
	for k, v := range d.velocity {
		out[k] = v
	}
	return out
}
