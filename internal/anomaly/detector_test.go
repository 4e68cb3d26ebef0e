package anomaly

import (
	"log/slog"
	"testing"
	"time"

	"github.com/vetgate/vetgate/internal/model"
)

func newTestDetector() *Detector {
	return NewDetector(0.5, 10, 24*time.Hour, slog.New(slog.DiscardHandler))
}

func reqAt(ts time.Time, source, action string) *model.SecurityContext {
	return &model.SecurityContext{
		RequestID:     "r",
		CallerID:      "alice",
		SourceAddress: source,
		Timestamp:     ts,
		Action:        action,
	}
}

// seedHistory records n business-hours events spread one minute apart.
func seedHistory(d *Detector, n int, source, action string) time.Time {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		d.Detect(reqAt(base.Add(time.Duration(i)*time.Minute), source, action))
	}
	last := base.Add(time.Duration(n) * time.Minute)
	d.updateBaselinesAt(last)
	return last
}

func TestBootstrapNotAnomalous(t *testing.T) {
	d := newTestDetector()

	// First request from a brand-new identifier at a strange hour from a
	// strange place: with no history, only the off-hours signal fires,
	// which stays under the threshold.
	res := d.Detect(reqAt(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), "198.51.100.9", "read:x"))
	if res.Anomalous {
		t.Errorf("request without history flagged anomalous: %+v", res)
	}
}

func TestOffHoursSignal(t *testing.T) {
	d := newTestDetector()
	res := d.Detect(reqAt(time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC), "198.51.100.9", "read:x"))
	if res.Score < 0.19 || res.Score > 0.21 {
		t.Errorf("off-hours score = %f, want 0.2", res.Score)
	}

	res = d.Detect(reqAt(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), "198.51.100.9", "read:x"))
	if res.Score != 0 {
		t.Errorf("business-hours score = %f, want 0", res.Score)
	}
}

func TestUnfamiliarSourceAndAction(t *testing.T) {
	d := newTestDetector()
	last := seedHistory(d, 15, "203.0.114.10", "read:reports")

	// Familiar source + action during business hours: clean.
	res := d.Detect(reqAt(last, "203.0.114.10", "read:reports"))
	if res.Score != 0 {
		t.Errorf("familiar request score = %f, want 0", res.Score)
	}

	// New source (0.3) + new action (0.2) = 0.5, at the threshold but
	// not over it.
	res = d.Detect(reqAt(last.Add(time.Minute), "198.51.101.77", "delete:reports"))
	if res.Score < 0.49 || res.Score > 0.51 {
		t.Errorf("score = %f, want 0.5", res.Score)
	}
	if res.Anomalous {
		t.Error("score exactly at threshold should not be anomalous")
	}
	if len(res.Alerts) != 2 {
		t.Errorf("alerts = %v, want 2", res.Alerts)
	}
}

func TestVelocitySpike(t *testing.T) {
	d := newTestDetector()
	last := seedHistory(d, 30, "203.0.114.10", "read:reports")

	// Baseline is ~1 req/min with zero spread; a burst in one minute
	// blows past mean + 3 sigma.
	ts := last.Add(time.Hour)
	var res Result
	for i := 0; i < 20; i++ {
		res = d.Detect(reqAt(ts.Add(time.Duration(i)*time.Second), "203.0.114.10", "read:reports"))
	}
	if res.Score < 0.39 {
		t.Errorf("burst score = %f, want velocity signal (0.4)", res.Score)
	}
}

func TestCombinedSignalsAnomalous(t *testing.T) {
	d := newTestDetector()
	last := seedHistory(d, 15, "203.0.114.10", "read:reports")

	// Off-hours (0.2) + new source (0.3) + new action (0.2) = 0.7.
	offHours := time.Date(last.Year(), last.Month(), last.Day(), 23, 0, 0, 0, time.UTC)
	res := d.Detect(reqAt(offHours, "198.51.101.77", "export:all"))
	if !res.Anomalous {
		t.Errorf("combined signals not anomalous: score=%f alerts=%v", res.Score, res.Alerts)
	}
}

func TestUpdateBaselinesDiscardsOldEvents(t *testing.T) {
	d := NewDetector(0.5, 5, time.Hour, slog.New(slog.DiscardHandler))
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		d.Detect(reqAt(base.Add(time.Duration(i)*time.Minute), "203.0.114.10", "read:x"))
	}

	// Two hours later everything has aged out of the window.
	d.updateBaselinesAt(base.Add(2 * time.Hour))
	if len(d.Baselines()) != 0 {
		t.Errorf("baselines survive after window elapsed: %v", d.Baselines())
	}

	// History is gone, so the next odd-looking request is back in
	// bootstrap mode.
	res := d.Detect(reqAt(base.Add(3*time.Hour), "198.51.101.77", "export:all"))
	if res.Anomalous {
		t.Error("identifier with expired history flagged anomalous")
	}
}
