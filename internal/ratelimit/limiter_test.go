package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func defaultLevels() []Level {
	return []Level{
		{Threshold: 200, Duration: 60 * time.Second},
		{Threshold: 500, Duration: 600 * time.Second},
		{Threshold: 1000, Duration: 3600 * time.Second},
	}
}

func TestCheckLimitBoundary(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore(), time.Minute, 100, 10, defaultLevels(), testLogger())

	// Requests 1..110 are allowed.
	for i := 1; i <= 110; i++ {
		res, err := l.CheckLimit(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied, want allowed", i)
		}
	}

	// Request 111 is denied with a retry hint.
	res, err := l.CheckLimit(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("request 111 allowed, want denied")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("retry after = %v, want > 0", res.RetryAfter)
	}
}

func TestCheckLimitRemaining(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore(), time.Minute, 3, 1, defaultLevels(), testLogger())

	want := []int{3, 2, 1, 0}
	for i, w := range want {
		res, err := l.CheckLimit(ctx, "bob")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied", i+1)
		}
		if res.Remaining != w {
			t.Errorf("request %d remaining = %d, want %d", i+1, res.Remaining, w)
		}
	}
}

func TestCheckLimitIndependentIdentifiers(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore(), time.Minute, 1, 0, defaultLevels(), testLogger())

	if res, _ := l.CheckLimit(ctx, "a"); !res.Allowed {
		t.Fatal("first request for a denied")
	}
	if res, _ := l.CheckLimit(ctx, "a"); res.Allowed {
		t.Fatal("second request for a allowed")
	}
	if res, _ := l.CheckLimit(ctx, "b"); !res.Allowed {
		t.Fatal("b affected by a's counter")
	}
}

func TestWindowReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := NewLimiter(store, 50*time.Millisecond, 1, 0, defaultLevels(), testLogger())

	if res, _ := l.CheckLimit(ctx, "alice"); !res.Allowed {
		t.Fatal("first request denied")
	}
	if res, _ := l.CheckLimit(ctx, "alice"); res.Allowed {
		t.Fatal("second request inside window allowed")
	}

	time.Sleep(60 * time.Millisecond)

	if res, _ := l.CheckLimit(ctx, "alice"); !res.Allowed {
		t.Error("request after window elapsed denied")
	}
}

func TestDDoSEscalation(t *testing.T) {
	ctx := context.Background()
	levels := []Level{
		{Threshold: 5, Duration: time.Minute},
		{Threshold: 10, Duration: 10 * time.Minute},
		{Threshold: 20, Duration: time.Hour},
	}
	l := NewLimiter(NewMemoryStore(), time.Minute, 1000, 0, levels, testLogger())

	flood := func(n int) DDoSResult {
		var last DDoSResult
		for i := 0; i < n; i++ {
			res, err := l.CheckDDoS(ctx, "flood")
			if err != nil {
				t.Fatal(err)
			}
			last = res
		}
		return last
	}

	// Attempts 1..5 stay under the first threshold.
	if res := flood(5); res.Blocked {
		t.Fatalf("blocked at 5 attempts: %+v", res)
	}

	// Attempt 6 crosses threshold 5.
	res := flood(1)
	if !res.Blocked || res.PenaltyLevel != 1 {
		t.Fatalf("attempt 6: got %+v, want level 1 block", res)
	}
	if res.BlockDuration > time.Minute {
		t.Errorf("block duration = %v, want <= 1m", res.BlockDuration)
	}

	// The block does not stop counting: attempt 11 escalates to level 2.
	res = flood(5)
	if res.PenaltyLevel != 2 {
		t.Errorf("attempt 11: penalty level = %d, want 2", res.PenaltyLevel)
	}

	// Attempt 21 escalates to level 3.
	res = flood(10)
	if res.PenaltyLevel != 3 {
		t.Errorf("attempt 21: penalty level = %d, want 3", res.PenaltyLevel)
	}
	if res.BlockDuration > time.Hour {
		t.Errorf("block duration = %v, want <= 1h", res.BlockDuration)
	}
}

func TestDDoSCountsDeniedAttempts(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore(), time.Minute, 100, 10, defaultLevels(), testLogger())

	// A flood driven the way the gateway drives it: every attempt goes
	// through CheckDDoS, only unblocked attempts reach CheckLimit. The
	// sliding window caps admissions at 110, yet the attempt count keeps
	// climbing past every escalation threshold.
	var last DDoSResult
	for i := 0; i < 1200; i++ {
		res, err := l.CheckDDoS(ctx, "flood")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Blocked {
			if _, err := l.CheckLimit(ctx, "flood"); err != nil {
				t.Fatal(err)
			}
		}
		last = res
	}

	if !last.Blocked {
		t.Fatal("1200 attempts in one burst never blocked")
	}
	if last.PenaltyLevel != 3 {
		t.Errorf("penalty level = %d, want 3", last.PenaltyLevel)
	}
}

func TestDDoSAttemptsDoNotConsumeAdmissionWindow(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore(), time.Minute, 3, 0, defaultLevels(), testLogger())

	for i := 0; i < 3; i++ {
		if _, err := l.CheckDDoS(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
		res, err := l.CheckLimit(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
}

func TestDDoSCleanIdentifier(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore(), time.Minute, 100, 10, defaultLevels(), testLogger())

	res, err := l.CheckDDoS(ctx, "quiet")
	if err != nil {
		t.Fatal(err)
	}
	if res.Blocked {
		t.Error("identifier with no traffic blocked")
	}
}
