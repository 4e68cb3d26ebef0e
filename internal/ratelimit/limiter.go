package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Result is the outcome of a sliding-window check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration // zero when allowed
}

// DDoSResult is the outcome of an escalation check.
type DDoSResult struct {
	Blocked       bool
	PenaltyLevel  int
	BlockDuration time.Duration
	BlockedUntil  time.Time
}

// Level defines one escalation step: strictly more than Threshold
// requests inside the sub-window triggers a block of Duration.
type Level struct {
	Threshold int
	Duration  time.Duration
}

// Limiter combines the sliding-window limit with DDoS escalation.
// Block state is kept locally even when counters live in a shared store;
// a blocked identifier is blocked on the instance that caught it, and the
// shared counters make every instance catch it within one sub-window.
type Limiter struct {
	store       Store
	window      time.Duration
	maxRequests int
	burst       int

	subWindow time.Duration
	levels    []Level

	mu     sync.Mutex
	blocks map[string]blockState

	logger *slog.Logger
}

type blockState struct {
	level int
	until time.Time
}

// NewLimiter creates a limiter. Levels must be ordered by ascending
// threshold (config validation enforces this).
func NewLimiter(store Store, window time.Duration, maxRequests, burst int, levels []Level, logger *slog.Logger) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		store:       store,
		window:      window,
		maxRequests: maxRequests,
		burst:       burst,
		subWindow:   10 * time.Second,
		levels:      levels,
		blocks:      make(map[string]blockState),
		logger:      logger,
	}
}

// CheckLimit prunes out-of-window requests for the identifier, then
// admits the request if the remaining count is under maxRequests+burst.
// Admitted requests are recorded; denied ones are not.
func (l *Limiter) CheckLimit(ctx context.Context, identifier string) (Result, error) {
	now := time.Now()
	cutoff := now.Add(-l.window)

	if err := l.store.PruneBefore(ctx, identifier, cutoff); err != nil {
		return Result{}, fmt.Errorf("pruning rate window: %w", err)
	}
	count, err := l.store.CountSince(ctx, identifier, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("counting rate window: %w", err)
	}

	limit := l.maxRequests + l.burst
	if count >= limit {
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  now.Add(l.window),
			RetryAfter: l.window,
		}, nil
	}

	if err := l.store.Append(ctx, identifier, now); err != nil {
		return Result{}, fmt.Errorf("recording request: %w", err)
	}
	return Result{
		Allowed:   true,
		Remaining: limit - count - 1,
		ResetTime: now.Add(l.window),
	}, nil
}

// CheckDDoS records the attempt, counts the short sub-window, and
// escalates to timed blocks. Attempts are tracked under their own store
// key, separate from the admission counters, so denied and already
// blocked traffic still pushes the count toward higher penalty levels.
func (l *Limiter) CheckDDoS(ctx context.Context, identifier string) (DDoSResult, error) {
	now := time.Now()
	key := "attempts:" + identifier
	cutoff := now.Add(-l.subWindow)

	if err := l.store.PruneBefore(ctx, key, cutoff); err != nil {
		return DDoSResult{}, fmt.Errorf("pruning ddos sub-window: %w", err)
	}
	if err := l.store.Append(ctx, key, now); err != nil {
		return DDoSResult{}, fmt.Errorf("recording attempt: %w", err)
	}
	count, err := l.store.CountSince(ctx, key, cutoff)
	if err != nil {
		return DDoSResult{}, fmt.Errorf("counting ddos sub-window: %w", err)
	}

	level := 0
	var duration time.Duration
	for i, lvl := range l.levels {
		if count > lvl.Threshold {
			level = i + 1
			duration = lvl.Duration
		}
	}

	l.mu.Lock()
	bs, active := l.blocks[identifier]
	if active && !now.Before(bs.until) {
		delete(l.blocks, identifier)
		active = false
	}
	escalated := level > 0 && (!active || level > bs.level)
	if escalated {
		bs = blockState{level: level, until: now.Add(duration)}
		l.blocks[identifier] = bs
		active = true
	}
	l.mu.Unlock()

	if escalated {
		if level >= len(l.levels) {
			l.logger.Error("ddos alert: maximum penalty level reached",
				"identifier", identifier, "count", count, "block_s", int(duration.Seconds()))
		} else {
			l.logger.Warn("ddos penalty applied",
				"identifier", identifier, "level", level, "count", count, "block_s", int(duration.Seconds()))
		}
	}

	if !active {
		return DDoSResult{}, nil
	}
	return DDoSResult{
		Blocked:       true,
		PenaltyLevel:  bs.level,
		BlockDuration: bs.until.Sub(now),
		BlockedUntil:  bs.until,
	}, nil
}

// LevelsFromConfig converts (threshold, seconds) pairs into Levels.
func LevelsFromConfig(pairs [][2]int) []Level {
	levels := make([]Level, 0, len(pairs))
	for _, p := range pairs {
		levels = append(levels, Level{Threshold: p[0], Duration: time.Duration(p[1]) * time.Second})
	}
	return levels
}
