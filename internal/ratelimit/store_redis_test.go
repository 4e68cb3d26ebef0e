package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(mr.Addr(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreAppendAndCount(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)

	now := time.Now()
	for i := 0; i < 5; i++ {
		if err := store.Append(ctx, "alice", now); err != nil {
			t.Fatal(err)
		}
	}

	count, err := store.CountSince(ctx, "alice", now.Add(-time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}

func TestRedisStorePrune(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)

	old := time.Now().Add(-2 * time.Minute)
	fresh := time.Now()
	if err := store.Append(ctx, "bob", old); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, "bob", fresh); err != nil {
		t.Fatal(err)
	}

	cutoff := time.Now().Add(-time.Minute)
	if err := store.PruneBefore(ctx, "bob", cutoff); err != nil {
		t.Fatal(err)
	}

	count, err := store.CountSince(ctx, "bob", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count after prune = %d, want 1", count)
	}
}

func TestRedisStoreSameNanosecond(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)

	// Identical timestamps must still record as distinct requests.
	ts := time.Now()
	for i := 0; i < 3; i++ {
		if err := store.Append(ctx, "carol", ts); err != nil {
			t.Fatal(err)
		}
	}
	count, err := store.CountSince(ctx, "carol", ts.Add(-time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestLimiterWithRedisStore(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)
	l := NewLimiter(store, time.Minute, 2, 0, defaultLevels(), testLogger())

	for i := 0; i < 2; i++ {
		res, err := l.CheckLimit(ctx, "dave")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied", i+1)
		}
	}
	res, err := l.CheckLimit(ctx, "dave")
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Error("third request allowed, want denied")
	}
}
