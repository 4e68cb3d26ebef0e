package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "vetgate:rate:"

// RedisStore keeps per-identifier request timestamps in a Redis sorted
// set scored by unix nanoseconds, so multiple gateway instances share
// one view of a caller's request rate.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	seq    atomic.Uint64 // disambiguates members recorded in the same nanosecond
}

// NewRedisStore connects to Redis at addr. ttl bounds how long an idle
// identifier's set survives; it should comfortably exceed the rate window.
func NewRedisStore(addr string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) key(identifier string) string {
	return redisKeyPrefix + identifier
}

func (s *RedisStore) Append(ctx context.Context, identifier string, ts time.Time) error {
	member := fmt.Sprintf("%d-%d", ts.UnixNano(), s.seq.Add(1))
	key := s.key(identifier)
	if err := s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixNano()),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("recording request for %s: %w", identifier, err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("refreshing ttl for %s: %w", identifier, err)
	}
	return nil
}

func (s *RedisStore) CountSince(ctx context.Context, identifier string, since time.Time) (int, error) {
	n, err := s.client.ZCount(ctx, s.key(identifier),
		strconv.FormatInt(since.UnixNano(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("counting requests for %s: %w", identifier, err)
	}
	return int(n), nil
}

func (s *RedisStore) PruneBefore(ctx context.Context, identifier string, cutoff time.Time) error {
	err := s.client.ZRemRangeByScore(ctx, s.key(identifier),
		"0", strconv.FormatInt(cutoff.UnixNano()-1, 10)).Err()
	if err != nil {
		return fmt.Errorf("pruning requests for %s: %w", identifier, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
