package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/macrorun/internal/indicator"
)

const (
	redisKeyPrefix  = "macrorun:lkg:"
	redisDefaultTTL = 7 * 24 * time.Hour
)

// RedisStore persists last-known-good values in Redis. All calls run
// through a circuit breaker so a dead Redis degrades the fallback path
// instead of stalling every fetch on connection timeouts.
type RedisStore struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
}

// NewRedisStore wraps an existing client. ttl bounds how stale a
// persisted value may get before Redis expires it; zero means the
// default week.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = redisDefaultTTL
	}

	settings := gobreaker.Settings{
		Name:    "redis-lkg",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A missing key is an answer, not a Redis failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	}

	return &RedisStore{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		ttl:     ttl,
	}
}

func (s *RedisStore) SaveGood(ctx context.Context, v indicator.Value) error {
	if v.Symbol == "" {
		return nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", v.Symbol, err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, redisKeyPrefix+v.Symbol, payload, s.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("saving %s: %w", v.Symbol, err)
	}
	return nil
}

func (s *RedisStore) LastKnownGood(ctx context.Context, id string) (indicator.Value, bool, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.Get(ctx, redisKeyPrefix+id).Result()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return indicator.Value{}, false, nil
		}
		return indicator.Value{}, false, fmt.Errorf("loading %s: %w", id, err)
	}

	var v indicator.Value
	if err := json.Unmarshal([]byte(res.(string)), &v); err != nil {
		return indicator.Value{}, false, fmt.Errorf("decoding %s: %w", id, err)
	}
	return v, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
