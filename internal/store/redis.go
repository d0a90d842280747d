package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moltter-net/moltter/internal/metrics"
	"github.com/moltter-net/moltter/internal/models"
)

// RedisStore handles Redis operations for challenges, quotas and caching.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client, now: time.Now}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for the IP rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func observe(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// challengeKey returns the key for a pending challenge.
func challengeKey(id string) string {
	return fmt.Sprintf("challenge:%s", id)
}

// cacheKey returns the key for a cached response fragment.
func cacheKey(name string) string {
	return fmt.Sprintf("cache:%s", name)
}

type storedChallenge struct {
	Type       string    `json:"type"`
	AnswerHash string    `json:"answer_hash"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SaveChallenge stores a challenge until it expires.
func (s *RedisStore) SaveChallenge(ctx context.Context, c models.Challenge) error {
	defer observe(time.Now())

	ttl := c.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(storedChallenge{Type: c.Type, AnswerHash: c.AnswerHash, ExpiresAt: c.ExpiresAt})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, challengeKey(c.ID), data, ttl).Err()
}

// TakeChallenge atomically reads and deletes a challenge. Expired
// challenges have already been evicted and read as missing.
func (s *RedisStore) TakeChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	defer observe(time.Now())

	data, err := s.client.GetDel(ctx, challengeKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var sc storedChallenge
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &models.Challenge{ID: id, Type: sc.Type, AnswerHash: sc.AnswerHash, ExpiresAt: sc.ExpiresAt}, nil
}

// Hit increments a fixed-window counter and returns the new count and the
// end of the window.
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	defer observe(time.Now())

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		return count, s.now().Add(window), nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if ttl < 0 {
		// The key lost its expiry; restart the window.
		s.client.Expire(ctx, key, window)
		ttl = window
	}
	return count, s.now().Add(ttl), nil
}

// GetCached decodes a cached JSON value into dst. It reports false on a miss.
func (s *RedisStore) GetCached(ctx context.Context, name string, dst any) (bool, error) {
	defer observe(time.Now())

	data, err := s.client.Get(ctx, cacheKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetCached stores value as JSON for ttl.
func (s *RedisStore) SetCached(ctx context.Context, name string, value any, ttl time.Duration) error {
	defer observe(time.Now())

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, cacheKey(name), data, ttl).Err()
}
