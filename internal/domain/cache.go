package domain

import (
	"context"
	"time"
)

// DecisionCache is the TTL-bound key/value store memoizing per-transaction
// assessments. The core imposes no schema beyond opaque bytes it can
// serialize/deserialize. Writes are fire-and-forget: a failed write must
// never fail or block the decisioning call. Reads are advisory fast-path
// only: on miss or expiry the caller re-runs the full evaluation.
type DecisionCache interface {
	// Get retrieves a value. Returns nil, nil when the key is absent or
	// expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a bounded time-to-live.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// IncrementCounter atomically increments a windowed counter and returns
	// the new value. Used for per-PAN velocity tracking.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `yaml:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTtl"`

	// Redis settings
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`

	// Two-phase settings: check the local LRU first, then Redis.
	EnableTwoPhase bool `yaml:"enableTwoPhase"`

	// AssessmentTTL bounds how long decisions stay memoized.
	AssessmentTTL time.Duration `yaml:"assessmentTtl"`
}
