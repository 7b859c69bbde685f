// Package ratelimit implements a sliding-window-log rate limiter whose state
// survives across CLI invocations, backed by the shared SQLite database or Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/jingkaihe/skillbox/pkg/config"
)

// ErrLimited is returned by callers that turn a denied Decision into an error.
var ErrLimited = errors.New("rate limit exceeded")

// Decision describes the outcome of an Allow or Status call.
type Decision struct {
	Key        string        `json:"key"`
	Allowed    bool          `json:"allowed"`
	Count      int           `json:"count"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Err returns ErrLimited for a denied decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return errors.Wrapf(ErrLimited, "%s: retry after %s", d.Key, d.RetryAfter.Round(time.Millisecond))
}

// Limiter is a keyed sliding window limiter.
type Limiter interface {
	// Allow records a hit for key if the window has room.
	Allow(ctx context.Context, key string) (Decision, error)
	// Status reports the current window without recording a hit.
	Status(ctx context.Context, key string) (Decision, error)
	// Reset forgets every hit for key.
	Reset(ctx context.Context, key string) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Settings are the window parameters shared by every backend.
type Settings struct {
	Limit  int
	Window time.Duration
	Clock  Clock
}

func (s Settings) validate() error {
	if s.Limit <= 0 {
		return errors.Errorf("limit must be positive, got %d", s.Limit)
	}
	if s.Window <= 0 {
		return errors.Errorf("window must be positive, got %s", s.Window)
	}
	return nil
}

func (s Settings) clock() Clock {
	if s.Clock == nil {
		return systemClock{}
	}
	return s.Clock
}

// decide builds the decision from the hits inside the window, oldest first.
func decide(key string, s Settings, now time.Time, hits []time.Time, recorded bool) Decision {
	d := Decision{Key: key, Limit: s.Limit, Count: len(hits)}
	d.Allowed = recorded || len(hits) < s.Limit
	d.Remaining = max(s.Limit-len(hits), 0)
	if !d.Allowed && len(hits) > 0 {
		d.RetryAfter = max(hits[0].Add(s.Window).Sub(now), 0)
	}
	return d
}

// NewFromConfig builds the limiter selected by cfg.Backend. sqlDB is only
// used by the sqlite backend.
func NewFromConfig(cfg config.RateLimitConfig, sqlDB *sqlx.DB, limit int, window time.Duration) (Limiter, error) {
	if limit <= 0 {
		limit = cfg.Limit
	}
	if window <= 0 {
		window = cfg.Window
	}
	settings := Settings{Limit: limit, Window: window}

	switch cfg.Backend {
	case "", "sqlite":
		if sqlDB == nil {
			return nil, errors.New("sqlite rate limit backend requires a database")
		}
		return NewSQLiteLimiter(sqlDB, settings)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("redis rate limit backend requires ratelimit.redis_addr")
		}
		return NewRedisLimiter(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), settings)
	default:
		return nil, errors.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}
