package ratelimit

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// SQLiteLimiter keeps one row per hit in rate_limit_hits. Every Allow runs in
// a single transaction, and the database allows one connection, so concurrent
// callers in the same process serialize.
type SQLiteLimiter struct {
	db       *sqlx.DB
	settings Settings
}

// NewSQLiteLimiter creates a limiter over a migrated database.
func NewSQLiteLimiter(db *sqlx.DB, settings Settings) (*SQLiteLimiter, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	return &SQLiteLimiter{db: db, settings: settings}, nil
}

// Allow implements Limiter.
func (l *SQLiteLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.settings.clock().Now()

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return Decision{}, errors.Wrap(err, "failed to begin rate limit transaction")
	}
	defer tx.Rollback()

	hits, err := l.window(ctx, tx, key, now)
	if err != nil {
		return Decision{}, err
	}

	recorded := false
	if len(hits) < l.settings.Limit {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rate_limit_hits (key, hit_at) VALUES (?, ?)`, key, now.UnixNano()); err != nil {
			return Decision{}, errors.Wrap(err, "failed to record hit")
		}
		hits = append(hits, now)
		recorded = true
	}

	if err := tx.Commit(); err != nil {
		return Decision{}, errors.Wrap(err, "failed to commit rate limit transaction")
	}

	d := decide(key, l.settings, now, hits, recorded)
	logger.G(ctx).WithField("key", key).WithField("allowed", d.Allowed).WithField("count", d.Count).Debug("rate limit check")
	return d, nil
}

// Status implements Limiter.
func (l *SQLiteLimiter) Status(ctx context.Context, key string) (Decision, error) {
	now := l.settings.clock().Now()
	cutoff := now.Add(-l.settings.Window).UnixNano()

	var raw []int64
	if err := l.db.SelectContext(ctx, &raw,
		`SELECT hit_at FROM rate_limit_hits WHERE key = ? AND hit_at > ? ORDER BY hit_at ASC`, key, cutoff); err != nil {
		return Decision{}, errors.Wrap(err, "failed to read rate limit window")
	}

	return decide(key, l.settings, now, toTimes(raw), false), nil
}

// Reset implements Limiter.
func (l *SQLiteLimiter) Reset(ctx context.Context, key string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM rate_limit_hits WHERE key = ?`, key); err != nil {
		return errors.Wrapf(err, "failed to reset rate limit for %s", key)
	}
	return nil
}

// window prunes expired hits and returns the live ones, oldest first.
func (l *SQLiteLimiter) window(ctx context.Context, tx *sqlx.Tx, key string, now time.Time) ([]time.Time, error) {
	cutoff := now.Add(-l.settings.Window).UnixNano()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_limit_hits WHERE key = ? AND hit_at <= ?`, key, cutoff); err != nil {
		return nil, errors.Wrap(err, "failed to prune rate limit window")
	}

	var raw []int64
	if err := tx.SelectContext(ctx, &raw,
		`SELECT hit_at FROM rate_limit_hits WHERE key = ? ORDER BY hit_at ASC`, key); err != nil {
		return nil, errors.Wrap(err, "failed to read rate limit window")
	}
	return toTimes(raw), nil
}

func toTimes(raw []int64) []time.Time {
	out := make([]time.Time, len(raw))
	for i, n := range raw {
		out[i] = time.Unix(0, n)
	}
	return out
}
