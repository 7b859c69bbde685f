// Package heartbeat records named liveness beats and classifies them as
// alive, stale or dead from their age and recorded process.
package heartbeat

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// Default thresholds for Check.
const (
	DefaultStaleAfter = 2 * time.Minute
	DefaultDeadAfter  = 10 * time.Minute
)

// Status is the liveness of a heartbeat.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// ErrNotFound is returned when no beat was ever recorded under a name.
var ErrNotFound = errors.New("heartbeat not found")

// Heartbeat is the latest beat under a name.
type Heartbeat struct {
	Name      string    `json:"name" db:"name"`
	PID       int32     `json:"pid,omitempty" db:"pid"`
	Note      string    `json:"note,omitempty" db:"note"`
	StartedAt time.Time `json:"started_at" db:"started_at"`
	BeatAt    time.Time `json:"beat_at" db:"beat_at"`
	Beats     int64     `json:"beats" db:"beats"`
}

// Report is a heartbeat with its computed liveness.
type Report struct {
	Heartbeat
	Status Status        `json:"status"`
	Age    time.Duration `json:"age"`
	Reason string        `json:"reason,omitempty"`
}

// Monitor reads and writes the heartbeats table.
type Monitor struct {
	db         *sqlx.DB
	staleAfter time.Duration
	deadAfter  time.Duration
	now        func() time.Time
	pidExists  func(ctx context.Context, pid int32) (bool, error)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithThresholds overrides the stale and dead ages. Non-positive values keep
// the defaults.
func WithThresholds(stale, dead time.Duration) Option {
	return func(m *Monitor) {
		if stale > 0 {
			m.staleAfter = stale
		}
		if dead > 0 {
			m.deadAfter = dead
		}
	}
}

// New creates a monitor over a migrated database.
func New(db *sqlx.DB, opts ...Option) *Monitor {
	m := &Monitor{
		db:         db,
		staleAfter: DefaultStaleAfter,
		deadAfter:  DefaultDeadAfter,
		now:        time.Now,
		pidExists:  process.PidExistsWithContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Beat records a beat. The first beat under a name sets its start time; a
// beat from a different pid restarts the count.
func (m *Monitor) Beat(ctx context.Context, name string, pid int32, note string) (*Heartbeat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("heartbeat name is required")
	}

	now := m.now().UTC()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO heartbeats (name, pid, note, started_at, beat_at, beats)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
			started_at = CASE WHEN heartbeats.pid = excluded.pid THEN heartbeats.started_at ELSE excluded.started_at END,
			beats = CASE WHEN heartbeats.pid = excluded.pid THEN heartbeats.beats + 1 ELSE 1 END,
			pid = excluded.pid,
			note = excluded.note,
			beat_at = excluded.beat_at
	`, name, pid, note, now, now)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to record heartbeat %s", name)
	}

	logger.G(ctx).WithField("name", name).WithField("pid", pid).Debug("heartbeat")
	return m.get(ctx, name)
}

func (m *Monitor) get(ctx context.Context, name string) (*Heartbeat, error) {
	var hb Heartbeat
	err := m.db.GetContext(ctx, &hb, `SELECT * FROM heartbeats WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load heartbeat %s", name)
	}
	return &hb, nil
}

// Check reports the liveness of name at now.
func (m *Monitor) Check(ctx context.Context, name string, now time.Time) (*Report, error) {
	hb, err := m.get(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.evaluate(ctx, *hb, now), nil
}

// List reports every heartbeat, ordered by name.
func (m *Monitor) List(ctx context.Context, now time.Time) ([]Report, error) {
	var beats []Heartbeat
	if err := m.db.SelectContext(ctx, &beats, `SELECT * FROM heartbeats ORDER BY name`); err != nil {
		return nil, errors.Wrap(err, "failed to list heartbeats")
	}
	reports := make([]Report, 0, len(beats))
	for _, hb := range beats {
		reports = append(reports, *m.evaluate(ctx, hb, now))
	}
	return reports, nil
}

// Remove forgets a heartbeat.
func (m *Monitor) Remove(ctx context.Context, name string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM heartbeats WHERE name = ?`, name)
	if err != nil {
		return errors.Wrapf(err, "failed to remove heartbeat %s", name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrap(ErrNotFound, name)
	}
	return nil
}

func (m *Monitor) evaluate(ctx context.Context, hb Heartbeat, now time.Time) *Report {
	r := &Report{Heartbeat: hb, Age: now.Sub(hb.BeatAt)}
	if r.Age < 0 {
		r.Age = 0
	}

	switch {
	case r.Age < m.staleAfter:
		r.Status = StatusAlive
	case r.Age < m.deadAfter:
		r.Status = StatusStale
		r.Reason = "no beat for " + r.Age.Round(time.Second).String()
	default:
		r.Status = StatusDead
		r.Reason = "no beat for " + r.Age.Round(time.Second).String()
		return r
	}

	if hb.PID > 0 {
		exists, err := m.pidExists(ctx, hb.PID)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("pid", hb.PID).Warn("failed to check process")
		} else if !exists {
			r.Status = StatusDead
			r.Reason = "process is no longer running"
		}
	}
	return r
}
