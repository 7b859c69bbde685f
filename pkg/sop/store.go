package sop

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// Store persists runs and their audit trail.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	// UpdateRun saves run only while the stored status is still expected,
	// and returns ErrInvalidTransition when another writer moved it first.
	UpdateRun(ctx context.Context, run *Run, expected Status) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	AppendAudit(ctx context.Context, entry AuditEntry) error
	AuditLog(ctx context.Context, runID string) ([]AuditEntry, error)
}

// SQLStore keeps runs in sop_runs and audit entries in sop_audit. When an
// audit directory is set, each entry is also appended to <dir>/<run_id>.jsonl.
type SQLStore struct {
	db       *sqlx.DB
	auditDir string
}

// StoreOption configures a SQLStore.
type StoreOption func(*SQLStore)

// WithAuditDir mirrors audit entries to JSONL files under dir.
func WithAuditDir(dir string) StoreOption {
	return func(s *SQLStore) {
		s.auditDir = dir
	}
}

// NewSQLStore creates a store over a migrated database.
func NewSQLStore(db *sqlx.DB, opts ...StoreOption) *SQLStore {
	s := &SQLStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type runRecord struct {
	ID          string    `db:"id"`
	SOP         string    `db:"sop"`
	SOPVersion  string    `db:"sop_version"`
	Status      string    `db:"status"`
	CurrentStep int       `db:"current_step"`
	Definition  string    `db:"definition"`
	Steps       string    `db:"steps"`
	Inputs      string    `db:"inputs"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toRecord(run *Run) (*runRecord, error) {
	def, err := json.Marshal(run.Definition)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal definition")
	}
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal steps")
	}
	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal inputs")
	}

	return &runRecord{
		ID:          run.ID,
		SOP:         run.SOP,
		SOPVersion:  run.SOPVersion,
		Status:      string(run.Status),
		CurrentStep: run.CurrentStep,
		Definition:  string(def),
		Steps:       string(steps),
		Inputs:      string(inputs),
		CreatedAt:   run.CreatedAt.UTC(),
		UpdatedAt:   run.UpdatedAt.UTC(),
	}, nil
}

func (r *runRecord) toRun() (*Run, error) {
	run := &Run{
		ID:          r.ID,
		SOP:         r.SOP,
		SOPVersion:  r.SOPVersion,
		Status:      Status(r.Status),
		CurrentStep: r.CurrentStep,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Definition), &run.Definition); err != nil {
		return nil, errors.Wrapf(err, "run %s: corrupt definition", r.ID)
	}
	if err := json.Unmarshal([]byte(r.Steps), &run.Steps); err != nil {
		return nil, errors.Wrapf(err, "run %s: corrupt steps", r.ID)
	}
	if err := json.Unmarshal([]byte(r.Inputs), &run.Inputs); err != nil {
		return nil, errors.Wrapf(err, "run %s: corrupt inputs", r.ID)
	}
	return run, nil
}

// CreateRun implements Store.
func (s *SQLStore) CreateRun(ctx context.Context, run *Run) error {
	rec, err := toRecord(run)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO sop_runs (id, sop, sop_version, status, current_step, definition, steps, inputs, created_at, updated_at)
		VALUES (:id, :sop, :sop_version, :status, :current_step, :definition, :steps, :inputs, :created_at, :updated_at)
	`, rec)
	if err != nil {
		return errors.Wrapf(err, "failed to create run %s", run.ID)
	}
	return nil
}

// UpdateRun implements Store.
func (s *SQLStore) UpdateRun(ctx context.Context, run *Run, expected Status) error {
	rec, err := toRecord(run)
	if err != nil {
		return err
	}

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE sop_runs
		SET status = :status, current_step = :current_step, steps = :steps, updated_at = :updated_at
		WHERE id = :id AND status = :expected
	`, map[string]any{
		"id":           rec.ID,
		"status":       rec.Status,
		"current_step": rec.CurrentStep,
		"steps":        rec.Steps,
		"updated_at":   rec.UpdatedAt,
		"expected":     string(expected),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to update run %s", run.ID)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = s.db.GetContext(ctx, &current, `SELECT status FROM sop_runs WHERE id = ?`, run.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(ErrRunNotFound, run.ID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to load run %s", run.ID)
	}
	return errors.Wrapf(ErrInvalidTransition, "run %s is %s, expected %s", run.ID, current, expected)
}

// GetRun implements Store.
func (s *SQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var rec runRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM sop_runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrRunNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load run %s", id)
	}
	return rec.toRun()
}

// ListRuns implements Store. Runs are returned newest first.
func (s *SQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT * FROM sop_runs WHERE 1=1`
	var args []any
	if filter.SOP != "" {
		query += ` AND sop = ?`
		args = append(args, filter.SOP)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}

	var recs []runRecord
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}

	runs := make([]*Run, 0, len(recs))
	for i := range recs {
		run, err := recs[i].toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// AppendAudit implements Store.
func (s *SQLStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	entry.At = entry.At.UTC()
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sop_audit (run_id, step_id, event, actor, detail, at)
		VALUES (:run_id, :step_id, :event, :actor, :detail, :at)
	`, entry)
	if err != nil {
		return errors.Wrapf(err, "failed to append audit entry for run %s", entry.RunID)
	}
	entry.ID, _ = res.LastInsertId()

	if s.auditDir != "" {
		if err := appendJSONL(filepath.Join(s.auditDir, entry.RunID+".jsonl"), entry); err != nil {
			// the table is the source of truth
			logger.G(ctx).WithError(err).WithField("run_id", entry.RunID).Warn("failed to mirror audit entry")
		}
	}
	return nil
}

// AuditLog implements Store.
func (s *SQLStore) AuditLog(ctx context.Context, runID string) ([]AuditEntry, error) {
	var entries []AuditEntry
	if err := s.db.SelectContext(ctx, &entries,
		`SELECT id, run_id, step_id, event, actor, detail, at FROM sop_audit WHERE run_id = ? ORDER BY id ASC`, runID); err != nil {
		return nil, errors.Wrapf(err, "failed to read audit log for run %s", runID)
	}
	return entries, nil
}

func appendJSONL(path string, entry AuditEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create audit directory")
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit entry")
	}

	f, err := lockedfile.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open audit file")
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "failed to write audit entry")
	}
	return nil
}

// ReadAuditFile parses a JSONL audit mirror.
func ReadAuditFile(path string) ([]AuditEntry, error) {
	data, err := lockedfile.Read(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read audit file")
	}

	var entries []AuditEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e AuditEntry
		if err := dec.Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to decode audit entry")
		}
		entries = append(entries, e)
	}
	return entries, nil
}
