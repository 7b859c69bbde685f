// Package scheduler keeps cron and one-shot ("at") jobs in the
// scheduled_jobs table and runs the ones that are due.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/jingkaihe/skillbox/pkg/classifier"
	"github.com/jingkaihe/skillbox/pkg/logger"
	"github.com/jingkaihe/skillbox/pkg/sop"
)

// DefaultRunTimeout bounds a single job run.
const DefaultRunTimeout = 10 * time.Minute

// Run outcomes recorded in last_status.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusRefused = "refused"
)

// ErrJobNotFound is returned for unknown job ids or names.
var ErrJobNotFound = errors.New("job not found")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a scheduled command. Exactly one of Cron and RunAt is set.
type Job struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Command    string     `json:"command"`
	Cron       string     `json:"cron,omitempty"`
	RunAt      *time.Time `json:"run_at,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastOutput string     `json:"last_output,omitempty"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Kind is "cron" or "at".
func (j *Job) Kind() string {
	if j.Cron != "" {
		return "cron"
	}
	return "at"
}

type jobRecord struct {
	ID         string       `db:"id"`
	Name       string       `db:"name"`
	Command    string       `db:"command"`
	Cron       string       `db:"cron"`
	RunAt      sql.NullTime `db:"run_at"`
	NextRun    sql.NullTime `db:"next_run"`
	LastRun    sql.NullTime `db:"last_run"`
	LastStatus string       `db:"last_status"`
	LastOutput string       `db:"last_output"`
	Enabled    bool         `db:"enabled"`
	CreatedAt  time.Time    `db:"created_at"`
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func toRecord(j *Job) jobRecord {
	return jobRecord{
		ID:         j.ID,
		Name:       j.Name,
		Command:    j.Command,
		Cron:       j.Cron,
		RunAt:      nullTime(j.RunAt),
		NextRun:    nullTime(j.NextRun),
		LastRun:    nullTime(j.LastRun),
		LastStatus: j.LastStatus,
		LastOutput: j.LastOutput,
		Enabled:    j.Enabled,
		CreatedAt:  j.CreatedAt.UTC(),
	}
}

func (r jobRecord) toJob() *Job {
	return &Job{
		ID:         r.ID,
		Name:       r.Name,
		Command:    r.Command,
		Cron:       r.Cron,
		RunAt:      timePtr(r.RunAt),
		NextRun:    timePtr(r.NextRun),
		LastRun:    timePtr(r.LastRun),
		LastStatus: r.LastStatus,
		LastOutput: r.LastOutput,
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt,
	}
}

// Scheduler stores jobs and runs the due ones.
type Scheduler struct {
	db         *sqlx.DB
	classifier sop.Classifier
	now        func() time.Time
	timeout    time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClassifier sets the classifier that rates job commands before each run.
func WithClassifier(c sop.Classifier) Option {
	return func(s *Scheduler) { s.classifier = c }
}

// WithRunTimeout bounds each job run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a scheduler over a migrated database.
func New(db *sqlx.DB, opts ...Option) *Scheduler {
	s := &Scheduler{
		db:         db,
		classifier: classifier.MustNew(),
		now:        time.Now,
		timeout:    DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseCron validates a five field cron expression or @descriptor.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid cron expression %q", expr)
	}
	return sched, nil
}

var atLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseAt resolves an at time relative to now. It accepts RFC 3339 and
// local "YYYY-MM-DD HH:MM" timestamps, a clock time "HH:MM" (today, or
// tomorrow once passed), and offsets like "+30m" or "in 2h".
func ParseAt(value string, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(v, "in "); ok {
		v = "+" + strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(v, "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil || d <= 0 {
			return time.Time{}, errors.Errorf("invalid offset %q", value)
		}
		return now.Add(d), nil
	}

	if clock, err := time.ParseInLocation("15:04", v, now.Location()); err == nil {
		t := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}

	for _, layout := range atLayouts {
		if t, err := time.ParseInLocation(layout, v, now.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("invalid time %q", value)
}

// Add validates and stores job, filling in its id, schedule and timestamps.
func (s *Scheduler) Add(ctx context.Context, job *Job) (*Job, error) {
	job.Name = strings.TrimSpace(job.Name)
	job.Command = strings.TrimSpace(job.Command)
	job.Cron = strings.TrimSpace(job.Cron)
	switch {
	case job.Name == "":
		return nil, errors.New("job name is required")
	case job.Command == "":
		return nil, errors.New("job command is required")
	case job.Cron == "" && job.RunAt == nil:
		return nil, errors.New("either cron or at is required")
	case job.Cron != "" && job.RunAt != nil:
		return nil, errors.New("cron and at are mutually exclusive")
	}

	now := s.now()
	if job.Cron != "" {
		sched, err := ParseCron(job.Cron)
		if err != nil {
			return nil, err
		}
		next := sched.Next(now)
		job.NextRun = &next
	} else {
		if !job.RunAt.After(now) {
			return nil, errors.Errorf("at time %s is in the past", job.RunAt.Format(time.RFC3339))
		}
		next := *job.RunAt
		job.NextRun = &next
	}

	if a := s.classifier.Classify(job.Command); a.Level.AtLeast(classifier.LevelHigh) {
		logger.G(ctx).WithField("job", job.Name).WithField("risk", a.Level).Warn("scheduled command is high risk")
	}

	job.ID = uuid.NewString()
	job.Enabled = true
	job.CreatedAt = now.UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, name, command, cron, run_at, next_run, last_run, last_status, last_output, enabled, created_at)
		VALUES (:id, :name, :command, :cron, :run_at, :next_run, :last_run, :last_status, :last_output, :enabled, :created_at)
	`, toRecord(job))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, errors.Errorf("job %q already exists", job.Name)
		}
		return nil, errors.Wrap(err, "failed to store job")
	}

	logger.G(ctx).WithField("job", job.Name).WithField("next_run", job.NextRun).Info("job scheduled")
	return job, nil
}

// Get finds a job by id or name.
func (s *Scheduler) Get(ctx context.Context, ref string) (*Job, error) {
	var rec jobRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM scheduled_jobs WHERE id = ? OR name = ?`, ref, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrJobNotFound, ref)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load job %s", ref)
	}
	return rec.toJob(), nil
}

// List returns every job ordered by name.
func (s *Scheduler) List(ctx context.Context) ([]*Job, error) {
	var recs []jobRecord
	if err := s.db.SelectContext(ctx, &recs, `SELECT * FROM scheduled_jobs ORDER BY name`); err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	jobs := make([]*Job, 0, len(recs))
	for _, r := range recs {
		jobs = append(jobs, r.toJob())
	}
	return jobs, nil
}

// Remove deletes a job by id or name.
func (s *Scheduler) Remove(ctx context.Context, ref string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ? OR name = ?`, ref, ref)
	if err != nil {
		return errors.Wrapf(err, "failed to remove job %s", ref)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrap(ErrJobNotFound, ref)
	}
	return nil
}

// SetEnabled pauses or resumes a job. Resuming a cron job recomputes its
// next run from now.
func (s *Scheduler) SetEnabled(ctx context.Context, ref string, enabled bool) (*Job, error) {
	job, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	job.Enabled = enabled
	if enabled && job.Cron != "" {
		sched, err := ParseCron(job.Cron)
		if err != nil {
			return nil, err
		}
		next := sched.Next(s.now())
		job.NextRun = &next
	}
	if err := s.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Due returns the enabled jobs whose next run is at or before now, oldest
// first.
func (s *Scheduler) Due(ctx context.Context, now time.Time) ([]*Job, error) {
	jobs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var due []*Job
	for _, j := range jobs {
		if j.Enabled && j.NextRun != nil && !j.NextRun.After(now) {
			due = append(due, j)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextRun.Before(*due[j].NextRun) })
	return due, nil
}

// RunResult is the outcome of one job run.
type RunResult struct {
	Job    string           `json:"job"`
	Status string           `json:"status"`
	Risk   classifier.Level `json:"risk"`
	Output string           `json:"output,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// RunDue runs every due job through exec. Critical commands are refused
// without running. Cron jobs move to their next run after now; at jobs are
// disabled after their single attempt.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time, exec sop.Executor) ([]RunResult, error) {
	due, err := s.Due(ctx, now)
	if err != nil {
		return nil, err
	}

	results := make([]RunResult, 0, len(due))
	for _, job := range due {
		res := s.run(ctx, job, exec)
		results = append(results, res)

		ran := now.UTC()
		job.LastRun = &ran
		job.LastStatus = res.Status
		job.LastOutput = res.Output
		if res.Error != "" {
			job.LastOutput = strings.TrimSpace(res.Output + "\n" + res.Error)
		}
		if job.Cron != "" {
			sched, err := ParseCron(job.Cron)
			if err != nil {
				return results, err
			}
			next := sched.Next(now)
			job.NextRun = &next
		} else {
			job.Enabled = false
			job.NextRun = nil
		}
		if err := s.save(ctx, job); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (s *Scheduler) run(ctx context.Context, job *Job, exec sop.Executor) RunResult {
	log := logger.G(ctx).WithField("job", job.Name)
	assessment := s.classifier.Classify(job.Command)
	res := RunResult{Job: job.Name, Risk: assessment.Level}

	if assessment.Level == classifier.LevelCritical {
		res.Status = StatusRefused
		res.Error = fmt.Sprintf("refused critical command (score %d)", assessment.Score)
		log.WithField("score", assessment.Score).Warn("refusing critical scheduled command")
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	output, err := exec.Execute(runCtx, sop.Task{RunID: job.ID, StepID: job.Name, Command: job.Command})
	res.Output = output
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		log.WithError(err).Warn("scheduled job failed")
		return res
	}
	res.Status = StatusOK
	log.Info("scheduled job finished")
	return res
}

func (s *Scheduler) save(ctx context.Context, job *Job) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE scheduled_jobs SET
			next_run = :next_run, last_run = :last_run, last_status = :last_status,
			last_output = :last_output, enabled = :enabled
		WHERE id = :id
	`, toRecord(job))
	return errors.Wrapf(err, "failed to update job %s", job.Name)
}
