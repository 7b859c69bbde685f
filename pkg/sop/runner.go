package sop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillbox/pkg/classifier"
	"github.com/jingkaihe/skillbox/pkg/logger"
	"github.com/jingkaihe/skillbox/pkg/telemetry"
)

// Classifier rates a shell command before it runs.
type Classifier interface {
	Classify(command string) classifier.Assessment
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemActor is recorded for transitions the runner makes on its own.
const SystemActor = "skillbox"

// Runner drives runs through their steps. It holds no state of its own; every
// operation loads the run from the store, acts, and saves it back.
type Runner struct {
	store      Store
	executor   Executor
	classifier Classifier
	clock      Clock
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithExecutor sets the step executor.
func WithExecutor(e Executor) RunnerOption {
	return func(r *Runner) { r.executor = e }
}

// WithClassifier sets the command classifier.
func WithClassifier(c Classifier) RunnerOption {
	return func(r *Runner) { r.classifier = c }
}

// WithClock sets the clock used for timestamps.
func WithClock(c Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// NewRunner creates a runner. Without options it runs steps through a
// ShellExecutor and rates commands with the default classifier.
func NewRunner(store Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:      store,
		executor:   NewShellExecutor(),
		classifier: classifier.MustNew(),
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start validates def, creates a run and advances it as far as possible.
func (r *Runner) Start(ctx context.Context, def *Definition, inputs map[string]string) (*Run, error) {
	if err := def.Validate(); err != nil {
		return nil, &ValidationError{Err: errors.Wrapf(err, "invalid SOP %q", def.Name)}
	}
	resolved, err := def.ResolveInputs(inputs)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	now := r.now()
	run := &Run{
		ID:         uuid.NewString(),
		SOP:        def.Name,
		SOPVersion: def.Version,
		Status:     StatusPending,
		Definition: *def,
		Steps:      make([]StepState, len(def.Steps)),
		Inputs:     resolved,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, step := range def.Steps {
		run.Steps[i] = StepState{ID: step.ID, Status: StepPending}
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	if err := r.audit(ctx, run, "", EventCreated, SystemActor, fmt.Sprintf("%d steps", len(def.Steps))); err != nil {
		return nil, err
	}

	logger.G(ctx).WithField("run_id", run.ID).WithField("sop", run.SOP).Info("started SOP run")
	return r.advance(ctx, run)
}

// Advance continues a pending or running run. A run waiting for approval is
// returned unchanged.
func (r *Runner) Advance(ctx context.Context, runID string) (*Run, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case StatusPending, StatusRunning:
		return r.advance(ctx, run)
	case StatusAwaitingApproval:
		return run, nil
	default:
		return nil, errors.Wrapf(ErrInvalidTransition, "run %s is %s", run.ID, run.Status)
	}
}

// Approve grants the pending approval and continues the run.
func (r *Runner) Approve(ctx context.Context, runID, approver, note string) (*Run, error) {
	run, err := r.awaiting(ctx, runID)
	if err != nil {
		return nil, err
	}
	approver = actorOrDefault(approver)

	_, state, _ := run.current()
	state.ApprovedBy = approver
	state.ApprovalNote = note
	state.Status = StepPending
	if err := r.moveTo(ctx, run, StatusRunning); err != nil {
		return nil, err
	}
	if err := r.audit(ctx, run, state.ID, EventApproved, approver, note); err != nil {
		return nil, err
	}

	return r.advance(ctx, run)
}

// Reject fails the gated step and cancels the run.
func (r *Runner) Reject(ctx context.Context, runID, approver, reason string) (*Run, error) {
	run, err := r.awaiting(ctx, runID)
	if err != nil {
		return nil, err
	}
	approver = actorOrDefault(approver)

	_, state, _ := run.current()
	now := r.now()
	state.Status = StepFailed
	state.Error = "rejected by " + approver
	if reason != "" {
		state.Error += ": " + reason
	}
	state.FinishedAt = &now
	r.skipRemaining(run)

	if err := r.moveTo(ctx, run, StatusCancelled); err != nil {
		return nil, err
	}
	if err := r.audit(ctx, run, state.ID, EventRejected, approver, reason); err != nil {
		return nil, err
	}
	return run, nil
}

// Cancel stops a run that has not finished.
func (r *Runner) Cancel(ctx context.Context, runID, actor, reason string) (*Run, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	prev := run.Status
	if err := run.transition(StatusCancelled); err != nil {
		return nil, err
	}

	r.skipRemaining(run)
	if err := r.save(ctx, run, prev); err != nil {
		return nil, err
	}
	if err := r.audit(ctx, run, run.CurrentStepID(), EventCancelled, actorOrDefault(actor), reason); err != nil {
		return nil, err
	}
	return run, nil
}

// Retry resets the failed step to pending and continues the run. An
// approval already granted for that step is kept.
func (r *Runner) Retry(ctx context.Context, runID, actor string) (*Run, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusFailed {
		return nil, errors.Wrapf(ErrInvalidTransition, "run %s is %s, only failed runs can be retried", run.ID, run.Status)
	}

	_, state, ok := run.current()
	if !ok {
		return nil, errors.Errorf("run %s has no step to retry", run.ID)
	}
	state.Status = StepPending
	state.Error = ""
	state.Output = ""
	state.StartedAt = nil
	state.FinishedAt = nil

	if err := r.moveTo(ctx, run, StatusRunning); err != nil {
		return nil, err
	}
	if err := r.audit(ctx, run, state.ID, EventRetried, actorOrDefault(actor), ""); err != nil {
		return nil, err
	}

	return r.advance(ctx, run)
}

// Get loads a run.
func (r *Runner) Get(ctx context.Context, runID string) (*Run, error) {
	return r.store.GetRun(ctx, runID)
}

// List returns runs matching filter, newest first.
func (r *Runner) List(ctx context.Context, filter RunFilter) ([]*Run, error) {
	return r.store.ListRuns(ctx, filter)
}

// AuditLog returns the audit trail of a run in order.
func (r *Runner) AuditLog(ctx context.Context, runID string) ([]AuditEntry, error) {
	if _, err := r.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return r.store.AuditLog(ctx, runID)
}

func (r *Runner) awaiting(ctx context.Context, runID string) (*Run, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusAwaitingApproval {
		return nil, errors.Wrapf(ErrInvalidTransition, "run %s is %s, not awaiting approval", run.ID, run.Status)
	}
	return run, nil
}

func (r *Runner) advance(ctx context.Context, run *Run) (*Run, error) {
	ctx = logger.WithFields(ctx, map[string]any{"run_id": run.ID, "sop": run.SOP})

	if run.Status == StatusPending {
		if err := r.moveTo(ctx, run, StatusRunning); err != nil {
			return nil, err
		}
		if err := r.audit(ctx, run, "", EventStarted, SystemActor, ""); err != nil {
			return nil, err
		}
	}

	for {
		step, state, ok := run.current()
		if !ok {
			break
		}

		stop, err := r.runStep(ctx, run, step, state)
		if err != nil {
			return nil, err
		}
		if stop {
			return run, nil
		}
		run.CurrentStep++
		if err := r.save(ctx, run, run.Status); err != nil {
			return nil, err
		}
	}

	if err := r.moveTo(ctx, run, StatusCompleted); err != nil {
		return nil, err
	}
	if err := r.audit(ctx, run, "", EventCompleted, SystemActor, ""); err != nil {
		return nil, err
	}
	logger.G(ctx).Info("SOP run completed")
	return run, nil
}

// runStep processes the current step. It returns stop=true when the run
// paused at a gate or failed.
func (r *Runner) runStep(ctx context.Context, run *Run, step Step, state *StepState) (bool, error) {
	if state.Status == StepCompleted || state.Status == StepSkipped {
		return false, nil
	}

	gated := step.RequiresApproval
	gateReason := "step requires approval"

	if step.Run != "" {
		command, err := Render(step.Run, run.Inputs)
		if err != nil {
			return true, r.failStep(ctx, run, state, EventStepFailed, err.Error())
		}
		state.Command = command

		assessment := r.classifier.Classify(command)
		state.Risk = string(assessment.Level)

		switch {
		case assessment.Level == classifier.LevelCritical && !step.AllowRisky:
			return true, r.failStep(ctx, run, state, EventStepRefused,
				fmt.Sprintf("refused: command rated critical (%s)", assessment.Reason))
		case assessment.Level.AtLeast(classifier.LevelHigh):
			gated = true
			gateReason = fmt.Sprintf("command rated %s: %s", assessment.Level, assessment.Reason)
		}
	}

	if gated && state.ApprovedBy == "" {
		state.Status = StepAwaitingApproval
		if err := r.moveTo(ctx, run, StatusAwaitingApproval); err != nil {
			return true, err
		}
		logger.G(ctx).WithField("step", step.ID).Info("SOP run awaiting approval")
		return true, r.audit(ctx, run, step.ID, EventApprovalRequested, SystemActor, gateReason)
	}

	started := r.now()
	state.Status = StepRunning
	state.StartedAt = &started
	state.Attempts++
	if err := r.save(ctx, run, run.Status); err != nil {
		return true, err
	}
	if err := r.audit(ctx, run, step.ID, EventStepStarted, SystemActor, state.Command); err != nil {
		return true, err
	}

	var output string
	execErr := telemetry.SkillSpan(ctx, "sop", "step", func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, step.TimeoutDuration())
		defer cancel()

		var err error
		output, err = r.executor.Execute(stepCtx, Task{
			RunID:   run.ID,
			StepID:  step.ID,
			Command: state.Command,
			Action:  step.Action,
			With:    step.With,
		})
		return err
	}, attribute.String("sop.run_id", run.ID), attribute.String("sop.step_id", step.ID))

	state.Output = output
	if execErr != nil {
		return true, r.failStep(ctx, run, state, EventStepFailed, execErr.Error())
	}

	finished := r.now()
	state.Status = StepCompleted
	state.FinishedAt = &finished
	return false, r.audit(ctx, run, step.ID, EventStepCompleted, SystemActor, "")
}

func (r *Runner) failStep(ctx context.Context, run *Run, state *StepState, event AuditEvent, msg string) error {
	now := r.now()
	state.Status = StepFailed
	state.Error = msg
	state.FinishedAt = &now

	if err := r.moveTo(ctx, run, StatusFailed); err != nil {
		return err
	}
	logger.G(ctx).WithField("step", state.ID).WithField("error", msg).Warn("SOP step failed")
	if err := r.audit(ctx, run, state.ID, event, SystemActor, msg); err != nil {
		return err
	}
	return r.audit(ctx, run, state.ID, EventFailed, SystemActor, "")
}

func (r *Runner) skipRemaining(run *Run) {
	for i := run.CurrentStep; i < len(run.Steps); i++ {
		switch run.Steps[i].Status {
		case StepPending, StepAwaitingApproval, StepRunning:
			run.Steps[i].Status = StepSkipped
		}
	}
}

// moveTo transitions run and saves it, failing if the stored run has left
// its previous status in the meantime.
func (r *Runner) moveTo(ctx context.Context, run *Run, to Status) error {
	prev := run.Status
	if err := run.transition(to); err != nil {
		return err
	}
	return r.save(ctx, run, prev)
}

func (r *Runner) save(ctx context.Context, run *Run, expected Status) error {
	run.UpdatedAt = r.now()
	return r.store.UpdateRun(ctx, run, expected)
}

func (r *Runner) audit(ctx context.Context, run *Run, stepID string, event AuditEvent, actor, detail string) error {
	telemetry.AddEvent(ctx, string(event),
		attribute.String("sop.run_id", run.ID),
		attribute.String("sop.step_id", stepID),
		attribute.String("sop.actor", actor))
	return r.store.AppendAudit(ctx, AuditEntry{
		RunID:  run.ID,
		StepID: stepID,
		Event:  event,
		Actor:  actor,
		Detail: detail,
		At:     r.now(),
	})
}

func (r *Runner) now() time.Time {
	return r.clock.Now().UTC()
}

func actorOrDefault(actor string) string {
	if actor == "" {
		return "unknown"
	}
	return actor
}
