package sop

import (
	"time"

	"github.com/pkg/errors"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses
const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// StepStatus is the state of a single step within a run.
type StepStatus string

// Step statuses
const (
	StepPending          StepStatus = "pending"
	StepRunning          StepStatus = "running"
	StepAwaitingApproval StepStatus = "awaiting_approval"
	StepCompleted        StepStatus = "completed"
	StepFailed           StepStatus = "failed"
	StepSkipped          StepStatus = "skipped"
)

var (
	// ErrRunNotFound is returned when no run has the requested id.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidTransition is returned when an operation is not valid in the run's current status.
	ErrInvalidTransition = errors.New("invalid run transition")
)

// ValidationError wraps problems with a definition or the inputs given to it.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err came from checking a definition or its
// inputs rather than from running it.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// failed is not terminal: Retry moves it back to running
var transitions = map[Status][]Status{
	StatusPending:          {StatusRunning, StatusCancelled},
	StatusRunning:          {StatusAwaitingApproval, StatusCompleted, StatusFailed, StatusCancelled},
	StatusAwaitingApproval: {StatusRunning, StatusCancelled},
	StatusFailed:           {StatusRunning},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// StepState records what happened to one step.
type StepState struct {
	ID           string     `json:"id"`
	Status       StepStatus `json:"status"`
	Risk         string     `json:"risk,omitempty"`
	Command      string     `json:"command,omitempty"`
	Output       string     `json:"output,omitempty"`
	Error        string     `json:"error,omitempty"`
	Attempts     int        `json:"attempts"`
	ApprovedBy   string     `json:"approved_by,omitempty"`
	ApprovalNote string     `json:"approval_note,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Run is one execution of a definition. The definition is snapshotted so
// editing the YAML file does not change runs already in flight.
type Run struct {
	ID          string            `json:"id"`
	SOP         string            `json:"sop"`
	SOPVersion  string            `json:"sop_version,omitempty"`
	Status      Status            `json:"status"`
	CurrentStep int               `json:"current_step"`
	Definition  Definition        `json:"definition"`
	Steps       []StepState       `json:"steps"`
	Inputs      map[string]string `json:"inputs"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (r *Run) transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return errors.Wrapf(ErrInvalidTransition, "run %s: %s -> %s", r.ID, r.Status, to)
	}
	r.Status = to
	return nil
}

// current returns the definition step and its state at CurrentStep, or false
// when every step has been processed.
func (r *Run) current() (Step, *StepState, bool) {
	if r.CurrentStep < 0 || r.CurrentStep >= len(r.Steps) {
		return Step{}, nil, false
	}
	return r.Definition.Steps[r.CurrentStep], &r.Steps[r.CurrentStep], true
}

// CurrentStepID returns the id of the step the run is positioned at.
func (r *Run) CurrentStepID() string {
	if _, state, ok := r.current(); ok {
		return state.ID
	}
	return ""
}

// RunFilter narrows List results.
type RunFilter struct {
	SOP    string
	Status Status
	Limit  int
}

// AuditEvent names what an audit entry records.
type AuditEvent string

// Audit events
const (
	EventCreated           AuditEvent = "created"
	EventStarted           AuditEvent = "started"
	EventApprovalRequested AuditEvent = "approval_requested"
	EventApproved          AuditEvent = "approved"
	EventRejected          AuditEvent = "rejected"
	EventStepStarted       AuditEvent = "step_started"
	EventStepCompleted     AuditEvent = "step_completed"
	EventStepFailed        AuditEvent = "step_failed"
	EventStepRefused       AuditEvent = "step_refused"
	EventCompleted         AuditEvent = "completed"
	EventFailed            AuditEvent = "failed"
	EventCancelled         AuditEvent = "cancelled"
	EventRetried           AuditEvent = "retried"
)

// AuditEntry is one line of a run's audit trail.
type AuditEntry struct {
	ID     int64      `json:"id,omitempty" db:"id"`
	RunID  string     `json:"run_id" db:"run_id"`
	StepID string     `json:"step_id,omitempty" db:"step_id"`
	Event  AuditEvent `json:"event" db:"event"`
	Actor  string     `json:"actor,omitempty" db:"actor"`
	Detail string     `json:"detail,omitempty" db:"detail"`
	At     time.Time  `json:"at" db:"at"`
}
