package voicecall

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// mockDuration is the reported length of every completed mock call.
const mockDuration = 30

// MockProvider records calls in the voice_calls table without dialing.
// Each Status query advances queued → in-progress → completed.
type MockProvider struct {
	db   *sqlx.DB
	from string
	now  func() time.Time
}

// NewMockProvider creates a mock provider over a migrated database.
func NewMockProvider(db *sqlx.DB, from string) *MockProvider {
	return &MockProvider{db: db, from: from, now: time.Now}
}

// Name implements Provider.
func (p *MockProvider) Name() string { return "mock" }

// Initiate implements Provider.
func (p *MockProvider) Initiate(ctx context.Context, req CallRequest) (*Call, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := p.now().UTC()
	message := req.Message
	if message == "" {
		message = req.SSML
	}
	call := &Call{
		ID:         "MOCK_" + now.Format("20060102150405") + "_" + uuid.NewString()[:8],
		Provider:   p.Name(),
		To:         req.To,
		From:       p.from,
		Message:    message,
		Type:       req.contentType(),
		Status:     StatusQueued,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO voice_calls (id, provider, to_number, from_number, message, type, status, duration, webhook_url, created_at, updated_at)
		VALUES (:id, :provider, :to_number, :from_number, :message, :type, :status, :duration, :webhook_url, :created_at, :updated_at)
	`, call)
	if err != nil {
		return nil, errors.Wrap(err, "failed to record mock call")
	}

	logger.G(ctx).WithField("call_id", call.ID).WithField("to", call.To).Info("[MOCK] call initiated")
	return call, nil
}

// Status implements Provider.
func (p *MockProvider) Status(ctx context.Context, id string) (*Call, error) {
	return p.transition(ctx, id, func(c *Call) {
		switch c.Status {
		case StatusQueued:
			c.Status = StatusInProgress
		case StatusInProgress:
			c.Status = StatusCompleted
			c.Duration = mockDuration
		}
	})
}

// Hangup implements Provider.
func (p *MockProvider) Hangup(ctx context.Context, id string) (*Call, error) {
	call, err := p.transition(ctx, id, func(c *Call) {
		c.Status = StatusCompleted
	})
	if err != nil {
		return nil, err
	}
	logger.G(ctx).WithField("call_id", id).Info("[MOCK] call ended")
	return call, nil
}

func (p *MockProvider) transition(ctx context.Context, id string, advance func(*Call)) (*Call, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var call Call
	err = tx.GetContext(ctx, &call, `SELECT * FROM voice_calls WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrCallNotFound, "call %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load call %s", id)
	}

	advance(&call)
	call.UpdatedAt = p.now().UTC()
	if _, err := tx.NamedExecContext(ctx, `
		UPDATE voice_calls SET status = :status, duration = :duration, updated_at = :updated_at WHERE id = :id
	`, &call); err != nil {
		return nil, errors.Wrapf(err, "failed to update call %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit call update")
	}
	return &call, nil
}
