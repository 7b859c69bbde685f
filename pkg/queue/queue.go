// Package queue is a persisted FIFO work queue with per-topic ordering.
// Items move queued → claimed → done or failed. Failed and claimed items
// can be put back with Requeue.
package queue

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// Item statuses.
const (
	StatusQueued  = "queued"
	StatusClaimed = "claimed"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

var (
	// ErrEmpty is returned by Claim when the topic has no queued items.
	ErrEmpty = errors.New("queue is empty")
	// ErrItemNotFound is returned for unknown item ids.
	ErrItemNotFound = errors.New("queue item not found")
)

// Item is one unit of work.
type Item struct {
	Seq       int64     `json:"-" db:"seq"`
	ID        string    `json:"id" db:"id"`
	Topic     string    `json:"topic" db:"topic"`
	Payload   string    `json:"payload" db:"payload"`
	Status    string    `json:"status" db:"status"`
	Attempts  int       `json:"attempts" db:"attempts"`
	Error     string    `json:"error,omitempty" db:"error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Queue reads and writes the queue_items table.
type Queue struct {
	db  *sqlx.DB
	now func() time.Time
}

// New creates a queue over a migrated database.
func New(db *sqlx.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Push appends payload to topic.
func (q *Queue) Push(ctx context.Context, topic, payload string) (*Item, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	now := q.now().UTC()
	item := &Item{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := q.db.NamedExecContext(ctx, `
		INSERT INTO queue_items (id, topic, payload, status, attempts, error, created_at, updated_at)
		VALUES (:id, :topic, :payload, :status, :attempts, :error, :created_at, :updated_at)
	`, item)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to push to %s", topic)
	}

	logger.G(ctx).WithField("topic", topic).WithField("id", item.ID).Debug("queued item")
	return item, nil
}

// Claim takes the oldest queued item of topic and marks it claimed. Two
// callers never claim the same item.
func (q *Queue) Claim(ctx context.Context, topic string) (*Item, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var item Item
	err = tx.GetContext(ctx, &item, `
		SELECT * FROM queue_items
		WHERE topic = ? AND status = ?
		ORDER BY seq LIMIT 1
	`, topic, StatusQueued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", topic)
	}

	item.Status = StatusClaimed
	item.Attempts++
	item.UpdatedAt = q.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, attempts = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, item.Status, item.Attempts, item.UpdatedAt, item.ID, StatusQueued)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to claim %s", item.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrEmpty
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim")
	}
	return &item, nil
}

// Complete marks a claimed item done.
func (q *Queue) Complete(ctx context.Context, id string) (*Item, error) {
	return q.finish(ctx, id, StatusDone, "", StatusClaimed)
}

// Fail marks a claimed item failed with reason.
func (q *Queue) Fail(ctx context.Context, id, reason string) (*Item, error) {
	return q.finish(ctx, id, StatusFailed, reason, StatusClaimed)
}

// Requeue puts a claimed or failed item back at its original position.
func (q *Queue) Requeue(ctx context.Context, id string) (*Item, error) {
	return q.finish(ctx, id, StatusQueued, "", StatusClaimed, StatusFailed)
}

func (q *Queue) finish(ctx context.Context, id, status, reason string, from ...string) (*Item, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var item Item
	err = tx.GetContext(ctx, &item, `SELECT * FROM queue_items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrItemNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load item %s", id)
	}

	allowed := false
	for _, s := range from {
		if item.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, errors.Errorf("item %s is %s, expected %s", id, item.Status, strings.Join(from, " or "))
	}

	item.Status = status
	item.Error = reason
	item.UpdatedAt = q.now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_items SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, item.Status, item.Error, item.UpdatedAt, item.ID); err != nil {
		return nil, errors.Wrapf(err, "failed to update item %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit update")
	}
	return &item, nil
}

// Get returns a single item.
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	var item Item
	err := q.db.GetContext(ctx, &item, `SELECT * FROM queue_items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrItemNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load item %s", id)
	}
	return &item, nil
}

// List returns items in queue order. Empty topic or status match everything.
func (q *Queue) List(ctx context.Context, topic, status string) ([]Item, error) {
	query := `SELECT * FROM queue_items WHERE 1 = 1`
	var args []any
	if topic != "" {
		query += ` AND topic = ?`
		args = append(args, topic)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY seq`

	items := []Item{}
	if err := q.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list queue items")
	}
	return items, nil
}

// Purge deletes done and failed items last updated before cutoff.
func (q *Queue) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM queue_items WHERE status IN (?, ?) AND updated_at < ?
	`, StatusDone, StatusFailed, cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge queue")
	}
	return res.RowsAffected()
}
