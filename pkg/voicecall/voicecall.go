// Package voicecall places text-to-speech phone calls through Twilio, Telnyx
// or a local mock provider backed by the voice_calls table.
package voicecall

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/httpclient"
	"github.com/jingkaihe/skillbox/pkg/logger"
)

// DefaultFromNumber is the caller id used when voice.from_number is unset.
const DefaultFromNumber = "+15555550000"

const (
	StatusQueued     = "queued"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusActive     = "active"
)

// ErrCallNotFound is returned for unknown call ids.
var ErrCallNotFound = errors.New("call not found")

// CallRequest describes an outbound call. Exactly one of Message or SSML is
// spoken; Message wins when both are set.
type CallRequest struct {
	To         string `json:"to"`
	Message    string `json:"message,omitempty"`
	SSML       string `json:"ssml,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Validate checks that the request has a destination and content.
func (r CallRequest) Validate() error {
	if strings.TrimSpace(r.To) == "" {
		return errors.New("destination number is required")
	}
	if strings.TrimSpace(r.Message) == "" && strings.TrimSpace(r.SSML) == "" {
		return errors.New("message or ssml is required")
	}
	return nil
}

func (r CallRequest) contentType() string {
	if r.Message == "" && r.SSML != "" {
		return "ssml"
	}
	return "text"
}

// Call is the provider's view of a call.
type Call struct {
	ID         string    `json:"id" db:"id"`
	Provider   string    `json:"provider" db:"provider"`
	To         string    `json:"to" db:"to_number"`
	From       string    `json:"from" db:"from_number"`
	Message    string    `json:"message,omitempty" db:"message"`
	Type       string    `json:"type,omitempty" db:"type"`
	Status     string    `json:"status" db:"status"`
	Duration   int       `json:"duration,omitempty" db:"duration"`
	WebhookURL string    `json:"webhook_url,omitempty" db:"webhook_url"`
	CreatedAt  time.Time `json:"created_at,omitzero" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitzero" db:"updated_at"`
}

// Provider places and controls calls.
type Provider interface {
	Name() string
	Initiate(ctx context.Context, req CallRequest) (*Call, error)
	Status(ctx context.Context, id string) (*Call, error)
	Hangup(ctx context.Context, id string) (*Call, error)
}

// NewProvider selects the provider named by voice.provider. Plivo and
// unknown names fall back to the mock provider with a warning.
func NewProvider(ctx context.Context, cfg config.Config, db *sqlx.DB, hc *httpclient.Client) (Provider, error) {
	from := cfg.Voice.FromNumber
	if from == "" {
		from = DefaultFromNumber
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Voice.Provider))
	switch name {
	case "", "mock":
		return NewMockProvider(db, from), nil
	case "twilio":
		return NewTwilioProvider(cfg.Twilio, from, hc)
	case "telnyx":
		return NewTelnyxProvider(cfg.Telnyx, from, hc)
	case "plivo":
		logger.G(ctx).Warn("Plivo provider not yet implemented, using mock")
		return NewMockProvider(db, from), nil
	default:
		logger.G(ctx).WithField("provider", name).Warn("unknown voice provider, using mock")
		return NewMockProvider(db, from), nil
	}
}
