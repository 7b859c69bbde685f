package email

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/jingkaihe/skillbox/pkg/config"
)

func TestNewSender(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EmailConfig
		err  error
	}{
		{name: "missing username", cfg: config.EmailConfig{Password: "p"}, err: ErrMissingCredentials},
		{name: "missing password", cfg: config.EmailConfig{Username: "me@example.com"}, err: ErrMissingCredentials},
		{name: "defaults applied", cfg: config.EmailConfig{Username: "me@example.com", Password: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSender(tt.cfg)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultHost, s.cfg.Host)
			assert.Equal(t, DefaultPort, s.cfg.Port)
			assert.Equal(t, DefaultFromName, s.cfg.FromName)
		})
	}
}

func TestMessageHeaders(t *testing.T) {
	s, err := NewSender(config.EmailConfig{Username: "bot@example.com", Password: "p", FromName: "Build Bot"})
	require.NoError(t, err)

	msg, err := s.Message("dev@example.com", "Nightly report", "all green")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Build Bot")
	assert.Contains(t, raw, "<bot@example.com>")
	assert.Contains(t, raw, "<dev@example.com>")
	assert.Contains(t, raw, "Subject: Nightly report")
	assert.Contains(t, raw, "all green")

	_, err = s.Message("  ", "x", "y")
	assert.EqualError(t, err, "recipient is required")

	_, err = s.Message("not an address", "x", "y")
	assert.ErrorContains(t, err, "invalid recipient")
}

func TestSendUsesTransport(t *testing.T) {
	s, err := NewSender(config.EmailConfig{Username: "bot@example.com", Password: "p"})
	require.NoError(t, err)

	var sent []*mail.Msg
	s.deliver = func(_ context.Context, msg *mail.Msg) error {
		sent = append(sent, msg)
		return nil
	}
	require.NoError(t, s.Send(context.Background(), "dev@example.com", "hi", "body"))
	assert.Len(t, sent, 1)

	s.deliver = func(context.Context, *mail.Msg) error { return errors.New("535 auth failed") }
	err = s.Send(context.Background(), "dev@example.com", "hi", "body")
	assert.EqualError(t, err, "failed to send email to dev@example.com: 535 auth failed")
}
