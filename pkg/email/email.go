// Package email sends plain text mail over SMTP.
package email

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/wneessen/go-mail"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/logger"
)

const (
	DefaultHost     = "smtp.gmail.com"
	DefaultPort     = 465
	DefaultFromName = "Skillbox Agent"

	sendTimeout = 30 * time.Second
)

// ErrMissingCredentials is returned when the SMTP username or password is unset.
var ErrMissingCredentials = errors.New("SMTP credentials not configured: set email.username and email.password (for Gmail use a 16 character App Password)")

// Sender delivers messages through an SMTP server using implicit TLS.
type Sender struct {
	cfg config.EmailConfig

	// deliver is replaced in tests
	deliver func(ctx context.Context, msg *mail.Msg) error
}

// NewSender validates cfg and fills in the defaults.
func NewSender(cfg config.EmailConfig) (*Sender, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultFromName
	}

	s := &Sender{cfg: cfg}
	s.deliver = s.dialAndSend
	return s, nil
}

// Message builds the message Send would deliver.
func (s *Sender) Message(to, subject, body string) (*mail.Msg, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, errors.New("recipient is required")
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(s.cfg.FromName, s.cfg.Username); err != nil {
		return nil, errors.Wrap(err, "invalid sender address")
	}
	if err := msg.To(to); err != nil {
		return nil, errors.Wrapf(err, "invalid recipient %q", to)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// Send delivers a plain text message to a single recipient.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	msg, err := s.Message(to, subject, body)
	if err != nil {
		return err
	}

	log := logger.G(ctx).WithField("to", to).WithField("host", s.cfg.Host)
	log.Debug("sending email")
	if err := s.deliver(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to send email to %s", to)
	}
	log.Info("email sent")
	return nil
}

func (s *Sender) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(s.cfg.Host,
		mail.WithPort(s.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTimeout(sendTimeout),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create SMTP client")
	}
	return client.DialAndSendWithContext(ctx, msg)
}
