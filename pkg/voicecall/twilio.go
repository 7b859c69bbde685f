package voicecall

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/httpclient"
	"github.com/jingkaihe/skillbox/pkg/logger"
)

// DefaultTwilioBaseURL is the Twilio REST API root.
const DefaultTwilioBaseURL = "https://api.twilio.com"

// TwilioProvider calls the Twilio Programmable Voice REST API.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string
	from       string
	http       *httpclient.Client
}

// NewTwilioProvider requires an account SID and auth token.
func NewTwilioProvider(cfg config.TwilioConfig, from string, hc *httpclient.Client) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("Twilio credentials not configured: set twilio.account_sid and twilio.auth_token")
	}
	if hc == nil {
		hc = httpclient.New()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultTwilioBaseURL
	}
	return &TwilioProvider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		from:       from,
		http:       hc,
	}, nil
}

// Name implements Provider.
func (p *TwilioProvider) Name() string { return "twilio" }

type twilioCall struct {
	SID      string `json:"sid"`
	To       string `json:"to"`
	From     string `json:"from"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
}

func (c twilioCall) toCall() *Call {
	duration, _ := strconv.Atoi(c.Duration)
	return &Call{
		ID:       c.SID,
		Provider: "twilio",
		To:       c.To,
		From:     c.From,
		Status:   c.Status,
		Duration: duration,
	}
}

// TwiML renders the document Twilio executes for req.
func TwiML(req CallRequest) string {
	if req.Message != "" {
		return "<Response><Say>" + html.EscapeString(req.Message) + "</Say></Response>"
	}
	return "<Response>" + req.SSML + "</Response>"
}

// Initiate implements Provider.
func (p *TwilioProvider) Initiate(ctx context.Context, req CallRequest) (*Call, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	form := url.Values{
		"To":    {req.To},
		"From":  {p.from},
		"Twiml": {TwiML(req)},
	}
	if req.WebhookURL != "" {
		form.Set("StatusCallback", req.WebhookURL)
	}

	var out twilioCall
	if err := p.post(ctx, p.callsURL(""), form, &out); err != nil {
		return nil, errors.Wrap(err, "failed to initiate Twilio call")
	}
	logger.G(ctx).WithField("call_id", out.SID).WithField("status", out.Status).Info("call initiated via Twilio")
	return out.toCall(), nil
}

// Status implements Provider.
func (p *TwilioProvider) Status(ctx context.Context, id string) (*Call, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.callsURL(id), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	var out twilioCall
	if err := p.send(ctx, req, &out); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch Twilio call %s", id)
	}
	return out.toCall(), nil
}

// Hangup implements Provider.
func (p *TwilioProvider) Hangup(ctx context.Context, id string) (*Call, error) {
	var out twilioCall
	if err := p.post(ctx, p.callsURL(id), url.Values{"Status": {StatusCompleted}}, &out); err != nil {
		return nil, errors.Wrapf(err, "failed to hang up Twilio call %s", id)
	}
	return out.toCall(), nil
}

func (p *TwilioProvider) callsURL(id string) string {
	base := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls", p.baseURL, url.PathEscape(p.accountSID))
	if id == "" {
		return base + ".json"
	}
	return base + "/" + url.PathEscape(id) + ".json"
}

func (p *TwilioProvider) post(ctx context.Context, target string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.send(ctx, req, out)
}

func (p *TwilioProvider) send(ctx context.Context, req *http.Request, out any) error {
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Accept", "application/json")
	resp, err := p.http.Do(ctx, req)
	if err != nil {
		return err
	}
	return httpclient.DecodeResponse(resp, out)
}
