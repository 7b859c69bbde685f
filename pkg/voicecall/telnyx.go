package voicecall

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/httpclient"
	"github.com/jingkaihe/skillbox/pkg/logger"
)

// DefaultTelnyxBaseURL is the Telnyx v2 API root.
const DefaultTelnyxBaseURL = "https://api.telnyx.com/v2"

// TelnyxProvider uses the Telnyx call control API.
type TelnyxProvider struct {
	apiKey       string
	connectionID string
	baseURL      string
	from         string
	http         *httpclient.Client
}

// NewTelnyxProvider requires an API key and a connection id.
func NewTelnyxProvider(cfg config.TelnyxConfig, from string, hc *httpclient.Client) (*TelnyxProvider, error) {
	if cfg.APIKey == "" || cfg.ConnectionID == "" {
		return nil, errors.New("Telnyx credentials not configured: set telnyx.api_key and telnyx.connection_id")
	}
	if hc == nil {
		hc = httpclient.New()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultTelnyxBaseURL
	}
	return &TelnyxProvider{
		apiKey:       cfg.APIKey,
		connectionID: cfg.ConnectionID,
		baseURL:      baseURL,
		from:         from,
		http:         hc,
	}, nil
}

// Name implements Provider.
func (p *TelnyxProvider) Name() string { return "telnyx" }

type telnyxTTS struct {
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
	SSML  string `json:"ssml,omitempty"`
}

type telnyxDial struct {
	From         string     `json:"from"`
	To           string     `json:"to"`
	ConnectionID string     `json:"connection_id"`
	MediaType    string     `json:"media_type"`
	WebhookURL   string     `json:"webhook_url,omitempty"`
	TTS          *telnyxTTS `json:"tts,omitempty"`
}

type telnyxResponse struct {
	Data struct {
		ID            string `json:"id"`
		CallControlID string `json:"call_control_id"`
		Status        string `json:"status"`
		IsAlive       *bool  `json:"is_alive"`
	} `json:"data"`
}

func (r telnyxResponse) id() string {
	if r.Data.ID != "" {
		return r.Data.ID
	}
	return r.Data.CallControlID
}

// Initiate implements Provider.
func (p *TelnyxProvider) Initiate(ctx context.Context, req CallRequest) (*Call, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := telnyxDial{
		From:         p.from,
		To:           req.To,
		ConnectionID: p.connectionID,
		MediaType:    "audio",
		WebhookURL:   req.WebhookURL,
	}
	if req.Message != "" {
		body.TTS = &telnyxTTS{Text: req.Message, Voice: "female"}
	} else {
		body.TTS = &telnyxTTS{SSML: req.SSML}
	}

	var out telnyxResponse
	if err := p.call(ctx, http.MethodPost, "/calls", body, &out); err != nil {
		return nil, errors.Wrap(err, "failed to initiate Telnyx call")
	}
	call := &Call{ID: out.id(), Provider: p.Name(), To: req.To, From: p.from, Status: StatusActive}
	logger.G(ctx).WithField("call_id", call.ID).Info("call initiated via Telnyx")
	return call, nil
}

// Status implements Provider.
func (p *TelnyxProvider) Status(ctx context.Context, id string) (*Call, error) {
	var out telnyxResponse
	if err := p.call(ctx, http.MethodGet, "/calls/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch Telnyx call %s", id)
	}

	status := out.Data.Status
	if status == "" && out.Data.IsAlive != nil {
		status = StatusCompleted
		if *out.Data.IsAlive {
			status = StatusActive
		}
	}
	return &Call{ID: id, Provider: p.Name(), Status: status}, nil
}

// Hangup implements Provider.
func (p *TelnyxProvider) Hangup(ctx context.Context, id string) (*Call, error) {
	if err := p.call(ctx, http.MethodPost, "/calls/"+url.PathEscape(id)+"/actions/hangup", map[string]any{}, nil); err != nil {
		return nil, errors.Wrapf(err, "failed to hang up Telnyx call %s", id)
	}
	return &Call{ID: id, Provider: p.Name(), Status: StatusCompleted}, nil
}

func (p *TelnyxProvider) call(ctx context.Context, method, path string, body, out any) error {
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	return p.http.DoJSON(ctx, method, p.baseURL+path, headers, body, out)
}
