// Package httpclient provides the retrying, rate-limited HTTP client shared
// by every REST-backed skill.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/logger"
	"github.com/jingkaihe/skillbox/pkg/version"
)

const maxErrorBody = 4096

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	URL        string
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed (%d): %s", e.Method, e.URL, e.Status, e.Body)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client wraps http.Client with a token bucket and retry policy.
type Client struct {
	HTTP      *http.Client
	Limiter   *rate.Limiter
	Retry     config.RetryConfig
	UserAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.HTTP = h
	}
}

// WithRateLimit throttles requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy.
func WithRetry(cfg config.RetryConfig) Option {
	return func(c *Client) {
		c.Retry = cfg
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.HTTP.Timeout = d
	}
}

// New creates a client with three attempts, exponential backoff and no rate limit.
func New(opts ...Option) *Client {
	c := &Client{
		HTTP: &http.Client{Timeout: 60 * time.Second},
		Retry: config.RetryConfig{
			Attempts:     3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			BackoffType:  "exponential",
		},
		UserAgent: version.UserAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client from the http section of the configuration.
func NewFromConfig(cfg config.HTTPConfig, opts ...Option) *Client {
	base := []Option{WithRetry(cfg.Retry)}
	if cfg.Timeout > 0 {
		base = append(base, WithTimeout(cfg.Timeout))
	}
	return New(append(base, opts...)...)
}

// Do sends req, waiting on the rate limiter before every attempt. Network
// errors, 429 and 5xx responses are retried; once attempts run out the last
// failure is returned as an error. Other responses are returned untouched and
// the caller must close the body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil && c.attempts() > 1 {
		return nil, errors.New("request body cannot be replayed for retries")
	}
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	var resp *http.Response
	err := retry.Do(
		func() error {
			if c.Limiter != nil {
				if err := c.Limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(errors.Wrap(err, "rate limiter wait aborted"))
				}
			}

			attempt := req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return retry.Unrecoverable(errors.Wrap(err, "failed to rewind request body"))
				}
				attempt.Body = body
			}

			r, err := c.HTTP.Do(attempt)
			if err != nil {
				return err
			}
			if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
				return readAPIError(r)
			}
			resp = r
			return nil
		},
		retry.RetryIf(isRetryable),
		retry.Attempts(c.attempts()),
		retry.Delay(c.Retry.InitialDelay),
		retry.MaxDelay(c.Retry.MaxDelay),
		retry.DelayType(c.delayType()),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).
				WithField("url", req.URL.Redacted()).
				WithField("attempt", n+1).
				WithField("max_attempts", c.attempts()).
				Warn("retrying HTTP request")
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DoJSON sends body (when non-nil) as JSON and decodes a 2xx response into
// out (when non-nil). Non-2xx responses yield an *APIError.
func (c *Client) DoJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, out)
}

// DecodeResponse closes resp and decodes its JSON body into out, or returns
// an *APIError when the status is not 2xx.
func DecodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{
		Status: resp.StatusCode,
		Body:   string(bytes.TrimSpace(body)),
	}
	if resp.Request != nil {
		apiErr.Method = resp.Request.Method
		apiErr.URL = resp.Request.URL.Redacted()
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, e.g. from a CheckRedirect hook.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}

	// TLS, DNS and malformed URL errors are net.Errors too; only timeouts
	// and dropped connections are worth another attempt
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Client) attempts() uint {
	if c.Retry.Attempts < 1 {
		return 1
	}
	return uint(c.Retry.Attempts)
}

// delayType honors Retry-After from the server, capped at MaxDelay, and
// otherwise uses the configured backoff.
func (c *Client) delayType() retry.DelayTypeFunc {
	backoff := retry.BackOffDelay
	if c.Retry.BackoffType == "fixed" {
		backoff = retry.FixedDelay
	}

	return func(n uint, err error, cfg *retry.Config) time.Duration {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			if c.Retry.MaxDelay > 0 && apiErr.RetryAfter > c.Retry.MaxDelay {
				return c.Retry.MaxDelay
			}
			return apiErr.RetryAfter
		}
		return backoff(n, err, cfg)
	}
}
