package httpclient

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jingkaihe/skillbox/pkg/config"
)

var fastRetry = config.RetryConfig{
	Attempts:     3,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
	BackoffType:  "fixed",
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(WithRetry(fastRetry))
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(WithRetry(fastRetry))
	err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "boom", apiErr.Body)
	assert.True(t, IsStatus(err, http.StatusInternalServerError))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"nope"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(WithRetry(fastRetry))
	err := c.DoJSON(context.Background(), http.MethodGet, srv.URL+"/x", map[string]string{"X-Test": "1"}, nil, nil)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "GET "+srv.URL+"/x failed (404)")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoJSONReplaysBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "skillbox/"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := New(WithRetry(fastRetry))
	in := map[string]any{"name": "skillbox", "n": 2}
	var out map[string]any
	require.NoError(t, c.DoJSON(context.Background(), http.MethodPost, srv.URL, map[string]string{"Authorization": "secret"}, in, &out))
	assert.Equal(t, "skillbox", out["name"])
	assert.Equal(t, float64(2), out["n"])
}

func TestRetryAfterIsCapped(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(WithRetry(fastRetry))
	start := time.Now()
	require.NoError(t, c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(WithRetry(fastRetry))
	c.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	require.NoError(t, c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.DoJSON(ctx, http.MethodGet, srv.URL, nil, nil, nil)
	assert.ErrorContains(t, err, "rate limiter wait aborted")
}

func TestDoRejectsUnreplayableBody(t *testing.T) {
	c := New(WithRetry(fastRetry))
	req, err := http.NewRequest(http.MethodPost, "http://127.0.0.1:1", io.NopCloser(strings.NewReader("x")))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), req)
	assert.ErrorContains(t, err, "cannot be replayed")
}

func TestNewFromConfig(t *testing.T) {
	c := NewFromConfig(config.HTTPConfig{Timeout: 7 * time.Second, Retry: fastRetry}, WithRateLimit(3, 0))
	assert.Equal(t, 7*time.Second, c.HTTP.Timeout)
	assert.Equal(t, fastRetry, c.Retry)
	require.NotNil(t, c.Limiter)
	assert.Equal(t, 1, c.Limiter.Burst())
	assert.Equal(t, uint(3), c.attempts())

	c.Retry.Attempts = 0
	assert.Equal(t, uint(1), c.attempts())
}

func TestDecodeResponseEmptyBody(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}
	var out map[string]any
	assert.NoError(t, DecodeResponse(resp, &out))

	resp = &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{"))}
	assert.ErrorContains(t, DecodeResponse(resp, &out), "failed to decode response")

	raw, _ := json.Marshal(map[string]int{"a": 1})
	resp = &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(strings.NewReader(string(raw)))}
	require.NoError(t, DecodeResponse(resp, &out))
	assert.Equal(t, float64(1), out["a"])
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	dial := func(err error) error {
		return &url.Error{Op: "Get", URL: "https://api.example.com", Err: &net.OpError{Op: "dial", Net: "tcp", Err: err}}
	}

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"connection refused", dial(os.NewSyscallError("connect", syscall.ECONNREFUSED)), true},
		{"connection reset", dial(os.NewSyscallError("read", syscall.ECONNRESET)), true},
		{"dial timeout", dial(timeoutError{}), true},
		{"dns timeout", &net.DNSError{Err: "timeout", Name: "api.example.com", IsTimeout: true}, true},
		{"truncated body", errors.Wrap(io.ErrUnexpectedEOF, "read body"), true},
		{"server error", &APIError{Status: http.StatusBadGateway}, true},
		{"throttled", &APIError{Status: http.StatusTooManyRequests}, true},
		{"unknown certificate authority", &url.Error{Op: "Get", URL: "https://api.example.com", Err: x509.UnknownAuthorityError{}}, false},
		{"unsupported scheme", &url.Error{Op: "Get", URL: "ftp://api.example.com", Err: errors.New(`unsupported protocol scheme "ftp"`)}, false},
		{"unknown host", &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, false},
		{"client error", &APIError{Status: http.StatusNotFound}, false},
		{"cancelled", dial(context.Canceled), false},
		{"permanent", Permanent(errors.New("redirect refused")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestTransportErrorRetries(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		attempts int32
	}{
		{"refused connections are retried", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, 3},
		{"certificate errors are not", x509.UnknownAuthorityError{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
				calls.Add(1)
				return nil, tt.err
			})

			c := New(WithRetry(fastRetry), WithHTTPClient(&http.Client{Transport: transport}))
			err := c.DoJSON(context.Background(), http.MethodGet, "https://api.example.com/x", nil, nil, nil)
			require.Error(t, err)
			assert.Equal(t, tt.attempts, calls.Load())
		})
	}
}
