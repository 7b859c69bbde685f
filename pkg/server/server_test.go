package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbox/pkg/ratelimit"
	"github.com/jingkaihe/skillbox/pkg/skills"
	"github.com/jingkaihe/skillbox/pkg/sop"
	"github.com/jingkaihe/skillbox/pkg/testutil"
)

const rotateSOP = `name: rotate-keys
description: Rotate the signing keys
steps:
  - id: backup
    action: noop
  - id: rotate
    action: noop
    requires_approval: true
  - id: verify
    action: noop
`

type recordingExecutor struct {
	steps []string
}

func (e *recordingExecutor) Execute(_ context.Context, task sop.Task) (string, error) {
	e.steps = append(e.steps, task.StepID)
	return "ok", nil
}

type harness struct {
	server *Server
	exec   *recordingExecutor
	dir    string
}

func newHarness(t *testing.T, cfg Config, limiter ratelimit.Limiter) *harness {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rotate.yaml"), []byte(rotateSOP), 0o644))

	exec := &recordingExecutor{}
	runner := sop.NewRunner(sop.NewSQLStore(testutil.OpenDB(t)), sop.WithExecutor(exec))

	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	cfg.SOPDir = dir

	s, err := New(context.Background(), &cfg, Deps{
		Runner:  runner,
		Limiter: limiter,
		Skills: map[string]*skills.Skill{
			"weather":  {Name: "weather", Description: "Weather lookups", Builtin: true},
			"classify": {Name: "classify", Description: "Command risk", Builtin: true},
		},
	})
	require.NoError(t, err)
	return &harness{server: s, exec: exec, dir: dir}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "valid", config: Config{Addr: "127.0.0.1:8787", RPS: 10, Burst: 20}},
		{name: "empty address", config: Config{}, wantErr: "address cannot be empty"},
		{name: "missing port", config: Config{Addr: "localhost"}, wantErr: "invalid address"},
		{name: "negative rps", config: Config{Addr: ":8787", RPS: -1}, wantErr: "rps must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(context.Background(), &Config{Addr: "127.0.0.1:0"}, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "an SOP runner is required")
}

func TestHealthAndSkills(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	rec, body := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = h.do(t, http.MethodGet, "/skills", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	list := body["skills"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "classify", list[0].(map[string]any)["name"])
	assert.Equal(t, "weather", list[1].(map[string]any)["name"])
}

func TestClassify(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantLevel  string
		wantError  string
	}{
		{name: "safe", body: map[string]string{"command": "ls -la"}, wantStatus: http.StatusOK, wantLevel: "safe"},
		{name: "critical", body: map[string]string{"command": "rm -rf /"}, wantStatus: http.StatusOK, wantLevel: "critical"},
		{name: "missing command", body: map[string]string{}, wantStatus: http.StatusBadRequest, wantError: "command is required"},
		{name: "unknown field", body: map[string]string{"cmd": "ls"}, wantStatus: http.StatusBadRequest, wantError: "invalid request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := h.do(t, http.MethodPost, "/classify", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				assert.Contains(t, body["error"], tt.wantError)
				assert.Equal(t, false, body["success"])
				return
			}
			assert.Equal(t, tt.wantLevel, body["level"])
		})
	}
}

func TestSOPRunFlow(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	rec, body := h.do(t, http.MethodGet, "/sop/definitions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	defs := body["definitions"].([]any)
	require.Len(t, defs, 1)
	assert.Equal(t, "rotate-keys", defs[0].(map[string]any)["name"])

	rec, body = h.do(t, http.MethodPost, "/sop/runs", map[string]any{"sop": "rotate-keys"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, string(sop.StatusAwaitingApproval), body["status"])
	assert.Equal(t, []string{"backup"}, h.exec.steps)
	id := body["id"].(string)

	rec, body = h.do(t, http.MethodGet, "/sop/runs/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["id"])

	rec, body = h.do(t, http.MethodPost, "/sop/runs/"+id+"/approve", map[string]string{"actor": "alice", "note": "ticket 42"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(sop.StatusCompleted), body["status"])
	assert.Equal(t, []string{"backup", "rotate", "verify"}, h.exec.steps)

	// approving a finished run conflicts
	rec, _ = h.do(t, http.MethodPost, "/sop/runs/"+id+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = h.do(t, http.MethodGet, "/sop/runs/"+id+"/audit", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["entries"])

	rec, body = h.do(t, http.MethodGet, "/sop/runs?status=completed", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["runs"], 1)

	rec, body = h.do(t, http.MethodGet, "/sop/runs?status=failed", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["runs"])
}

func TestSOPErrors(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{name: "unknown sop", method: http.MethodPost, path: "/sop/runs", body: map[string]any{"sop": "nope"}, wantStatus: http.StatusNotFound},
		{name: "unknown run", method: http.MethodGet, path: "/sop/runs/missing", wantStatus: http.StatusNotFound},
		{name: "unknown run audit", method: http.MethodGet, path: "/sop/runs/missing/audit", wantStatus: http.StatusNotFound},
		{name: "cancel unknown run", method: http.MethodPost, path: "/sop/runs/missing/cancel", wantStatus: http.StatusNotFound},
		{name: "bad limit", method: http.MethodGet, path: "/sop/runs?limit=-3", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, false, body["success"])
		})
	}
}

const deploySOP = `name: deploy
inputs:
  - name: env
    required: true
steps:
  - id: ship
    action: noop
`

func TestStartRunErrorStatus(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy.yaml"), []byte(deploySOP), 0o644))

	sqlDB := testutil.OpenDB(t)
	runner := sop.NewRunner(sop.NewSQLStore(sqlDB), sop.WithExecutor(&recordingExecutor{}))
	s, err := New(context.Background(), &Config{Addr: "127.0.0.1:0", SOPDir: dir}, Deps{Runner: runner})
	require.NoError(t, err)
	h := &harness{server: s, dir: dir}

	// runs in order: the last case closes the database
	tests := []struct {
		name       string
		body       any
		closeDB    bool
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing required input",
			body:       map[string]any{"sop": "deploy"},
			wantStatus: http.StatusBadRequest,
			wantError:  `missing required input "env"`,
		},
		{
			name:       "unknown input",
			body:       map[string]any{"sop": "deploy", "inputs": map[string]string{"env": "prod", "region": "eu"}},
			wantStatus: http.StatusBadRequest,
			wantError:  `unknown input "region"`,
		},
		{
			name:       "storage failure",
			body:       map[string]any{"sop": "deploy", "inputs": map[string]string{"env": "prod"}},
			closeDB:    true,
			wantStatus: http.StatusInternalServerError,
			wantError:  "failed to start run",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.closeDB {
				require.NoError(t, sqlDB.Close())
			}
			rec, body := h.do(t, http.MethodPost, "/sop/runs", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Contains(t, body["error"], tt.wantError)
		})
	}
}

func TestRateLimitEndpoint(t *testing.T) {
	limiter, err := ratelimit.NewSQLiteLimiter(testutil.OpenDB(t), ratelimit.Settings{Limit: 2, Window: time.Minute})
	require.NoError(t, err)
	h := newHarness(t, Config{}, limiter)

	for i := 0; i < 2; i++ {
		rec, body := h.do(t, http.MethodPost, "/ratelimit/deploy", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["allowed"])
	}

	rec, body := h.do(t, http.MethodPost, "/ratelimit/deploy", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, false, body["allowed"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec, body = h.do(t, http.MethodPost, "/ratelimit/deploy?peek=true", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, float64(2), body["count"])

	rec, body = h.do(t, http.MethodPost, "/ratelimit/other", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["remaining"])
}

func TestRateLimitWithoutLimiter(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	rec, _ := h.do(t, http.MethodPost, "/ratelimit/deploy", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestThrottle(t *testing.T) {
	h := newHarness(t, Config{RPS: 0.001, Burst: 2}, nil)

	for i := 0; i < 2; i++ {
		rec, _ := h.do(t, http.MethodGet, "/skills", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := h.do(t, http.MethodGet, "/skills", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "too many requests", body["error"])
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// health checks bypass the throttle
	rec, _ = h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestThrottleSweep(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	th := newClientThrottle(1, 1)
	th.now = func() time.Time { return now }

	assert.True(t, th.allow("10.0.0.1"))
	assert.False(t, th.allow("10.0.0.1"))
	assert.True(t, th.allow("10.0.0.2"))

	now = now.Add(clientTTL + time.Second)
	th.sweep()
	assert.Empty(t, th.visitors)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	h.do(t, http.MethodGet, "/healthz", nil)
	h.do(t, http.MethodPost, "/classify", map[string]string{"command": "rm -rf /"})

	rec, _ := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `skillbox_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
	assert.Contains(t, out, `skillbox_classifications_total{level="critical"} 1`)
	assert.Contains(t, out, "skillbox_sop_definitions_loaded 1")
}

func TestDefinitionsReload(t *testing.T) {
	dir := t.TempDir()
	defs := NewDefinitions(dir)
	var counts []int
	defs.onReload = func(n int) { counts = append(counts, n) }

	require.NoError(t, defs.Reload(context.Background()))
	assert.Empty(t, defs.List())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "rotate.yml"), []byte(rotateSOP), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unterminated"), 0o644))

	err := defs.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "some SOP definitions failed to load")

	def, ok := defs.Get("rotate-keys")
	require.True(t, ok)
	assert.Len(t, def.Steps, 3)
	assert.Equal(t, []int{0, 1}, counts)
}

func TestIsDefinitionFile(t *testing.T) {
	assert.True(t, isDefinitionFile("/sops/a.yaml"))
	assert.True(t, isDefinitionFile("b.yml"))
	assert.False(t, isDefinitionFile("c.yaml.swp"))
	assert.False(t, isDefinitionFile("README.md"))
}
