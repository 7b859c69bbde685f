package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbox/pkg/classifier"
	"github.com/jingkaihe/skillbox/pkg/httpclient"
	"github.com/jingkaihe/skillbox/pkg/sop"
	"github.com/jingkaihe/skillbox/pkg/testutil"
	"github.com/jingkaihe/skillbox/pkg/weather"
)

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()

	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func newToolset(t *testing.T) (*toolset, *recordingExecutor) {
	t.Helper()
	exec := &recordingExecutor{}
	return &toolset{
		classifier: classifier.MustNew(),
		runner:     sop.NewRunner(sop.NewSQLStore(testutil.OpenDB(t)), sop.WithExecutor(exec)),
	}, exec
}

func TestClassifyCommandTool(t *testing.T) {
	ts, _ := newToolset(t)

	out, isErr := callTool(t, ts.classifyCommand, map[string]any{"command": "rm -rf /"})
	require.False(t, isErr)
	var a classifier.Assessment
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, classifier.LevelCritical, a.Level)

	out, isErr = callTool(t, ts.classifyCommand, map[string]any{})
	assert.True(t, isErr)
	assert.Equal(t, "command is required", out)
}

func TestTextCaseTool(t *testing.T) {
	ts, _ := newToolset(t)

	tests := []struct {
		name    string
		args    map[string]any
		want    string
		wantErr bool
	}{
		{name: "snake", args: map[string]any{"text": "Hello World", "mode": "snake"}, want: "hello_world"},
		{name: "upper", args: map[string]any{"text": "abc", "mode": "upper"}, want: "ABC"},
		{name: "missing mode", args: map[string]any{"text": "abc"}, wantErr: true},
		{name: "unknown mode", args: map[string]any{"text": "abc", "mode": "sarcastic"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, isErr := callTool(t, ts.textCase, tt.args)
			assert.Equal(t, tt.wantErr, isErr)
			if !tt.wantErr {
				assert.Equal(t, tt.want, out)
			}
		})
	}
}

func TestJSONValidateTool(t *testing.T) {
	ts, _ := newToolset(t)
	schema := `{"type":"object","required":["name"]}`

	tests := []struct {
		name      string
		args      map[string]any
		wantValid bool
	}{
		{name: "valid", args: map[string]any{"document": `{"a": 1}`}, wantValid: true},
		{name: "syntax error", args: map[string]any{"document": `{"a": }`}},
		{name: "comments rejected", args: map[string]any{"document": "{\"a\": 1 // note\n}"}},
		{name: "comments accepted as jsonc", args: map[string]any{"document": "{\"a\": 1, // note\n}", "jsonc": true}, wantValid: true},
		{name: "schema satisfied", args: map[string]any{"document": `{"name": "x"}`, "schema": schema}, wantValid: true},
		{name: "schema violated", args: map[string]any{"document": `{"other": 1}`, "schema": schema}},
		{name: "jsonc with schema", args: map[string]any{"document": "{\"name\": \"x\",}", "jsonc": true, "schema": schema}, wantValid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, isErr := callTool(t, ts.jsonValidate, tt.args)
			require.False(t, isErr)
			var v validation
			require.NoError(t, json.Unmarshal([]byte(out), &v))
			assert.Equal(t, tt.wantValid, v.Valid)
			if !tt.wantValid {
				assert.NotEmpty(t, v.Error)
			}
		})
	}
}

func TestWeatherTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"current_condition": [{"temp_C": "18", "FeelsLikeC": "17", "humidity": "60", "windspeedKmph": "12", "weatherDesc": [{"value": "Partly cloudy"}]}],
			"nearest_area": [{"areaName": [{"value": "London"}], "country": [{"value": "United Kingdom"}]}],
			"weather": []
		}`))
	}))
	defer srv.Close()

	ts, _ := newToolset(t)
	ts.weather = weather.NewClient(httpclient.New(), srv.URL)

	out, isErr := callTool(t, ts.currentWeather, map[string]any{"location": "London"})
	require.False(t, isErr, out)
	var report weather.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "London", report.Location)
	assert.Equal(t, 18, report.TempC)

	_, isErr = callTool(t, ts.currentWeather, map[string]any{"location": " "})
	assert.True(t, isErr)
}

func TestSOPTools(t *testing.T) {
	ts, exec := newToolset(t)
	ctx := context.Background()

	def, err := sop.ParseDefinition([]byte(rotateSOP))
	require.NoError(t, err)
	run, err := ts.runner.Start(ctx, def, nil)
	require.NoError(t, err)
	require.Equal(t, sop.StatusAwaitingApproval, run.Status)

	out, isErr := callTool(t, ts.sopStatus, map[string]any{})
	require.False(t, isErr)
	var runs []*sop.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	out, isErr = callTool(t, ts.sopStatus, map[string]any{"run_id": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, out, "run not found")

	_, isErr = callTool(t, ts.sopApprove, map[string]any{"run_id": run.ID})
	assert.True(t, isErr)

	out, isErr = callTool(t, ts.sopApprove, map[string]any{"run_id": run.ID, "approver": "alice", "note": "ok"})
	require.False(t, isErr, out)
	var approved sop.Run
	require.NoError(t, json.Unmarshal([]byte(out), &approved))
	assert.Equal(t, sop.StatusCompleted, approved.Status)
	assert.Equal(t, "mcp:alice", approved.Steps[1].ApprovedBy)
	assert.Equal(t, []string{"backup", "rotate", "verify"}, exec.steps)

	out, isErr = callTool(t, ts.sopStatus, map[string]any{"run_id": run.ID})
	require.False(t, isErr)
	assert.Contains(t, out, `"status": "completed"`)
}

func TestNewMCPServerRegistersTools(t *testing.T) {
	ts, _ := newToolset(t)
	s := NewMCPServer(Deps{Runner: ts.runner}, nil)
	require.NotNil(t, s)
}
