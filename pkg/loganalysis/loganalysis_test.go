package loganalysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLevel(t *testing.T) {
	tests := map[string]string{
		"ERROR":    "error",
		"err":      "error",
		"Warning":  "warning",
		"warn":     "warning",
		"CRITICAL": "fatal",
		"info":     "info",
		"verbose":  "",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, NormalizeLevel(in))
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "request 123 failed after 45ms", want: "request <n> failed after <n>ms"},
		{in: "job 3f2a1c9e-8b7d-4e6f-a5b4-c3d2e1f0a9b8 crashed", want: "job <uuid> crashed"},
		{in: "bad pointer 0xdeadbeef", want: "bad pointer <hex>"},
		{in: "commit a1b2c3d4e5 not found", want: "commit <hex> not found"},
		{in: "  extra   spaces  ", want: "extra spaces"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestParseLine(t *testing.T) {
	ts := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		line string
		want Entry
	}{
		{
			name: "json",
			line: `{"time":"2026-10-18T09:30:00Z","logLevel":"error","message":"db timeout"}`,
			want: Entry{Time: ts, Level: "error", Message: "db timeout"},
		},
		{
			name: "logfmt",
			line: `time="2026-10-18T09:30:00Z" level=warning msg="disk \"data\" almost full"`,
			want: Entry{Time: ts, Level: "warning", Message: `disk "data" almost full`},
		},
		{
			name: "text",
			line: "2026-10-18 09:30:00 [ERROR] payment declined",
			want: Entry{Time: ts, Level: "error", Message: "payment declined"},
		},
		{
			name: "text without timestamp",
			line: "INFO: server started",
			want: Entry{Level: "info", Message: "server started"},
		},
		{
			name: "no level",
			line: "plain output",
			want: Entry{Message: "plain output"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLine(tt.line)
			assert.True(t, tt.want.Time.Equal(got.Time), "time %v != %v", got.Time, tt.want.Time)
			assert.Equal(t, tt.want.Level, got.Level)
			assert.Equal(t, tt.want.Message, got.Message)
		})
	}
}

const sample = `2026-10-18 09:00:00 INFO starting worker 1
2026-10-18 09:01:00 ERROR request 17 failed: connection reset
2026-10-18 09:02:00 ERROR request 18 failed: connection reset
2026-10-18 09:03:00 WARN slow query
2026-10-18 09:04:00 ERROR cache miss storm

2026-10-18 09:05:00 ERROR request 99 failed: connection reset
`

func TestAnalyze(t *testing.T) {
	rep, err := Analyze(strings.NewReader(sample), Options{})
	require.NoError(t, err)

	assert.Equal(t, 6, rep.Lines)
	assert.Equal(t, 6, rep.Matched)
	assert.Equal(t, map[string]int{"info": 1, "error": 4, "warning": 1}, rep.Levels)
	require.Len(t, rep.TopErrors, 2)
	assert.Equal(t, MessageCount{
		Message: "request <n> failed: connection reset",
		Count:   3,
		Example: "request 17 failed: connection reset",
	}, rep.TopErrors[0])
	assert.Equal(t, 1, rep.TopErrors[1].Count)
	require.NotNil(t, rep.First)
	assert.Equal(t, "09:00:00", rep.First.Format(time.TimeOnly))
	assert.Equal(t, "09:05:00", rep.Last.Format(time.TimeOnly))
}

func TestAnalyzeFilters(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		matched int
		top     int
	}{
		{name: "level", opts: Options{Level: "err"}, matched: 4, top: 2},
		{name: "grep", opts: Options{Grep: "connection"}, matched: 3, top: 1},
		{name: "since", opts: Options{Since: time.Date(2026, 10, 18, 9, 3, 0, 0, time.UTC)}, matched: 3, top: 2},
		{name: "top", opts: Options{Top: 1}, matched: 6, top: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := Analyze(strings.NewReader(sample), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.matched, rep.Matched)
			assert.Len(t, rep.TopErrors, tt.top)
		})
	}

	_, err := Analyze(strings.NewReader(sample), Options{Grep: "("})
	assert.ErrorContains(t, err, "invalid pattern")
	_, err = Analyze(strings.NewReader(sample), Options{Level: "loud"})
	assert.EqualError(t, err, `unknown level "loud"`)
}

func TestAnalyzeFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.log")
	b := filepath.Join(dir, "b.log")
	require.NoError(t, os.WriteFile(a, []byte(sample), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(`{"level":"error","msg":"request 5 failed: connection reset"}`+"\n"), 0o644))

	rep, err := AnalyzeFiles(context.Background(), []string{a, b}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, rep.Files)
	assert.Equal(t, 7, rep.Lines)
	assert.Equal(t, 4, rep.TopErrors[0].Count)

	_, err = AnalyzeFiles(context.Background(), []string{filepath.Join(dir, "nope.log")}, Options{})
	assert.ErrorContains(t, err, "failed to open")
}
