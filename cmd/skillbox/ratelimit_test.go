package main

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/ratelimit"
	"github.com/jingkaihe/skillbox/pkg/testutil"
)

func TestDecisionExitCode(t *testing.T) {
	ctx := context.Background()
	limiter, err := ratelimit.NewFromConfig(config.RateLimitConfig{Backend: "sqlite"}, testutil.OpenDB(t), 1, time.Minute)
	require.NoError(t, err)

	first, err := limiter.Allow(ctx, "github-api")
	require.NoError(t, err)
	assert.Equal(t, 0, decisionExitCode(first))

	second, err := limiter.Allow(ctx, "github-api")
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Equal(t, exitFailure, decisionExitCode(second))
	assert.Equal(t, 1, decisionExitCode(second))

	status, err := limiter.Status(ctx, "github-api")
	require.NoError(t, err)
	assert.Equal(t, exitFailure, decisionExitCode(status))
}

func TestRateLimitConfigFromFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected *RateLimitConfig
	}{
		{
			name:     "defaults defer to configuration",
			expected: &RateLimitConfig{},
		},
		{
			name:     "all flags",
			args:     []string{"--limit", "30", "--window", "1m30s", "--json"},
			expected: &RateLimitConfig{Limit: 30, Window: 90 * time.Second, JSON: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defaults := NewRateLimitConfig()
			parent := &cobra.Command{Use: "ratelimit"}
			parent.PersistentFlags().Int("limit", defaults.Limit, "")
			parent.PersistentFlags().Duration("window", defaults.Window, "")
			parent.PersistentFlags().Bool("json", defaults.JSON, "")
			check := &cobra.Command{Use: "check", Run: func(*cobra.Command, []string) {}}
			parent.AddCommand(check)

			require.NoError(t, check.ParseFlags(tt.args))
			assert.Equal(t, tt.expected, getRateLimitConfigFromFlags(check))
		})
	}
}
