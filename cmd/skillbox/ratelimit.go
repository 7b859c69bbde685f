package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/ratelimit"
)

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	JSON   bool
}

func NewRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{Limit: 0, Window: 0, JSON: false}
}

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Sliding window rate limits that persist across invocations",
	Long: `Sliding window rate limits keyed by any string. State lives in the shared
database (or redis when ratelimit.backend is redis), so separate processes
share the same window.

Examples:
  skillbox ratelimit check github-api --limit 30 --window 1m
  skillbox ratelimit status github-api
  skillbox ratelimit reset github-api`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var ratelimitCheckCmd = &cobra.Command{
	Use:   "check <key>",
	Short: "Record a hit if the window has room; exits 1 when limited",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getRateLimitConfigFromFlags(cmd)
		withLimiter(cmd.Context(), config, func(ctx context.Context, l ratelimit.Limiter) {
			decision, err := l.Allow(ctx, args[0])
			if err != nil {
				fail(err, "failed to check rate limit")
			}
			printDecision(decision, config.JSON)
			if code := decisionExitCode(decision); code != 0 {
				exit(code)
			}
		})
	},
}

var ratelimitStatusCmd = &cobra.Command{
	Use:   "status <key>",
	Short: "Show the current window without recording a hit",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getRateLimitConfigFromFlags(cmd)
		withLimiter(cmd.Context(), config, func(ctx context.Context, l ratelimit.Limiter) {
			decision, err := l.Status(ctx, args[0])
			if err != nil {
				fail(err, "failed to read rate limit")
			}
			printDecision(decision, config.JSON)
		})
	},
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Forget every hit for a key",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getRateLimitConfigFromFlags(cmd)
		withLimiter(cmd.Context(), config, func(ctx context.Context, l ratelimit.Limiter) {
			if err := l.Reset(ctx, args[0]); err != nil {
				fail(err, "failed to reset rate limit")
			}
			presenter.Success("reset " + args[0])
		})
	},
}

func init() {
	defaults := NewRateLimitConfig()
	ratelimitCmd.PersistentFlags().Int("limit", defaults.Limit, "Hits allowed per window (defaults to ratelimit.limit)")
	ratelimitCmd.PersistentFlags().Duration("window", defaults.Window, "Window length (defaults to ratelimit.window)")
	ratelimitCmd.PersistentFlags().Bool("json", defaults.JSON, "Output as JSON")

	ratelimitCmd.AddCommand(ratelimitCheckCmd)
	ratelimitCmd.AddCommand(ratelimitStatusCmd)
	ratelimitCmd.AddCommand(ratelimitResetCmd)
	rootCmd.AddCommand(ratelimitCmd)
}

func getRateLimitConfigFromFlags(cmd *cobra.Command) *RateLimitConfig {
	config := NewRateLimitConfig()
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	if window, err := cmd.Flags().GetDuration("window"); err == nil {
		config.Window = window
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

func withLimiter(ctx context.Context, config *RateLimitConfig, fn func(context.Context, ratelimit.Limiter)) {
	cfg := loadConfig()
	sqlDB := openStorage(ctx, cfg)
	defer sqlDB.Close()

	limiter, err := ratelimit.NewFromConfig(cfg.RateLimit, sqlDB, config.Limit, config.Window)
	if err != nil {
		usageError(err, "invalid rate limit configuration")
	}
	fn(ctx, limiter)
}

// decisionExitCode is 0 when the hit was recorded and exitFailure when the
// key is limited.
func decisionExitCode(d ratelimit.Decision) int {
	if d.Allowed {
		return 0
	}
	return exitFailure
}

func printDecision(d ratelimit.Decision, asJSON bool) {
	if asJSON {
		printJSON(d)
		return
	}
	if d.Allowed {
		fmt.Printf("%s %s: %d/%d used, %d remaining\n", presenter.Badge("allowed"), d.Key, d.Count, d.Limit, d.Remaining)
		return
	}
	fmt.Printf("%s %s: %d/%d used, retry after %s\n", presenter.Badge("denied"), d.Key, d.Count, d.Limit, d.RetryAfter.Round(time.Millisecond))
}
