package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/logger"
	"github.com/jingkaihe/skillbox/pkg/ratelimit"
	"github.com/jingkaihe/skillbox/pkg/server"
	"github.com/jingkaihe/skillbox/pkg/skills"
	"github.com/jingkaihe/skillbox/pkg/weather"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the skills, classifier, SOP and rate limit HTTP API",
	Long: `Serve the HTTP API: skills listing, command classification, SOP runs and
approvals, rate limit checks and Prometheus metrics. SOP definitions in the
sops directory are reloaded when they change.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		cfg := loadConfig()
		sqlDB := openStorage(ctx, cfg)
		defer sqlDB.Close()

		deps := serverDeps(ctx, cfg)
		limiter, err := ratelimit.NewFromConfig(cfg.RateLimit, sqlDB, 0, 0)
		if err != nil {
			usageError(err, "invalid rate limit configuration")
		}
		deps.Limiter = limiter
		deps.Runner = newSOPRunner(cfg, sqlDB)

		srv, err := server.New(ctx, &server.Config{
			Addr:   cfg.Server.Addr,
			RPS:    cfg.Server.RPS,
			Burst:  cfg.Server.Burst,
			SOPDir: cfg.SOPDir(),
		}, deps)
		if err != nil {
			usageError(err, "failed to create server")
		}
		if err := srv.Start(ctx); err != nil {
			fail(err, "server failed")
		}
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve skillbox tools to an MCP client over stdio",
	Long: `Serve skillbox tools over the Model Context Protocol on stdin and stdout:
classify_command, text_case, json_validate, weather, sop_status and sop_approve.

Register it with a client, for example:
  {"mcpServers": {"skillbox": {"command": "skillbox", "args": ["mcp"]}}}`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		cfg := loadConfig()
		sqlDB := openStorage(ctx, cfg)
		defer sqlDB.Close()

		deps := serverDeps(ctx, cfg)
		deps.Runner = newSOPRunner(cfg, sqlDB)
		wc := weather.NewClient(newHTTPClient(cfg), weather.DefaultBaseURL)

		if err := server.ServeMCP(ctx, server.NewMCPServer(deps, wc)); err != nil {
			fail(err, "MCP server failed")
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8787", "Listen address")
	serveCmd.Flags().Float64("rps", 10, "Per-client requests per second (0 disables throttling)")
	serveCmd.Flags().Int("burst", 20, "Per-client burst size")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("server.rps", serveCmd.Flags().Lookup("rps"))
	viper.BindPFlag("server.burst", serveCmd.Flags().Lookup("burst"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

func serverDeps(ctx context.Context, cfg *config.Config) server.Deps {
	all := skills.Initialize(ctx, cfg.BasePath, nil)
	logger.G(ctx).WithField("skills", len(all)).Debug("discovered skills")
	return server.Deps{
		Classifier: newClassifier(cfg),
		Skills:     all,
	}
}
