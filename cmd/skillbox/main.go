package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/logger"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

func init() {
	config.Init(viper.GetViper())

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()
}

// shutdownTracing flushes spans; it is replaced once tracing is initialized.
var shutdownTracing = func(context.Context) error { return nil }

var rootCmd = &cobra.Command{
	Use:   "skillbox",
	Short: "A toolbox of skills for AI agents",
	Long: `Skillbox bundles the small tools an agent reaches for: standard operating
procedures with approval gates, command risk classification, rate limiting,
text and JSON transforms, API wrappers and local system helpers.

Every skill is a subcommand. Run "skillbox skill list" to see what is installed.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logger.SetLogOutput(os.Stderr)
		if err := logger.Configure(viper.GetString("log_level"), viper.GetString("log_format")); err != nil {
			presenter.Error(err, "invalid log level")
			os.Exit(exitUsage)
		}

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialize tracing")
			return
		}
		shutdownTracing = shutdown
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt, text or json)")
	rootCmd.PersistentFlags().String("profile", "", "Named configuration profile to apply")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceCommands(rootCmd)

	err := rootCmd.ExecuteContext(ctx)
	shutdownTracing(context.Background())
	if err != nil {
		os.Exit(exitFailure)
	}
}
