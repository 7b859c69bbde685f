package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/telemetry"
)

// flags whose values never go into span attributes
var sensitiveFlags = map[string]bool{
	"password": true,
	"token":    true,
	"key":      true,
	"api-key":  true,
	"props":    true,
}

// commandSpan is the span of the running command. Commands exit the process
// directly on failure, so exit ends it there.
var commandSpan trace.Span

func initTracing(ctx context.Context) (telemetry.Shutdown, error) {
	return telemetry.Setup(ctx, config.TracingConfig{
		Enabled: viper.GetBool("tracing.enabled"),
		Sampler: viper.GetString("tracing.sampler"),
		Ratio:   viper.GetFloat64("tracing.ratio"),
	}, telemetry.WithSyncExport())
}

// traceCommands gives every runnable command in the tree a span named after
// its path, e.g. "skillbox sop start".
func traceCommands(cmd *cobra.Command) {
	if cmd.Run != nil {
		run := cmd.Run
		cmd.Run = func(cmd *cobra.Command, args []string) {
			ctx, span := telemetry.Tracer("skillbox.cli").Start(cmd.Context(), cmd.CommandPath(),
				trace.WithAttributes(commandAttributes(cmd, args)...))
			defer span.End()

			commandSpan = span
			cmd.SetContext(ctx)
			run(cmd, args)
			span.SetStatus(codes.Ok, "")
		}
	}
	for _, sub := range cmd.Commands() {
		traceCommands(sub)
	}
}

func commandAttributes(cmd *cobra.Command, args []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("command.path", cmd.CommandPath()),
		attribute.Int("args.count", len(args)),
	}
	if skill, _, _ := strings.Cut(strings.TrimPrefix(cmd.CommandPath(), rootCmd.Name()+" "), " "); skill != "" {
		attrs = append(attrs, attribute.String("skill.name", skill))
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		if !sensitiveFlags[flag.Name] {
			attrs = append(attrs, attribute.String("flag."+flag.Name, flag.Value.String()))
		}
	})
	return attrs
}

func init() {
	rootCmd.PersistentFlags().Bool("tracing-enabled", false, "Export OpenTelemetry traces over OTLP/HTTP")
	rootCmd.PersistentFlags().String("tracing-sampler", telemetry.SamplerAlways, "Sampler: always, never or ratio")
	rootCmd.PersistentFlags().Float64("tracing-ratio", 1, "Sampling ratio for the ratio sampler")

	viper.BindPFlag("tracing.enabled", rootCmd.PersistentFlags().Lookup("tracing-enabled"))
	viper.BindPFlag("tracing.sampler", rootCmd.PersistentFlags().Lookup("tracing-sampler"))
	viper.BindPFlag("tracing.ratio", rootCmd.PersistentFlags().Lookup("tracing-ratio"))
}
