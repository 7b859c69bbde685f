package main

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/db/migrations"
	"github.com/jingkaihe/skillbox/pkg/email"
	"github.com/jingkaihe/skillbox/pkg/httpclient"
	"github.com/jingkaihe/skillbox/pkg/imagegen"
	"github.com/jingkaihe/skillbox/pkg/logger"
	"github.com/jingkaihe/skillbox/pkg/pdf"
	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/sop"
	"github.com/jingkaihe/skillbox/pkg/vault"
)

// Exit codes shared by every command.
const (
	exitFailure = 1
	exitUsage   = 2
)

// notConfigured errors mean a feature lacks credentials or tooling, which is
// the caller's to fix.
var notConfigured = []error{
	imagegen.ErrMissingAPIKey,
	email.ErrMissingCredentials,
	pdf.ErrEditorUnavailable,
}

// exitCodeFor picks the exit code for a failed setup step: exitUsage when
// the caller must fix configuration or input, exitFailure otherwise.
func exitCodeFor(err error) int {
	if sop.IsValidation(err) {
		return exitUsage
	}
	for _, target := range notConfigured {
		if errors.Is(err, target) {
			return exitUsage
		}
	}
	return exitFailure
}

func fail(err error, context string) {
	presenter.Error(err, context)
	exit(exitFailure)
}

func usageError(err error, context string) {
	presenter.Error(err, context)
	exit(exitUsage)
}

// exit ends the command span with the exit code and flushes traces before
// leaving the process.
func exit(code int) {
	if commandSpan != nil {
		commandSpan.SetAttributes(attribute.Int("exit.code", code))
		if code != 0 {
			commandSpan.SetStatus(codes.Error, "exit status "+strconv.Itoa(code))
		}
		commandSpan.End()
	}
	shutdownTracing(context.Background())
	os.Exit(code)
}

// loadConfig decodes the global configuration and applies --profile.
func loadConfig() *config.Config {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		fail(err, "failed to load configuration")
	}
	if err := cfg.ApplyProfile(viper.GetString("profile")); err != nil {
		usageError(err, "failed to apply profile")
	}
	return cfg
}

// openStorage opens the shared database with every migration applied. The
// caller closes it.
func openStorage(ctx context.Context, cfg *config.Config) *sqlx.DB {
	sqlDB, err := migrations.Open(ctx, cfg.DBPath())
	if err != nil {
		fail(err, "failed to open storage")
	}
	return sqlDB
}

func newHTTPClient(cfg *config.Config, opts ...httpclient.Option) *httpclient.Client {
	return httpclient.NewFromConfig(cfg.HTTP, opts...)
}

// httpOptions carries the http section into clients that build their own.
func httpOptions(cfg *config.Config) []httpclient.Option {
	opts := []httpclient.Option{httpclient.WithRetry(cfg.HTTP.Retry)}
	if cfg.HTTP.Timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(cfg.HTTP.Timeout))
	}
	return opts
}

// resolveSecret returns value when set, otherwise the named vault entry.
// A missing or locked vault resolves to the empty string.
func resolveSecret(ctx context.Context, cfg *config.Config, value, name string) string {
	if value != "" {
		return value
	}
	if _, err := os.Stat(cfg.VaultPath()); err != nil {
		return ""
	}
	v, err := vault.Open(cfg.VaultPath(), viper.GetString("vault.identity"))
	if err != nil {
		logger.G(ctx).WithError(err).Debug("vault unavailable for secret lookup")
		return ""
	}
	secret, err := v.Get(name)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("name", name).Debug("secret not in vault")
		return ""
	}
	return secret
}

// readInput returns the arguments joined by spaces, or stdin when there are none.
func readInput(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", errors.Wrap(err, "failed to read stdin")
	}
	return string(data), nil
}

// readInputBytes is readInput for a single file argument: a path, "-" or
// nothing for stdin.
func readInputBytes(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		return data, errors.Wrap(err, "failed to read stdin")
	}
	data, err := os.ReadFile(args[0])
	return data, errors.Wrapf(err, "failed to read %s", args[0])
}

func printJSON(v any) {
	if err := presenter.JSON(v); err != nil {
		fail(err, "failed to encode output")
	}
}
