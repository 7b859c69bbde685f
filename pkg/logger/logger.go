// Package logger provides context-aware structured logging built on logrus.
// Skills attach a logger entry carrying skill/run fields to the context and
// retrieve it with G anywhere down the call chain.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

var (
	// G is a convenience alias for GetLogger.
	G = GetLogger
	// L is the global logger entry used when the context carries none.
	L = logrus.NewEntry(newLogger())
)

type (
	loggerKey struct{}
)

// WithLogger attaches a logger entry to the given context, making it retrievable via GetLogger.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	e := logger.WithContext(ctx)
	return context.WithValue(ctx, loggerKey{}, e)
}

// WithFields returns a context whose logger carries the given fields on top
// of whatever logger the context already had.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return WithLogger(ctx, GetLogger(ctx).WithFields(fields))
}

// GetLogger retrieves the logger entry from the context. If no logger is found,
// it returns the global logger L with the context attached.
func GetLogger(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return L
	}

	logger := ctx.Value(loggerKey{})
	if logger == nil {
		return L.WithContext(ctx)
	}

	return logger.(*logrus.Entry)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	// stdout is reserved for skill output
	l.SetOutput(os.Stderr)
	l.AddHook(traceHook{})
	l.Formatter = newFormatter(FormatFmt)
	return l
}

// Log formats accepted by Configure.
const (
	FormatFmt  = "fmt"
	FormatText = "text"
	FormatJSON = "json"
)

func newFormatter(format string) logrus.Formatter {
	switch format {
	case FormatJSON:
		return &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "logLevel",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}
	case FormatText:
		// logfmt without colors, for files and pipes
		return &logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		}
	default:
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		}
	}
}

// traceHook stamps entries logged with a traced context with the trace and
// span ids, so logs can be joined with exported spans.
type traceHook struct{}

func (traceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (traceHook) Fire(e *logrus.Entry) error {
	if e.Context == nil {
		return nil
	}
	sc := trace.SpanContextFromContext(e.Context)
	if !sc.IsValid() {
		return nil
	}
	e.Data["trace_id"] = sc.TraceID().String()
	e.Data["span_id"] = sc.SpanID().String()
	return nil
}

// SetLogLevel sets the log level for the global logger
func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.Logger.SetLevel(logLevel)
	return nil
}

// SetLogFormat sets the log format for the global logger. Unknown formats
// are rejected.
func SetLogFormat(format string) error {
	switch format {
	case FormatFmt, FormatText, FormatJSON:
	default:
		return errors.Errorf("unknown log format %q (want fmt, text or json)", format)
	}
	L.Logger.Formatter = newFormatter(format)
	return nil
}

// SetLogOutput sets the output destination for the global logger
func SetLogOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}

// Configure applies level and format in one call; used by the CLI root.
func Configure(level, format string) error {
	if format != "" {
		if err := SetLogFormat(format); err != nil {
			return err
		}
	}
	if level == "" {
		return nil
	}
	return SetLogLevel(level)
}
