// Package logging provides the gateway's structured logger and the
// correlation id context helpers every layer uses to tag its log lines.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// CorrelationHeader is the inbound and outbound correlation header.
const CorrelationHeader = "X-Correlation-Id"

// Logger wraps a logrus logger bound to one service name.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a logger. format is "json" (default) or "text"; an unknown
// level falls back to info.
func New(service, level, format string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	if strings.EqualFold(strings.TrimSpace(format), "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	return &Logger{Logger: base, service: service}
}

// NewDefault creates an info level JSON logger.
func NewDefault(service string) *Logger {
	return New(service, "info", "json")
}

// NewNop creates a logger that discards everything.
func NewNop() *Logger {
	l := New("nop", "panic", "json")
	l.SetOutput(io.Discard)
	return l
}

// Service returns the service name stamped on every entry.
func (l *Logger) Service() string {
	return l.service
}

// WithContext returns an entry carrying the service name and, when present,
// the request's correlation id.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if ctx == nil {
		return entry
	}
	if id := CorrelationID(ctx); id != "" {
		entry = entry.WithField("correlation_id", id)
	}
	return entry
}

// LogRequest logs one completed inbound request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request completed")
	case status >= 400:
		entry.Warn("request completed")
	default:
		entry.Info("request completed")
	}
}

// LogUpstream logs one finished upstream exchange. Failures are warnings.
func (l *Logger) LogUpstream(ctx context.Context, upstream, method, url string, status, attempts int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"upstream":    upstream,
		"method":      method,
		"url":         url,
		"status":      status,
		"attempts":    attempts,
		"duration_ms": duration.Milliseconds(),
	})
	if status >= 400 || status == 0 {
		entry.Warn("upstream call failed")
		return
	}
	entry.Debug("upstream call completed")
}

// WithCorrelationID stores id in ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// NewCorrelationID generates an id of the form corr_<12 hex>.
func NewCorrelationID() string {
	return "corr_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ResolveCorrelationID reuses a non-blank inbound id or generates a new one.
func ResolveCorrelationID(inbound string) string {
	if id := strings.TrimSpace(inbound); id != "" {
		return id
	}
	return NewCorrelationID()
}
