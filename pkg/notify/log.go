package notify

import (
	"context"
	"log/slog"
)

// Log is a notifier that only writes the alert to the log. It is the
// fallback when no transport is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log-only notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify.log")}
}

func (l *Log) SendAlert(_ context.Context, a Alert) error {
	attrs := []any{"alert", a.ID, "severity", a.Severity, "timestamp", a.Timestamp}
	if a.Angle != nil {
		attrs = append(attrs, "angle", *a.Angle)
	}
	l.logger.Warn("FALL ALERT", attrs...)
	return nil
}

func (l *Log) Name() string { return "log" }

var _ Notifier = (*Log)(nil)
