package audit

import "context"

// Logger writes audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// noOpLogger discards events
type noOpLogger struct{}

// NewNoOpLogger returns a Logger that discards everything
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

func (noOpLogger) Log(ctx context.Context, event *Event) error { return nil }
func (noOpLogger) Close() error                                { return nil }
