// Package logger holds the small structured logging contract used by the
// permission cache and its stores, plus adapters for slog and oarkflow/log.
package logger

// Logger accepts alternating key/value pairs after the message.
// Error is used for the conditions the authorization layer treats as severe.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}

// TraceIDFunc generates a correlation ID attached to load diagnostics.
type TraceIDFunc func() string // It should be cheap and safe for concurrent calls.

// Default returns the logger used when a component is not given one.
func Default() Logger { return NewPhusluLogger() }
