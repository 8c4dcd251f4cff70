// Package logger decouples pump control code from any one logging
// framework.
//
// Everything in this module logs through the [Logger] interface with a
// message and structured key-value pairs. Backends exist for the standard
// library's slog ([NewSlog]) and for zap ([NewZap], [WrapZap]); embedding
// applications can plug in their own framework by implementing the
// interface.
package logger

// Level indicates the logging severity level.
type Level = int8

// Severity levels, ordered from most to least verbose.
const (
	// DebugLevel records wire-level detail such as individual pump
	// transactions; usually disabled in production.
	DebugLevel Level = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel flags conditions worth noticing that the code recovered
	// from, like a retried transaction.
	WarnLevel
	// ErrorLevel reports failures that reached the caller.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// Logger is the logging interface used throughout the module.
//
// The keysAndValues variadic alternates keys and values, slog style.
type Logger interface {
	// Debug logs a message at DebugLevel.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel, then calls os.Exit(1), even if
	// logging at FatalLevel is disabled.
	Fatal(msg string, keysAndValues ...any)
	// With creates a child logger carrying additional structured context.
	// Key-values added to the child don't affect the parent, and vice
	// versa.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level for this logger.
	Level() Level
	// SetLevel sets the minimum enabled level for this logger.
	SetLevel(level Level)
}
