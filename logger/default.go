package logger

// defLogger backs the package-level logging functions and is handed to
// components that were not given an explicit logger.
var defLogger = NewSlog(InfoLevel, false)

// GetLogger returns the package default logger.
func GetLogger() Logger {
	return defLogger
}

// Debug logs at debug level through the default logger.
func Debug(msg string, keysAndValues ...any) {
	defLogger.Debug(msg, keysAndValues...)
}

// Info logs at info level through the default logger.
func Info(msg string, keysAndValues ...any) {
	defLogger.Info(msg, keysAndValues...)
}

// Warn logs at warn level through the default logger.
func Warn(msg string, keysAndValues ...any) {
	defLogger.Warn(msg, keysAndValues...)
}

// Error logs at error level through the default logger.
func Error(msg string, keysAndValues ...any) {
	defLogger.Error(msg, keysAndValues...)
}

// Fatal logs at error level through the default logger, then exits.
func Fatal(msg string, keysAndValues ...any) {
	defLogger.Fatal(msg, keysAndValues...)
}

// SetLevel changes the default logger's level.
func SetLevel(level Level) {
	defLogger.SetLevel(level)
}

// With returns a child of the default logger carrying the given
// key-value pairs.
func With(keyValues ...any) Logger {
	return defLogger.With(keyValues...)
}
