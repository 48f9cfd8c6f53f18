package logger

import (
	"go.uber.org/zap"
)

// Log levels accepted in log.level.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// Encoders accepted in log.format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Logger wraps zap's SugaredLogger.
type Logger struct {
	*zap.SugaredLogger
}

// New builds a logger writing to stdout at the given level and format.
// Unknown levels fall back to debug, unknown formats to console.
func New(level, format string) *Logger {
	return &Logger{SugaredLogger: zap.New(newStdoutCore(toZapLevel(level), format)).Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// ForAccount returns a child logger tagging every entry with the account id.
func (l *Logger) ForAccount(accountID string) *Logger {
	return &Logger{SugaredLogger: l.With("account_id", accountID)}
}
