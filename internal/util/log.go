package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// NewLoggerFactory returns a pion LoggerFactory writing through the pterm
// logger, so ICE/DTLS diagnostics share the application's format and level.
func NewLoggerFactory() logging.LoggerFactory {
	return loggerFactory{}
}

type loggerFactory struct{}

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{scope: scope}
}

// scopedLogger tags every pion message with its subsystem scope.
type scopedLogger struct {
	scope string
}

func (l *scopedLogger) args() []pterm.LoggerArgument {
	return pterm.DefaultLogger.Args("scope", l.scope)
}

func (l *scopedLogger) Trace(msg string) { pterm.DefaultLogger.Trace(msg, l.args()) }
func (l *scopedLogger) Tracef(format string, args ...interface{}) {
	pterm.DefaultLogger.Trace(fmt.Sprintf(format, args...), l.args())
}
func (l *scopedLogger) Debug(msg string) { pterm.DefaultLogger.Debug(msg, l.args()) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), l.args())
}
func (l *scopedLogger) Info(msg string) { pterm.DefaultLogger.Info(msg, l.args()) }
func (l *scopedLogger) Infof(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), l.args())
}
func (l *scopedLogger) Warn(msg string) { pterm.DefaultLogger.Warn(msg, l.args()) }
func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), l.args())
}
func (l *scopedLogger) Error(msg string) { pterm.DefaultLogger.Error(msg, l.args()) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), l.args())
}
