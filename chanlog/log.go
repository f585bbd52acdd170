// Package chanlog provides the package-level logging hook shared by every
// package in this module, following the same UseLogger idiom the teacher
// uses throughout its RPC and chain-view packages, with Disabled() as the
// default logger.
package chanlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal levelled-logging interface every package in this
// module depends on. *logrus.Entry has no Criticalf, so the logrus-backed
// implementation is the traceLogger adapter below.
type Logger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})
}

// traceLogger adapts a *logrus.Entry to the Logger interface: Tracef is
// logged at logrus's Debug level, and Criticalf (logrus has no Critical
// level) at its Error level.
type traceLogger struct {
	*logrus.Entry
}

func (l traceLogger) Tracef(format string, args ...interface{}) {
	l.Entry.Debugf(format, args...)
}

func (l traceLogger) Criticalf(format string, args ...interface{}) {
	l.Entry.Errorf(format, args...)
}

// disabled discards every log line. Used as the default before a caller
// wires up a real logger, matching the teacher's "disabledLog" pattern.
type disabled struct{}

func (disabled) Tracef(string, ...interface{})    {}
func (disabled) Debugf(string, ...interface{})    {}
func (disabled) Infof(string, ...interface{})     {}
func (disabled) Warnf(string, ...interface{})     {}
func (disabled) Errorf(string, ...interface{})    {}
func (disabled) Criticalf(string, ...interface{}) {}

// NewSubLogger builds a Logger for the given subsystem tag, backed by
// logrus, writing to w (os.Stderr in production, io.Discard in tests).
func NewSubLogger(subsystem string, w io.Writer) Logger {
	base := logrus.New()
	base.SetOutput(w)
	return traceLogger{base.WithField("subsystem", subsystem)}
}

// Disabled returns a Logger that discards all output, the default state for
// every package until UseLogger is called.
func Disabled() Logger {
	return disabled{}
}
