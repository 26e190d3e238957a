// Package logger provides the minimal logging surface used across mailpool.
package logger

import "github.com/sirupsen/logrus"

// Logger is a minimal logging interface compatible with logrus. The pool and
// scheduler accept any implementation of it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Event names the pool writes, in brackets, at the start of its log lines.
const (
	EventCreated   = "created"
	EventAvailable = "available"
	EventClose     = "close"
	EventError     = "error"
	EventMessage   = "message"
)

// New returns a logrus-backed Logger tagged with a component field.
func New(component string) Logger {
	l := logrus.New()
	return l.WithField("component", component)
}

// NewDebug returns a Logger with debug output enabled, used when the pool
// runs with the debug option so wire traffic becomes visible.
func NewDebug(component string) Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return l.WithField("component", component)
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nop{} }

type nop struct{}

func (nop) Debugf(string, ...any) {}
func (nop) Infof(string, ...any)  {}
func (nop) Warnf(string, ...any)  {}
func (nop) Errorf(string, ...any) {}
