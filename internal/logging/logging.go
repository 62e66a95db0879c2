// Package logging wraps logrus behind a narrow interface, the way the
// teacher's logger package wraps its hook-based backend behind Logger:
// callers log through fields, never through the backend directly.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the narrow logging surface the connection front-end depends
// on. Only the methods this module actually calls are exposed; nothing
// here leaks logrus types into callers.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warning(msg string, fields Fields)
	Error(msg string, fields Fields)
	WithFields(fields Fields) Logger
}

// Fields is a map of structured key/value context attached to a log
// entry, mirroring the teacher's logger/fields package without the
// latter's gin/context-propagation machinery (not needed here; see
// DESIGN.md).
type Fields map[string]interface{}

type logger struct {
	entry *logrus.Entry
}

// New builds a Logger writing to w (stderr by default) at the given
// level name ("debug", "info", "warning", "error"). An empty level name
// defaults to "info".
func New(w io.Writer, level string) Logger {
	if w == nil {
		w = os.Stderr
	}

	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &logger{entry: logrus.NewEntry(l)}
}

func (l *logger) Debug(msg string, fields Fields) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (l *logger) Info(msg string, fields Fields) {
	l.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (l *logger) Warning(msg string, fields Fields) {
	l.entry.WithFields(logrus.Fields(fields)).Warn(msg)
}

func (l *logger) Error(msg string, fields Fields) {
	l.entry.WithFields(logrus.Fields(fields)).Error(msg)
}

func (l *logger) WithFields(fields Fields) Logger {
	return &logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// Discard is a Logger that drops everything; used by tests that don't
// care about log output.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logger{entry: logrus.NewEntry(l)}
}
