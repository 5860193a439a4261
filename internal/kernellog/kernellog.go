// Package kernellog centralizes the kernel's logrus wiring so every
// package logs through the same configured logger and field conventions
// instead of each constructing its own: a shared *logrus.Logger threaded
// through the services that need it, rather than calls to the package-level
// logrus functions.
package kernellog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a re-export of logrus.Fields so callers need not import logrus
// directly just to attach structured fields to a log line.
type Fields = logrus.Fields

// New builds a logger per the kernel's conventions: JSON output suitable
// for a headless terminal process, level read from level, defaulting to
// info on an empty or unrecognized value.
func New(level string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	return l
}

// WithTerminal returns an entry pre-populated with the owning terminal id,
// so terminal and recovery log lines can be filtered per terminal in
// multi-terminal deployments. pkg/kernel logs through the bare
// *logrus.Logger, so the façade's own lines do not carry this field.
func WithTerminal(l *logrus.Logger, terminalID string) *logrus.Entry {
	return l.WithField("terminal_id", terminalID)
}
