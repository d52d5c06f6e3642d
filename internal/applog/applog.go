// Package applog builds the shared logrus logger every como process
// (supervisor, capture, export, storage) logs through.
package applog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger at the given level ("debug"/"info"/"warn"/"error",
// defaulting to info on a bad value) and format ("json" or "text").
// component is not attached: the returned logger carries no fields, and
// callers tag their lines with WithComponent or WithField("component", ...).
func New(level, format, component string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

// WithComponent returns a logrus.Entry tagging every line with component,
// the idiom used throughout a multi-process (here: multi-goroutine)
// pipeline to tell Capture/Export/Storage/Supervisor lines apart in a
// merged log stream.
func WithComponent(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}
