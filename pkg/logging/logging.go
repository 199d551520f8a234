// Package logging constructs the loggers used across the repository
// engines. Components take a *logrus.Logger through their config and
// fall back to this package's default when none is given.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing human-readable lines to stderr.
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

// Discard returns a logger that swallows everything. Used by tests and
// by callers embedding the engines behind their own logging.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// OrDefault returns log if non-nil, else a fresh default logger.
func OrDefault(log *logrus.Logger) *logrus.Logger {
	if log != nil {
		return log
	}
	return New()
}
