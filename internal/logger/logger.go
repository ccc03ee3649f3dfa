package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Init configures the shared logger. Unknown levels fall back to info.
func Init(level, format string) {
	log.SetOutput(os.Stdout)
	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
}

// SetOutput redirects the shared logger, mostly for tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// L returns the shared logger.
func L() *logrus.Logger {
	return log
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return log.WithField("component", name)
}

// Discard returns an entry that drops everything.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
