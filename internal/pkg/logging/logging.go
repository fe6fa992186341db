package logging

import (
	"OFSniff/internal/config"
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// For returns the logger of one component.
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Logger exposes the shared logger, for example to redirect it in tests.
func Logger() *logrus.Logger {
	return base
}

// Configure applies the log section of the configuration.
func Configure(cfg config.LogConfig) error {
	if cfg.Level != "" {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		base.SetLevel(level)
	}
	switch cfg.Format {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
