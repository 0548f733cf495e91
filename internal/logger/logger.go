package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New creates a new logger instance
func New(level, format string) *logrus.Logger {
	logger := logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set output
	logger.SetOutput(os.Stdout)

	// Set formatter
	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	return logger
}

// ForURL returns an entry tagged with the page being worked on
func ForURL(logger *logrus.Logger, url string) *logrus.Entry {
	return logger.WithField("url", url)
}

// ForStep returns an entry tagged with the page and agent step
func ForStep(logger *logrus.Logger, url string, step int) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"url": url, "step": step})
}
