package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	stdLogger *logrus.Logger
)

func init() {
	stdLogger = logrus.New()
	stdLogger.SetOutput(os.Stdout)
	stdLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Setup applies level (debug|info|warn|error) and format (text|json).
func Setup(level, format string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	stdLogger.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		stdLogger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		stdLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// SetOutput redirects log lines, e.g. to stderr for commands that print data.
func SetOutput(w io.Writer) {
	stdLogger.SetOutput(w)
}

// Logger exposes the underlying logger for middleware.
func Logger() *logrus.Logger {
	return stdLogger
}

// WithScan tags every line with the scan id.
func WithScan(id string) *logrus.Entry {
	return stdLogger.WithField("scan_id", id)
}

func Debugf(format string, v ...interface{}) {
	stdLogger.Debugf(format, v...)
}

func Infof(format string, v ...interface{}) {
	stdLogger.Infof(format, v...)
}

func Warnf(format string, v ...interface{}) {
	stdLogger.Warnf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	stdLogger.Errorf(format, v...)
}

func Fatalf(format string, v ...interface{}) {
	stdLogger.Fatalf(format, v...)
}
