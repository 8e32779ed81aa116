// Package logging builds the process logger. Every entry carries the service
// name and host so aggregated logs from several instances stay attributable.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const service = "freightflow"

// New returns a logger writing to out at level, formatted as "json" or "text".
func New(out io.Writer, level, format string) (logrus.FieldLogger, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}

	hostname, _ := os.Hostname()
	return l.WithFields(logrus.Fields{
		"service":  service,
		"hostname": hostname,
	}), nil
}

// Discard is a logger for tests and tools that do not want output.
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
