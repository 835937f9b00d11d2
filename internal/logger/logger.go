package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Log wraps a logrus entry so call sites can attach structured fields.
type Log struct {
	*logrus.Entry
}

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// Logger is the interface consumed by the services in this application.
type Logger interface {
	// GetLevel returns the currently configured logging level.
	GetLevel() string
	With(fields Fields) *Log
	Module(name string) *Log
}

// NewLogger builds the application logger for the given level string.
func NewLogger(level string) (*Log, error) {
	log := logrus.New()

	log.SetOutput(os.Stdout)

	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		DisableColors:    false,
		ForceColors:      true,
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: bad level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	// Disable concurrency mutex as we use Stdout.
	log.SetNoLock()

	return &Log{Entry: log.WithFields(nil)}, nil
}

// With adds the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

// Module tags every entry with the originating module name.
func (l *Log) Module(name string) *Log {
	return l.With(Fields{"module": name})
}

func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}
