// Package logging configures the session log: leveled logrus output teed to
// a timestamped file that lives for the server process and is closed at
// shutdown.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SessionLog owns the log file backing the process logger.
type SessionLog struct {
	Logger *logrus.Logger
	file   *os.File
}

// New builds the process logger at the given level, writing to stderr and to
// a timestamped file under dir. An empty dir disables the file.
func New(level, dir string) (*SessionLog, error) {
	logger := logrus.New()
	formatter := &logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	}
	logger.SetFormatter(formatter)
	logger.SetLevel(parseLevel(level))

	sl := &SessionLog{Logger: logger}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create log directory failed")
		}
		name := filepath.Join(dir, "matchserver_"+time.Now().Format("20060102_150405")+".log")
		f, err := os.Create(name)
		if err != nil {
			return nil, errors.Wrap(err, "create session log file failed")
		}
		sl.file = f
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	return sl, nil
}

// Close flushes and closes the session log file.
func (sl *SessionLog) Close() error {
	if sl.file == nil {
		return nil
	}
	sl.Logger.SetOutput(os.Stderr)
	if err := sl.file.Close(); err != nil {
		return errors.Wrap(err, "close session log file failed")
	}
	return nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
