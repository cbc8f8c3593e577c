// Package logger configures the process-wide logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Setup writes logs to stdout and to a timestamped file under dir
// (log/2025-12-08_21-52-35.log). An empty dir logs to stdout only.
// The returned writer is also handed to gin so request logs land in the same place.
func Setup(dir, level string) (io.Writer, func(), error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if dir == "" {
		logrus.SetOutput(os.Stdout)
		return os.Stdout, func() {}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(dir, time.Now().Format("2006-01-02_15-04-05")+".log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	w := io.MultiWriter(os.Stdout, f)
	logrus.SetOutput(w)
	logrus.WithField("path", logPath).Info("Logging to file")
	return w, func() { f.Close() }, nil
}
