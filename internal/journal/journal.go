// Package journal records viewer and camera events as timestamped lines in a
// plain text file.
package journal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const timeLayout = "2006-01-02 15:04:05"

// formatter renders "YYYY-MM-DD HH:MM:SS <message>".
type formatter struct{}

func (formatter) Format(entry *log.Entry) ([]byte, error) {
	return []byte(entry.Time.Format(timeLayout) + " " + entry.Message + "\n"), nil
}

// Journal appends events to a file, reopening it for every event so rotated
// or deleted files are recreated. Failures are logged and swallowed.
type Journal struct {
	mu     sync.Mutex
	path   string
	logger *log.Logger
}

// New returns a journal writing to path; an empty path only echoes events to
// the operational log.
func New(path string) *Journal {
	logger := log.New()
	logger.SetFormatter(formatter{})
	logger.SetLevel(log.InfoLevel)
	logger.SetOutput(io.Discard)
	return &Journal{path: path, logger: logger}
}

func (j *Journal) Add(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	log.WithField("event", message).Info("journal")
	if j == nil || j.path == "" {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.WithError(err).Warnf("failed to open journal %s", j.path)
		return
	}
	defer f.Close()

	j.logger.SetOutput(failureLogger{f})
	j.logger.WithTime(time.Now()).Info(message)
	j.logger.SetOutput(io.Discard)
}

// failureLogger reports write errors that logrus would otherwise print to
// stderr in its own format.
type failureLogger struct {
	w io.Writer
}

func (f failureLogger) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		log.WithError(err).Warn("failed to write journal")
		return len(p), nil
	}
	return n, nil
}
