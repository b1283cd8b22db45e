package logger

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorLogTimeFormat is the timestamp layout of error log lines.
const ErrorLogTimeFormat = "2006-01-02 15:04:05"

// lineFormatter renders "2006-01-02 15:04:05 - LEVEL - message".
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(e.Time.Format(ErrorLogTimeFormat))
	b.WriteString(" - ")
	b.WriteString(strings.ToUpper(e.Level.String()))
	b.WriteString(" - ")
	b.WriteString(e.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// ErrorLog is the persistent plain text log of gateway errors and session
// events. It is safe for concurrent use.
type ErrorLog struct {
	mu   sync.Mutex
	path string
	file *os.File
	log  *logrus.Logger
}

// OpenErrorLog opens path for writing. mode "a" appends to an existing file,
// mode "w" truncates it first.
func OpenErrorLog(path, mode string) (*ErrorLog, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	switch mode {
	case "a", "":
	case "w":
		flags |= os.O_TRUNC
	default:
		return nil, fmt.Errorf("invalid error log mode %q", mode)
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log '%s': %w", path, err)
	}

	l := logrus.New()
	l.SetOutput(file)
	l.SetFormatter(lineFormatter{})
	l.SetLevel(logrus.DebugLevel)

	return &ErrorLog{path: path, file: file, log: l}, nil
}

func (e *ErrorLog) Path() string {
	return e.path
}

func (e *ErrorLog) Infof(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Infof(format, args...)
}

func (e *ErrorLog) Warnf(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Warnf(format, args...)
}

func (e *ErrorLog) Errorf(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log.Errorf(format, args...)
}

// Clear empties the log file in place.
func (e *ErrorLog) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to clear error log: %w", err)
	}
	if _, err := e.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to clear error log: %w", err)
	}
	return nil
}

func (e *ErrorLog) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Close()
}
