package telemetry

import (
	"io"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// Logger writes structured events. A nil *Logger or one built with an empty
// path discards everything.
type Logger struct {
	l *log.Logger
	w io.WriteCloser
}

// NewJSONLogger writes JSON lines to path.
func NewJSONLogger(path string) (*Logger, error) {
	if path == "" {
		return newLogger(nopCloser{Writer: io.Discard}, log.JSONFormatter), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return newLogger(f, log.JSONFormatter), nil
}

// NewConsoleLogger writes logfmt lines to w without taking ownership of it.
func NewConsoleLogger(w io.Writer) *Logger {
	return newLogger(nopCloser{Writer: w}, log.LogfmtFormatter)
}

func newLogger(w io.WriteCloser, f log.Formatter) *Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339Nano,
		Formatter:       f,
		Level:           log.DebugLevel,
	})
	return &Logger{l: l, w: w}
}

func (l *Logger) Info(msg string, fields map[string]any) {
	if l == nil || l.l == nil {
		return
	}
	l.l.Info(msg, keyvals(fields)...)
}

func (l *Logger) Warn(msg string, fields map[string]any) {
	if l == nil || l.l == nil {
		return
	}
	l.l.Warn(msg, keyvals(fields)...)
}

func (l *Logger) Error(msg string, fields map[string]any) {
	if l == nil || l.l == nil {
		return
	}
	l.l.Error(msg, keyvals(fields)...)
}

// With returns a logger that adds fields to every event.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil || l.l == nil {
		return l
	}
	return &Logger{l: l.l.With(keyvals(fields)...), w: nopCloser{Writer: io.Discard}}
}

func (l *Logger) Close() error {
	if l == nil || l.w == nil {
		return nil
	}
	return l.w.Close()
}

// keyvals flattens fields in key order so output is stable.
func keyvals(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		out = append(out, k, fields[k])
	}
	return out
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
