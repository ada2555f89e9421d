package telemetry

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsoleLoggerWritesLogfmt(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf)
	l.With(map[string]any{"session": "abc"}).Info("app.start", map[string]any{"pack": "pandas-basics"})
	got := buf.String()
	for _, want := range []string{"msg=app.start", "session=abc", "pack=pandas-basics"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
}

func TestJSONLoggerAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dn.log")
	l, err := NewJSONLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Warn("run.failed", map[string]any{"mission": "m2"})
	l.Error("store.down", nil)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), raw)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("line is not json: %v", err)
	}
	if rec["msg"] != "run.failed" || rec["mission"] != "m2" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("x", nil)
	l.With(map[string]any{"a": 1}).Error("y", nil)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	quiet, err := NewJSONLogger("")
	if err != nil {
		t.Fatal(err)
	}
	quiet.Info("dropped", nil)
}
