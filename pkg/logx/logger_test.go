package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// Must not panic.
	l.Info("nothing", String("k", "v"))
}

func TestWithFieldsAreWritten(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "scheduler"))
	l.Info("unit finished", Int("index", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if m["comp"] != "scheduler" {
		t.Fatalf("comp = %v, want scheduler", m["comp"])
	}
	if m["index"] != float64(3) {
		t.Fatalf("index = %v, want 3", m["index"])
	}
	if m["message"] != "unit finished" {
		t.Fatalf("message = %v", m["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestEveryDropsAndReportsSuppressed(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	e := NewEvery(NewWriter(&buf, "debug"), 0.001)

	if !e.Info(false, "first") {
		t.Fatal("first line should pass the limiter")
	}
	for i := 0; i < 5; i++ {
		if e.Info(false, "dropped") {
			t.Fatal("limiter should drop lines inside the window")
		}
	}
	if !e.Info(true, "final") {
		t.Fatal("forced line must always be written")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &last); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if last["suppressed"] != float64(5) {
		t.Fatalf("suppressed = %v, want 5", last["suppressed"])
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestServiceFileSinkAndFallback(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sigbatch.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.With(String("comp", "jobs")).Debug("job registered", Int("jobs", 2))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("file line is not JSON: %v (%q)", err, b)
	}
	if m["comp"] != "jobs" || m["jobs"] != float64(2) {
		t.Fatalf("line = %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q, want the call site", m["caller"])
	}

	// Unopenable file: Apply reports it and keeps logging on the console.
	bad := Config{File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "missing", "x.log")}}
	if err := svc.Apply(bad); err == nil {
		t.Fatal("Apply should report an unopenable log file")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
