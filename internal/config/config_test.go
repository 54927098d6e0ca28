package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  poll_interval: 20ms
  capacity: 6
storage:
  driver: sqlite
  path: ./state/sigbatch.db
  busy_timeout: 2s
operations:
  bispectrum:
    command: ["./bin/bispec-worker", "--fast"]
    weight: 4
  phase_coherence:
    command: ["./bin/coh-worker"]
jobs:
  - name: nightly
    schedule: "0 30 2 * * *"
    manifest: ./batches/nightly.yaml
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("cfg.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Scheduler.Capacity != 6 || cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	op := cfg.Operations["bispectrum"]
	if op.Weight != 4 || len(op.Command) != 2 || op.Command[1] != "--fast" {
		t.Fatalf("bispectrum op = %+v", op)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Name != "nightly" {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	d, err := cfg.Scheduler.Poll(50 * time.Millisecond)
	if err != nil || d != 20*time.Millisecond {
		t.Fatalf("PollInterval = %v, %v", d, err)
	}
}

func TestDecodeJSONDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("cfg.json", []byte(`{"logging":{"level":"info"}}`))
	if err != nil {
		t.Fatal(err)
	}
	d, err := cfg.Scheduler.Poll(50 * time.Millisecond)
	if err != nil || d != 50*time.Millisecond {
		t.Fatalf("default PollInterval = %v, %v", d, err)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		data string
		want string
	}{
		{"unknown top-level", "c.json", `{"bogus":{}}`, "unknown field"},
		{"unknown operation field", "c.yaml", "operations:\n  x:\n    command: [a]\n    timeout: 5s\n", "unknown field"},
		{"trailing data", "c.json", `{} {}`, "trailing"},
		{"negative capacity", "c.json", `{"scheduler":{"capacity":-1}}`, "capacity"},
		{"bad poll interval", "c.json", `{"scheduler":{"poll_interval":"soon"}}`, "poll_interval"},
		{"bad timezone", "c.json", `{"scheduler":{"timezone":"Mars/Olympus"}}`, "timezone"},
		{"empty command", "c.json", `{"operations":{"x":{"command":[]}}}`, "command"},
		{"job without manifest", "c.json", `{"jobs":[{"name":"a","schedule":"5m"}]}`, "manifest"},
		{"duplicate job", "c.json", `{"jobs":[{"name":"a","schedule":"5m","manifest":"m"},{"name":"a","schedule":"5m","manifest":"m"}]}`, "duplicate"},
		{"bad diagnostics addr", "c.json", `{"diagnostics":{"enabled":true,"addr":"6061"}}`, "diagnostics.addr"},
		{"bad yaml", "c.yml", "logging: [", "yaml"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.path, []byte(tt.data))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	newCfg, _ := Decode("c.yaml", []byte(sampleYAML))

	sections, _, jobs := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) != 0 || len(jobs) != 0 {
		t.Fatalf("identical configs reported changes: %v %v", sections, jobs)
	}

	newCfg.Scheduler.Capacity = 3
	newCfg.Operations["bispectrum"] = OperationConfig{Command: []string{"./other"}, Weight: 4}
	newCfg.Jobs = append(newCfg.Jobs, JobConfig{Name: "hourly", Schedule: "1h", Manifest: "m.yaml"})

	sections, attrs, jobs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"jobs", "operations", "scheduler"}
	if strings.Join(sections, ",") != strings.Join(want, ",") {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
	if len(jobs) != 1 || jobs[0] != "hourly" {
		t.Fatalf("jobs changed = %v", jobs)
	}

	if s, _, _ := SummarizeConfigChange(nil, &Config{Storage: &StorageConfig{Driver: "file", Path: "x"}}); len(s) != 1 || s[0] != "storage" {
		t.Fatalf("storage change not detected: %v", s)
	}
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"", time.Second, true},
		{"  ", time.Second, true},
		{"0", time.Second, true},
		{"1500ms", 1500 * time.Millisecond, true},
		{"-1s", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, err := (&StorageConfig{BusyTimeout: tt.raw}).BusyWait(time.Second)
		if (err == nil) != tt.ok || got != tt.want {
			t.Fatalf("BusyWait(%q) = %v, %v", tt.raw, got, err)
		}
	}
	var none *StorageConfig
	if d, err := none.BusyWait(time.Second); err != nil || d != time.Second {
		t.Fatalf("nil storage BusyWait = %v, %v", d, err)
	}
}

func TestDecodeYAMLShapes(t *testing.T) {
	t.Parallel()
	if cfg, err := Decode("empty.yaml", nil); err != nil || cfg.Scheduler.Capacity != 0 {
		t.Fatalf("empty yaml = %+v, %v", cfg, err)
	}
	if _, err := Decode("multi.yaml", []byte("scheduler:\n  capacity: 1\n---\nscheduler:\n  capacity: 2\n")); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("second yaml document: err = %v", err)
	}
	if _, err := Decode("keys.yaml", []byte("operations:\n  1: {command: [a]}\n")); err == nil || !strings.Contains(err.Error(), "operations") {
		t.Fatalf("non-string key: err = %v", err)
	}
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestManagerReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sigbatch.yaml")
	writeConfig(t, path, "scheduler:\n  capacity: 2\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(path, cfg, WithValidator(func(_ context.Context, c *Config) error {
		if c.Scheduler.Capacity == 99 {
			return os.ErrInvalid
		}
		return nil
	}))
	updates, cancel := m.Subscribe()
	defer cancel()

	// Same content, different formatting: no change.
	writeConfig(t, path, "scheduler: {capacity: 2}\n")
	if changed, err := m.Reload(context.Background()); changed || err != nil {
		t.Fatalf("reformatted file: changed=%v err=%v", changed, err)
	}

	writeConfig(t, path, "scheduler:\n  capacity: 99\n")
	if _, err := m.Reload(context.Background()); err == nil || m.Get().Scheduler.Capacity != 2 {
		t.Fatalf("rejected config must not be committed: err=%v live=%d", err, m.Get().Scheduler.Capacity)
	}

	// Two accepted versions before the reader looks: only the newest is kept.
	for _, c := range []string{"3", "4"} {
		writeConfig(t, path, "scheduler:\n  capacity: "+c+"\n")
		if changed, err := m.Reload(context.Background()); !changed || err != nil {
			t.Fatalf("capacity %s: changed=%v err=%v", c, changed, err)
		}
	}
	if got := <-updates; got.Scheduler.Capacity != 4 {
		t.Fatalf("subscriber got capacity %d, want 4", got.Scheduler.Capacity)
	}
	select {
	case got := <-updates:
		t.Fatalf("stale update %d still queued", got.Scheduler.Capacity)
	default:
	}

	cancel()
	cancel()
	if _, ok := <-updates; ok {
		t.Fatal("cancel should close the channel")
	}
}

func TestManagerWatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sigbatch.yaml")
	writeConfig(t, path, "scheduler:\n  capacity: 2\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(path, cfg, WithDebounce(20*time.Millisecond))
	updates, unsub := m.Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	// Keep rewriting until the watcher is up and picks the change.
	for {
		writeConfig(t, path, "scheduler:\n  capacity: 7\n")
		select {
		case got := <-updates:
			if got.Scheduler.Capacity != 7 || m.Get().Scheduler.Capacity != 7 {
				t.Fatalf("published %d, live %d, want 7", got.Scheduler.Capacity, m.Get().Scheduler.Capacity)
			}
			cancel()
			<-done
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("config change was not published")
		}
	}
}
