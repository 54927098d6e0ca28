package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sigbatch/internal/config"
	"sigbatch/internal/task/coordinator"
)

func upper(_ context.Context, p []byte) ([]byte, error) { return bytes.ToUpper(p), nil }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

// newTestApp builds an App; callers stay serial because logx.New sets
// zerolog globals.
func newTestApp(t *testing.T, extra string) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "batch.yaml", "operation: upper\nitems:\n  - name: a\n    payload: abc\n  - name: b\n    payload: xyz\n")
	cfg := "logging:\n  level: error\nscheduler:\n  capacity: 2\n  poll_interval: 5ms\n" +
		"storage:\n  driver: file\n  path: " + filepath.Join(dir, "history") + "\n" + extra
	path := writeFile(t, dir, "sigbatch.yaml", cfg)

	reg := coordinator.NewRegistry()
	if err := reg.RegisterFunc("upper", 1, upper); err != nil {
		t.Fatal(err)
	}
	a, err := New(path, WithRegistry(reg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, dir
}

func TestRunManifestRecordsHistory(t *testing.T) {
	a, dir := newTestApp(t, "")
	defer func() { _ = a.Stop(context.Background(), StopRunDone) }()

	var last int
	req, res, err := a.RunManifest(context.Background(), filepath.Join(dir, "batch.yaml"), func(done, _ int) { last = done })
	if err != nil {
		t.Fatalf("RunManifest: %v", err)
	}
	if req.Operation != "upper" || len(res) != 2 || string(res[0].Value) != "ABC" || string(res[1].Value) != "XYZ" {
		t.Fatalf("req=%+v res=%+v", req, res)
	}
	if last != 2 {
		t.Fatalf("final progress = %d, want 2", last)
	}

	recs, err := a.Store().RecentBatches(context.Background(), 10)
	if err != nil || len(recs) != 1 || recs[0].Units != 2 || recs[0].Capacity != 2 {
		t.Fatalf("history = %+v, %v", recs, err)
	}
}

func TestJobTriggerRunsManifest(t *testing.T) {
	a, _ := newTestApp(t, "jobs:\n  - name: nightly\n    schedule: \"@daily\"\n    manifest: batch.yaml\n  - name: off\n    schedule: 1h\n    manifest: batch.yaml\n    disabled: true\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopSIGTERM) }()

	if got := len(a.Jobs().Snapshot().Jobs); got != 1 {
		t.Fatalf("jobs = %d, want 1 (disabled job skipped)", got)
	}
	if err := a.Jobs().Trigger("nightly"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		recs, _ := a.Store().RecentBatches(context.Background(), 1)
		if len(recs) == 1 {
			if recs[0].Job != "nightly" || recs[0].Status != "finished" {
				t.Fatalf("record = %+v", recs[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("job batch was not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConfigOperationCannotShadowFunc(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "c.yaml", "operations:\n  upper:\n    command: [/bin/cat]\n")
	reg := coordinator.NewRegistry()
	_ = reg.RegisterFunc("upper", 1, upper)
	if _, err := New(path, WithRegistry(reg)); !errors.Is(err, coordinator.ErrDuplicateOp) {
		t.Fatalf("err = %v, want ErrDuplicateOp", err)
	}
}

func TestValidateRejectsBadJobSchedule(t *testing.T) {
	a, _ := newTestApp(t, "")
	defer func() { _ = a.Stop(context.Background(), StopRunDone) }()

	cfg := &config.Config{Jobs: []config.JobConfig{{Name: "x", Schedule: "61 * * * *", Manifest: "m.yaml"}}}
	if err := a.validate(context.Background(), cfg); err == nil {
		t.Fatal("expected schedule error")
	}
	cfg = &config.Config{Operations: map[string]config.OperationConfig{"UPPER": {Command: []string{"x"}}}}
	if err := a.validate(context.Background(), cfg); !errors.Is(err, coordinator.ErrDuplicateOp) {
		t.Fatalf("err = %v, want ErrDuplicateOp", err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sc      *config.StorageConfig
		enabled bool
		wantErr string
	}{
		{name: "absent"},
		{name: "none", sc: &config.StorageConfig{Driver: "none"}},
		{name: "file", sc: &config.StorageConfig{Driver: "File", Path: "x"}, enabled: true},
		{name: "sqlite", sc: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}, enabled: true},
		{name: "sqlite no path", sc: &config.StorageConfig{Driver: "sqlite"}, wantErr: "storage.path"},
		{name: "bad busy", sc: &config.StorageConfig{Driver: "sqlite", Path: "x", BusyTimeout: "soon"}, wantErr: "busy_timeout"},
		{name: "unknown", sc: &config.StorageConfig{Driver: "redis"}, wantErr: "unknown"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, enabled, err := mapStorageConfig(&config.Config{Storage: tt.sc})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil || enabled != tt.enabled {
				t.Fatalf("enabled=%v err=%v", enabled, err)
			}
		})
	}
}

func TestMapJobsConfigResolvesManifests(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "UTC"},
		Jobs: []config.JobConfig{
			{Name: " a ", Schedule: "1h", Manifest: "m/a.yaml"},
			{Name: "b", Schedule: "1h", Manifest: "/abs/b.yaml"},
			{Name: "c", Schedule: "1h", Manifest: "c.yaml", Disabled: true},
		},
	}
	got := mapJobsConfig(cfg, "/etc/sigbatch/sigbatch.yaml")
	if got.Timezone != "UTC" || len(got.Jobs) != 2 {
		t.Fatalf("jobs config = %+v", got)
	}
	if got.Jobs[0].Name != "a" || got.Jobs[0].Manifest != "/etc/sigbatch/m/a.yaml" || got.Jobs[1].Manifest != "/abs/b.yaml" {
		t.Fatalf("jobs = %+v", got.Jobs)
	}
}
