package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls batch admission (capacity, polling) and the
	// timezone used by recurring job triggers.
	Scheduler SchedulerConfig `json:"scheduler"`

	Storage *StorageConfig `json:"storage,omitempty"`

	// Operations maps an operation name (as used in manifests) to the worker
	// command that computes one unit of it.
	Operations map[string]OperationConfig `json:"operations,omitempty"`

	Jobs []JobConfig `json:"jobs,omitempty"`

	Diagnostics *DiagnosticsConfig `json:"diagnostics,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the per-batch scheduler.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "50ms"
//   - capacity: number of logical cores + 1
type SchedulerConfig struct {
	// PollInterval is a Go duration string (e.g. "50ms").
	PollInterval string `json:"poll_interval,omitempty"`
	Capacity     int    `json:"capacity,omitempty"`

	// Trigger timezone for jobs.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional batch history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./state/sigbatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// OperationConfig describes a worker command.
//
// The worker receives the unit payload on stdin and writes its result to
// stdout. A non-zero exit is a worker failure; the tail of stderr is kept.
type OperationConfig struct {
	Command []string `json:"command"`
	// Weight is the default unit weight for this operation (0 means 1).
	Weight int      `json:"weight,omitempty"`
	Env    []string `json:"env,omitempty"`
	Dir    string   `json:"dir,omitempty"`
	// StderrLimit caps the bytes of stderr kept per unit (0 means 4KiB).
	StderrLimit int `json:"stderr_limit,omitempty"`
}

// UnmarshalJSON disallows unknown fields so a typo in an operation block
// is caught at load time instead of silently ignored.
func (o *OperationConfig) UnmarshalJSON(b []byte) error {
	type plain OperationConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*o = OperationConfig(p)
	return nil
}

// JobConfig runs a manifest on a schedule.
//
// Schedule accepts a cron expression (seconds optional), "@every 5m",
// a Go duration ("90s") or an "HH:MM" interval ("01:30" is 90 minutes).
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Manifest string `json:"manifest"`
	Disabled bool   `json:"disabled,omitempty"`
}

// DiagnosticsConfig controls the daemon's HTTP diagnostics endpoint
// (/healthz, /status, /debug/pprof/).
//
// Example:
//
//	"diagnostics": { "enabled": true, "addr": "127.0.0.1:6061" }
type DiagnosticsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// Token is required for non-loopback addresses unless AllowInsecure.
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
