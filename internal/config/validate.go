package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks the parts of a config that can be checked without
// building components. Schedule syntax is validated by the jobs service.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Scheduler.Capacity < 0 {
		return fmt.Errorf("scheduler.capacity must be >= 0")
	}
	if _, err := cfg.Scheduler.Poll(0); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Storage != nil {
		if _, err := cfg.Storage.BusyWait(0); err != nil {
			return err
		}
	}
	if d := cfg.Diagnostics; d != nil && d.Enabled && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr)); err != nil {
			return fmt.Errorf("diagnostics.addr: %w", err)
		}
	}
	for name, op := range cfg.Operations {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("operations: empty operation name")
		}
		if len(op.Command) == 0 || strings.TrimSpace(op.Command[0]) == "" {
			return fmt.Errorf("operations.%s.command is required", name)
		}
		if op.Weight < 0 {
			return fmt.Errorf("operations.%s.weight must be >= 0", name)
		}
		if op.StderrLimit < 0 {
			return fmt.Errorf("operations.%s.stderr_limit must be >= 0", name)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("jobs[%d].name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("jobs[%d]: duplicate job name %q", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(j.Schedule) == "" {
			return fmt.Errorf("jobs.%s.schedule is required", name)
		}
		if strings.TrimSpace(j.Manifest) == "" {
			return fmt.Errorf("jobs.%s.manifest is required", name)
		}
	}
	return nil
}

// Poll is the admission poll interval, or def when unset.
func (s SchedulerConfig) Poll(def time.Duration) (time.Duration, error) {
	return durationOr("scheduler.poll_interval", s.PollInterval, def)
}

// BusyWait is the sqlite busy timeout, or def when unset.
func (s *StorageConfig) BusyWait(def time.Duration) (time.Duration, error) {
	if s == nil {
		return def, nil
	}
	return durationOr("storage.busy_timeout", s.BusyTimeout, def)
}

// durationOr parses a Go duration string. Blank and "0" mean def; negative
// values are rejected.
func durationOr(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: must be >= 0, got %s", field, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
