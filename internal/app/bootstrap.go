package app

import (
	"path/filepath"
	"strings"

	"sigbatch/internal/config"
	"sigbatch/internal/observability/diag"
	"sigbatch/internal/task/jobs"
	"sigbatch/internal/task/scheduler"
	logx "sigbatch/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapSchedulerOptions turns the scheduler section into options for every
// batch. Zero values keep the scheduler defaults.
func mapSchedulerOptions(cfg *config.Config) ([]scheduler.Option, error) {
	poll, err := cfg.Scheduler.Poll(scheduler.DefaultPollInterval)
	if err != nil {
		return nil, err
	}
	opts := []scheduler.Option{scheduler.WithPollInterval(poll)}
	if cfg.Scheduler.Capacity > 0 {
		opts = append(opts, scheduler.WithCapacity(cfg.Scheduler.Capacity))
	}
	return opts, nil
}

// mapJobsConfig drops disabled jobs and resolves manifest paths against the
// config file's directory.
func mapJobsConfig(cfg *config.Config, cfgPath string) jobs.Config {
	out := jobs.Config{Timezone: cfg.Scheduler.Timezone}
	base := filepath.Dir(cfgPath)
	for _, j := range cfg.Jobs {
		if j.Disabled {
			continue
		}
		out.Jobs = append(out.Jobs, jobs.Job{
			Name:     strings.TrimSpace(j.Name),
			Schedule: j.Schedule,
			Manifest: resolvePath(base, j.Manifest),
		})
	}
	return out
}

func resolvePath(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	if cfg == nil || cfg.Diagnostics == nil {
		return diag.Config{}
	}
	d := cfg.Diagnostics
	return diag.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
	}
}
