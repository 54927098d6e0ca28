package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sigbatch/internal/config"
	"sigbatch/internal/eventbus"
	"sigbatch/internal/manifest"
	"sigbatch/internal/observability/diag"
	"sigbatch/internal/runtime/supervisor"
	"sigbatch/internal/storage"
	"sigbatch/internal/task/coordinator"
	"sigbatch/internal/task/jobs"
	"sigbatch/internal/task/scheduler"
	"sigbatch/internal/task/unit"
	logx "sigbatch/pkg/logx"
)

type Option func(*App)

// WithRegistry supplies a registry pre-loaded with in-process operations.
// Operations from the config file are added to it.
func WithRegistry(reg *coordinator.Registry) Option {
	return func(a *App) { a.reg = reg }
}

// App wires config, logging, storage, the operation registry, batch
// coordinators and the recurring jobs service.
//
// Ad-hoc batches (Run) share one coordinator, so a new ad-hoc batch
// terminates the previous one. Every job gets its own coordinator so jobs
// never terminate each other.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	reg   *coordinator.Registry
	adhoc *coordinator.Coordinator
	jobs  *jobs.Service
	diag  *diag.Service

	mu        sync.Mutex
	schedOpts []scheduler.Option
	jobCoords map[string]*coordinator.Coordinator
}

func New(cfgPath string, opts ...Option) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &App{cfgPath: cfgPath, jobCoords: map[string]*coordinator.Coordinator{}}
	for _, o := range opts {
		o(a)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()
	// Reloads are validated against the live components before commit.
	a.cfgm = config.NewManager(cfgPath, cfg,
		config.WithLogger(log.With(logx.String("comp", "config"))),
		config.WithValidator(a.validate),
	)

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	if a.reg == nil {
		a.reg = coordinator.NewRegistry()
	}
	if err := a.reg.ApplyConfig(cfg.Operations); err != nil {
		a.closeStore()
		return nil, err
	}

	a.schedOpts, err = mapSchedulerOptions(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.adhoc = a.newCoordinator(log.With(logx.String("comp", "batch")))
	a.jobs = jobs.New(mapJobsConfig(cfg, cfgPath), a.runJob, log.With(logx.String("comp", "jobs")), a.bus)
	if err := a.jobs.Validate(mapJobsConfig(cfg, cfgPath)); err != nil {
		a.closeStore()
		return nil, err
	}
	a.diag = diag.New(mapDiagConfig(cfg), func() any { return a.Status() }, log.With(logx.String("comp", "diag")))
	return a, nil
}

func (a *App) Logger() logx.Logger             { return a.log }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) Store() storage.Store            { return a.store }
func (a *App) Registry() *coordinator.Registry { return a.reg }
func (a *App) Jobs() *jobs.Service             { return a.jobs }
func (a *App) Config() *config.Config          { return a.cfgm.Get() }

// Run executes one ad-hoc batch. A batch already running through Run is
// terminated first.
func (a *App) Run(ctx context.Context, req coordinator.Request, onProgress scheduler.ProgressFunc) ([]unit.Result, error) {
	return a.adhoc.Run(ctx, req, onProgress)
}

// RunManifest loads the manifest at path and runs it as an ad-hoc batch.
func (a *App) RunManifest(ctx context.Context, path string, onProgress scheduler.ProgressFunc) (coordinator.Request, []unit.Result, error) {
	req, err := loadRequest(path)
	if err != nil {
		return req, nil, err
	}
	res, err := a.Run(ctx, req, onProgress)
	return req, res, err
}

// StopBatch terminates the running ad-hoc batch, if any.
func (a *App) StopBatch() { a.adhoc.Stop() }

// Status is the document served on the diagnostics /status endpoint.
type Status struct {
	Operations []string                      `json:"operations"`
	Batch      *scheduler.Snapshot           `json:"batch,omitempty"`
	JobBatches map[string]scheduler.Snapshot `json:"job_batches,omitempty"`
	Jobs       jobs.Snapshot                 `json:"jobs"`
	Supervisor supervisor.Snapshot           `json:"supervisor"`
}

func (a *App) Status() Status {
	st := Status{Operations: a.reg.Names(), Jobs: a.jobs.Snapshot(), Supervisor: a.sup.Snapshot()}
	if snap, ok := a.adhoc.Snapshot(); ok {
		st.Batch = &snap
	}
	a.mu.Lock()
	coords := make(map[string]*coordinator.Coordinator, len(a.jobCoords))
	for name, c := range a.jobCoords {
		coords[name] = c
	}
	a.mu.Unlock()
	for name, c := range coords {
		if snap, ok := c.Snapshot(); ok {
			if st.JobBatches == nil {
				st.JobBatches = map[string]scheduler.Snapshot{}
			}
			st.JobBatches[name] = snap
		}
	}
	return st
}

// Reload re-reads the config file now (SIGHUP).
func (a *App) Reload(ctx context.Context) error {
	changed, err := a.cfgm.Reload(ctx)
	if err != nil {
		return err
	}
	if !changed {
		a.log.Info("config reload requested; no changes")
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the daemon side: config watch and hot reload, the event log and
// the jobs service.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Unit events are frequent; keep them at trace.
					if strings.HasPrefix(e.Type, "unit.") {
						a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
						continue
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
				}
			}
		})
	}

	// The subscription keeps only the newest config, so bursts coalesce.
	updates, unsub := a.cfgm.Subscribe()
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsub()
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if err := a.jobs.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	if a.diag.Enabled() {
		a.diag.Start(a.sup.Context())
	}

	a.log.Info("app started", logx.String("config", a.cfgPath), logx.Any("operations", a.reg.Names()))
	return nil
}

func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerOptions(cfg); err != nil {
		return err
	}
	for name := range cfg.Operations {
		if op, ok := a.reg.Lookup(name); ok && op.Source != coordinator.SourceConfig {
			return fmt.Errorf("operations.%s: %w", name, coordinator.ErrDuplicateOp)
		}
	}
	return a.jobs.Validate(mapJobsConfig(cfg, a.cfgPath))
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, jobsChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(jobsChanged) > 0 {
		a.log.Debug("job config changes detected", logx.Any("jobs", jobsChanged))
	}

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	if err := a.logs.Apply(mapLoggingConfig(newCfg)); err != nil {
		a.log.Warn("log file unavailable; logging to console only", logx.Err(err))
	}

	if opts, err := mapSchedulerOptions(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.setSchedulerOptions(opts)
	}

	if err := a.reg.ApplyConfig(newCfg.Operations); err != nil {
		a.log.Warn("operations not applied; keeping previous", logx.Err(err))
	}

	if err := a.jobs.Apply(mapJobsConfig(newCfg, a.cfgPath)); err != nil {
		a.log.Warn("jobs not applied; keeping previous", logx.Err(err))
	}

	if a.sup != nil {
		a.diag.Reconfigure(a.sup.Context(), mapDiagConfig(newCfg))
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	if a.sup != nil {
		// Cancel first so background loops start unwinding immediately.
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		runStep(ctx, a.log, name, max, fn)
	}

	step("diagnostics", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("jobs", 3*time.Second, func(c context.Context) error { return a.jobs.Stop(c) })
	step("batches", time.Second, func(context.Context) error {
		a.adhoc.Stop()
		a.mu.Lock()
		for _, c := range a.jobCoords {
			c.Stop()
		}
		a.mu.Unlock()
		return nil
	})
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// runStep runs one shutdown step with an upper bound so one component can't
// stall the whole stop. It never extends the caller's deadline.
func runStep(ctx context.Context, log logx.Logger, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it doesn't, log when it finally returns.
		log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}

func (a *App) newCoordinator(log logx.Logger) *coordinator.Coordinator {
	a.mu.Lock()
	opts := a.schedOpts
	a.mu.Unlock()
	return coordinator.New(a.reg,
		coordinator.WithLogger(log),
		coordinator.WithBus(a.bus),
		coordinator.WithStore(a.store),
		coordinator.WithSchedulerOptions(opts...),
	)
}

func (a *App) setSchedulerOptions(opts []scheduler.Option) {
	a.mu.Lock()
	a.schedOpts = opts
	coords := make([]*coordinator.Coordinator, 0, len(a.jobCoords)+1)
	coords = append(coords, a.adhoc)
	for _, c := range a.jobCoords {
		coords = append(coords, c)
	}
	a.mu.Unlock()
	for _, c := range coords {
		c.SetSchedulerOptions(opts...)
	}
}

func (a *App) jobCoordinator(name string) *coordinator.Coordinator {
	a.mu.Lock()
	c := a.jobCoords[name]
	a.mu.Unlock()
	if c != nil {
		return c
	}
	c = a.newCoordinator(a.log.With(logx.String("comp", "batch"), logx.String("job", name)))
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev := a.jobCoords[name]; prev != nil {
		return prev
	}
	a.jobCoords[name] = c
	return c
}

// runJob is the jobs.Runner: one run of a job is one batch built from its
// manifest. Failed units make the run fail.
func (a *App) runJob(ctx context.Context, job jobs.Job) error {
	req, err := loadRequest(job.Manifest)
	if err != nil {
		return err
	}
	req.Job = job.Name
	res, err := a.jobCoordinator(job.Name).Run(ctx, req, nil)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range res {
		if r.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d units failed", failed, len(res))
	}
	return nil
}

func loadRequest(path string) (coordinator.Request, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return coordinator.Request{}, err
	}
	return m.Request()
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
