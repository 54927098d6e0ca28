package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"sigbatch/internal/eventbus"
	"sigbatch/internal/runtime/supervisor"
	logx "sigbatch/pkg/logx"
)

// ErrUnknownJob is returned by Trigger for a name that is not configured.
var ErrUnknownJob = errors.New("unknown job")

// ErrOverlapSkip is returned by Trigger when the job is still running.
var ErrOverlapSkip = errors.New("job still running")

// Job is one recurring batch.
type Job struct {
	Name     string
	Schedule string
	Manifest string
}

type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/London"
	Jobs     []Job
}

// Runner executes one run of a job. Cancelling ctx must stop the batch.
type Runner func(ctx context.Context, job Job) error

// JobEvent is published for job.triggered and job.skipped.
type JobEvent struct {
	Name     string `json:"name"`
	Manifest string `json:"manifest"`
}

// JobInfo describes a configured job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Manifest string    `json:"manifest"`
	Running  bool      `json:"running"`
	Runs     uint64    `json:"runs"`
	Skips    uint64    `json:"skips"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_err,omitempty"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
}

type Snapshot struct {
	Started  bool      `json:"started"`
	Timezone string    `json:"timezone"`
	Jobs     []JobInfo `json:"jobs"`
}

// jobState survives Apply so a job that is running while config reloads is
// still seen as running.
type jobState struct {
	running atomic.Bool
	runs    atomic.Uint64
	skips   atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

type jobDef struct {
	job     Job
	spec    Spec
	entryID cron.EntryID
	state   *jobState
}

const skipWarnThrottle = 5 * time.Second

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	run Runner

	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	sup    *supervisor.Supervisor
	defs   []jobDef
	states map[string]*jobState

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, run Runner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log: log,
		bus: bus,
		run: run,
		cfg: cfg,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		states:   map[string]*jobState{},
		lastWarn: map[string]time.Time{},
	}
}

// Validate parses every schedule in cfg without touching the service.
func (s *Service) Validate(cfg Config) error {
	for _, j := range cfg.Jobs {
		spec, err := ParseSchedule(j.Schedule)
		if err != nil {
			return fmt.Errorf("jobs.%s: %w", j.Name, err)
		}
		if _, err := s.parser.Parse(spec.CronSpec()); err != nil {
			return fmt.Errorf("jobs.%s: %w", j.Name, err)
		}
	}
	return nil
}

// Start begins triggering. Runs are supervised goroutines bound to ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if err := s.Validate(s.cfg); err != nil {
		return err
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.rebuildLocked()
	s.c.Start()
	s.log.Info("jobs started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
	return nil
}

// Stop halts triggering, cancels running jobs and waits for them until ctx
// is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, sup := s.c, s.sup
	s.c, s.sup = nil, nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if sup != nil {
		return sup.Stop(ctx)
	}
	return nil
}

// Apply replaces the job set. Running jobs are not interrupted; a removed
// job finishes its current run.
func (s *Service) Apply(cfg Config) error {
	if err := s.Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	if tzChanged {
		// Not waiting for in-flight cron callbacks: fire takes s.mu.
		s.c.Stop()
		s.loc = s.loadLocationLocked()
		s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
		s.c.Start()
	}
	s.rebuildLocked()
	s.log.Info("jobs reloaded", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
	return nil
}

// Trigger runs the named job now, subject to the same overlap rule as a
// scheduled trigger.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	var def *jobDef
	for i := range s.defs {
		if s.defs[i].job.Name == name {
			def = &s.defs[i]
			break
		}
	}
	var d jobDef
	if def != nil {
		d = *def
	}
	started := s.sup != nil
	s.mu.Unlock()

	if def == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !started {
		return errors.New("jobs service not started")
	}
	if !s.fire(d) {
		return ErrOverlapSkip
	}
	return nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Started: s.c != nil, Timezone: strings.TrimSpace(s.cfg.Timezone)}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		it := JobInfo{
			Name:     d.job.Name,
			Schedule: d.job.Schedule,
			Manifest: d.job.Manifest,
			Running:  d.state.running.Load(),
			Runs:     d.state.runs.Load(),
			Skips:    d.state.skips.Load(),
		}
		d.state.mu.Lock()
		it.LastRun, it.LastErr = d.state.lastRun, d.state.lastErr
		d.state.mu.Unlock()
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Jobs = append(snap.Jobs, it)
	}
	return snap
}

// rebuildLocked re-registers every configured job. Call with s.mu held.
func (s *Service) rebuildLocked() {
	for _, d := range s.defs {
		if d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
	}
	s.defs = s.defs[:0]

	keep := make(map[string]*jobState, len(s.cfg.Jobs))
	for _, j := range s.cfg.Jobs {
		spec, err := ParseSchedule(j.Schedule)
		if err != nil {
			s.log.Error("job schedule invalid", logx.String("job", j.Name), logx.Err(err))
			continue
		}
		st := s.states[j.Name]
		if st == nil {
			st = &jobState{}
		}
		keep[j.Name] = st

		d := jobDef{job: j, spec: spec, state: st}
		if err := s.addCronLocked(&d); err != nil {
			s.log.Error("job register failed", logx.String("job", j.Name), logx.String("spec", spec.CronSpec()), logx.Err(err))
			continue
		}
		s.defs = append(s.defs, d)
		s.log.Debug("job registered", logx.String("job", j.Name), logx.String("spec", spec.CronSpec()), logx.String("manifest", j.Manifest))
	}
	s.states = keep
}

func (s *Service) addCronLocked(d *jobDef) error {
	def := *d
	job := cron.FuncJob(func() { s.fire(def) })

	if d.spec.Kind == SpecInterval {
		sched, jitter := intervalWithSpread(d.spec.Every, time.Now().In(s.loc), d.job.Name)
		d.entryID = s.c.Schedule(sched, job)
		if jitter > 0 {
			s.log.Debug("job startup spread", logx.String("job", d.job.Name), logx.Duration("jitter", jitter))
		}
		return nil
	}
	eid, err := s.c.AddJob(d.spec.CronSpec(), job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// fire starts one run unless the previous run of the same job is active. It
// reports whether a run was started.
func (s *Service) fire(d jobDef) bool {
	ev := JobEvent{Name: d.job.Name, Manifest: d.job.Manifest}
	if !d.state.running.CompareAndSwap(false, true) {
		d.state.skips.Add(1)
		eventbus.Publish(s.bus, eventbus.JobSkipped, ev)
		s.reportSkip(d.job.Name)
		return false
	}

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		d.state.running.Store(false)
		return false
	}

	d.state.runs.Add(1)
	eventbus.Publish(s.bus, eventbus.JobTriggered, ev)
	sup.Go("job."+d.job.Name, func(ctx context.Context) error {
		defer d.state.running.Store(false)
		start := time.Now()
		err := s.run(ctx, d.job)

		d.state.mu.Lock()
		d.state.lastRun = start
		d.state.lastErr = ""
		if err != nil {
			d.state.lastErr = err.Error()
		}
		d.state.mu.Unlock()

		if err != nil {
			s.log.Warn("job run failed", logx.String("job", d.job.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
		} else {
			s.log.Info("job run finished", logx.String("job", d.job.Name), logx.Duration("took", time.Since(start)))
		}
		return nil
	})
	return true
}

// reportSkip logs overlap skips, at most once per throttle window per job.
func (s *Service) reportSkip(name string) {
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < skipWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()
	s.log.Warn("job trigger skipped; previous run still active", logx.String("job", name))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
