package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sigbatch/internal/eventbus"
	"sigbatch/internal/storage"
	"sigbatch/internal/task/scheduler"
	"sigbatch/internal/task/unit"
	logx "sigbatch/pkg/logx"
)

type Option func(*Coordinator)

func WithLogger(log logx.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithBus(bus eventbus.Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithStore records every resolved or terminated batch.
func WithStore(st storage.Store) Option {
	return func(c *Coordinator) { c.store = st }
}

// WithSchedulerOptions sets options applied to every scheduler the
// coordinator creates.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(c *Coordinator) { c.schedOpts = append([]scheduler.Option(nil), opts...) }
}

type Coordinator struct {
	reg   *Registry
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	mu        sync.Mutex
	schedOpts []scheduler.Option
	current   *scheduler.Scheduler

	seq atomic.Uint64
}

func New(reg *Registry, opts ...Option) *Coordinator {
	if reg == nil {
		reg = NewRegistry()
	}
	c := &Coordinator{reg: reg}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

func (c *Coordinator) Registry() *Registry { return c.reg }

// SetSchedulerOptions replaces the options used for subsequent batches. A
// running batch keeps the options it started with.
func (c *Coordinator) SetSchedulerOptions(opts ...scheduler.Option) {
	c.mu.Lock()
	c.schedOpts = append([]scheduler.Option(nil), opts...)
	c.mu.Unlock()
}

// Run executes req and blocks until every unit is finished or the batch is
// terminated. Results are in item order; a failed unit carries its error in
// its slot and never aborts the batch.
//
// Starting a batch terminates the batch that was running before it.
// onProgress may be nil.
func (c *Coordinator) Run(ctx context.Context, req Request, onProgress scheduler.ProgressFunc) ([]unit.Result, error) {
	op, ok := c.reg.Lookup(req.Operation)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyBatch
	}

	id := c.nextID(op.Name)
	log := c.log.With(logx.String("batch", id), logx.String("op", op.Name))
	if req.Job != "" {
		log = log.With(logx.String("job", req.Job))
	}

	units := make([]*unit.Unit, len(req.Items))
	total := 0
	for i, it := range req.Items {
		w := it.Weight
		if w <= 0 {
			w = op.Weight
		}
		name := it.Name
		if name == "" {
			name = fmt.Sprintf("%s#%d", op.Name, i)
		}
		units[i] = unit.New(i, name, w, it.Payload, op.Launcher)
		total += units[i].Weight()
	}

	every := logx.NewEvery(log, 2)
	progress := func(completed, tot int) {
		every.Info(completed == tot, "batch progress", logx.Int("completed", completed), logx.Int("total", tot))
		if onProgress != nil {
			onProgress(completed, tot)
		}
	}

	c.mu.Lock()
	opts := append(append([]scheduler.Option(nil), c.schedOpts...),
		scheduler.WithLogger(log),
		scheduler.WithBus(c.bus),
		scheduler.WithBatchID(id),
		scheduler.WithProgress(progress),
	)
	c.mu.Unlock()

	s := scheduler.New(opts...)
	if err := s.Add(units...); err != nil {
		return nil, fmt.Errorf("batch %s: %w", id, err)
	}

	c.mu.Lock()
	prev := c.current
	c.current = s
	c.mu.Unlock()

	if prev != nil {
		log.Info("terminating previous batch")
		prev.Terminate()
	}

	ev := BatchEvent{ID: id, Operation: op.Name, Job: req.Job, Units: len(units), TotalWeight: total, Capacity: s.Capacity()}
	eventbus.Publish(c.bus, eventbus.BatchStarted, ev)
	log.Info("batch started", logx.Int("units", len(units)), logx.Int("total_weight", total), logx.Int("capacity", s.Capacity()))

	startedAt := time.Now()
	res, err := s.Run(ctx)
	finishedAt := time.Now()

	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()

	for _, r := range res {
		switch {
		case errors.Is(r.Err, unit.ErrTerminated):
			ev.Terminated++
		case r.Failed():
			ev.Failed++
		}
	}
	ev.Took = finishedAt.Sub(startedAt)

	rec := storage.BatchRecord{
		ID:          id,
		Operation:   op.Name,
		Job:         req.Job,
		Status:      storage.StatusFinished,
		Units:       len(units),
		Failed:      ev.Failed,
		Terminated:  ev.Terminated,
		TotalWeight: total,
		Capacity:    s.Capacity(),
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}
	if err != nil {
		rec.Status, rec.Error = storage.StatusTerminated, err.Error()
		eventbus.Publish(c.bus, eventbus.BatchTerminated, ev)
		log.Warn("batch terminated", logx.Int("terminated", ev.Terminated), logx.Duration("took", ev.Took))
	} else {
		eventbus.Publish(c.bus, eventbus.BatchFinished, ev)
		log.Info("batch finished", logx.Int("failed", ev.Failed), logx.Duration("took", ev.Took))
	}
	c.record(log, rec)
	return res, err
}

// Stop terminates the running batch, if any. It is safe to call at any time
// and from any goroutine; it does not wait for Run to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		s.Terminate()
	}
}

// Snapshot describes the running batch. ok is false when idle.
func (c *Coordinator) Snapshot() (snap scheduler.Snapshot, ok bool) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return scheduler.Snapshot{}, false
	}
	return s.Snapshot(), true
}

func (c *Coordinator) nextID(op string) string {
	return fmt.Sprintf("%s-%s-%d", op, time.Now().UTC().Format("20060102T150405"), c.seq.Add(1))
}

func (c *Coordinator) record(log logx.Logger, rec storage.BatchRecord) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.store.AppendBatch(ctx, rec); err != nil {
		log.Warn("batch history write failed", logx.Err(err))
	}
}
