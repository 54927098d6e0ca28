package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"sigbatch/internal/eventbus"
	"sigbatch/internal/task/unit"
	logx "sigbatch/pkg/logx"
)

type Scheduler struct {
	capacity  int
	pollEvery time.Duration
	progress  ProgressFunc
	log       logx.Logger
	bus       eventbus.Bus
	batchID   string

	mu    sync.Mutex
	units []*unit.Unit
	// running maps submission position -> *unit.Unit, in admission order.
	running         *linkedhashmap.Map
	runningWeight   int
	completedWeight int
	totalWeight     int
	startedAt       time.Time
	ran             bool
	terminated      bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wake     chan struct{}
}

// New creates a scheduler. The capacity is sampled once here and never
// re-read for the lifetime of the scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		capacity:  DefaultCapacity(),
		pollEvery: DefaultPollInterval,
		running:   linkedhashmap.New(),
		stopCh:    make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.batchID != "" {
		s.log = s.log.With(logx.String("batch", s.batchID))
	}
	return s
}

// Add appends units to the batch in submission order. Either every unit is
// added or none is. Nil units are skipped.
func (s *Scheduler) Add(units ...*unit.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ran {
		return ErrStarted
	}
	for _, u := range units {
		if u != nil && u.State() != unit.Pending {
			return fmt.Errorf("%w: unit %d (%s)", ErrUnitNotPending, u.Index(), u.State())
		}
	}
	for _, u := range units {
		if u == nil {
			continue
		}
		s.units = append(s.units, u)
		s.totalWeight += u.Weight()
	}
	return nil
}

func (s *Scheduler) Capacity() int { return s.capacity }

// Run drives the poll/admit loop until every unit is finished or terminated,
// then returns one result per unit in submission order. Failed units carry
// their error marker in their slot; they never abort the batch.
//
// If the batch is terminated (Terminate or ctx cancellation) Run returns the
// partial results together with ErrBatchTerminated.
func (s *Scheduler) Run(ctx context.Context) ([]unit.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	s.ran = true
	s.startedAt = time.Now()
	n, total, stopped := len(s.units), s.totalWeight, s.terminated
	s.mu.Unlock()

	defer s.closeStop()

	if stopped {
		return s.results(), ErrBatchTerminated
	}
	if n == 0 {
		return []unit.Result{}, nil
	}

	if err := ctx.Err(); err != nil {
		s.Terminate()
		return s.results(), fmt.Errorf("%w: %w", ErrBatchTerminated, err)
	}

	s.log.Debug("batch started", logx.Int("units", n), logx.Int("total_weight", total), logx.Int("capacity", s.capacity))
	s.admit()

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		done, stopped := s.pollRunning()
		if stopped {
			res := s.results()
			if err := ctx.Err(); err != nil {
				return res, fmt.Errorf("%w: %w", ErrBatchTerminated, err)
			}
			return res, ErrBatchTerminated
		}
		if done {
			s.log.Info("all units completed", logx.Int("units", n), logx.Duration("took", time.Since(s.startedAt)))
			return s.results(), nil
		}

		select {
		case <-ctx.Done():
			s.Terminate()
		case <-s.stopCh:
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// Terminate stops the batch: running units are killed, pending units are
// marked terminated so they never start, and the polling loop halts. Only the
// first call has any effect. It returns without waiting for Run to exit.
func (s *Scheduler) Terminate() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	units := append([]*unit.Unit(nil), s.units...)
	s.mu.Unlock()

	killed := 0
	for _, u := range units {
		wasRunning := u.State() == unit.Running
		if u.Terminate() {
			if wasRunning {
				killed++
			}
			eventbus.Publish(s.bus, eventbus.UnitTerminated, UnitEvent{Batch: s.batchID, Info: u.Info()})
		}
	}

	s.mu.Lock()
	s.running.Clear()
	s.runningWeight = 0
	s.mu.Unlock()

	s.closeStop()
	s.log.Info("batch terminated", logx.Int("killed", killed))
}

// Terminated reports whether Terminate has been called.
func (s *Scheduler) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// admit starts the units chosen by admitCount. It holds the lock across the
// decision and the starts so a concurrent Terminate cannot interleave.
func (s *Scheduler) admit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return 0
	}

	pending := make([]int, 0, len(s.units))
	weights := make([]int, 0, len(s.units))
	for pos, u := range s.units {
		if u.State() == unit.Pending {
			pending = append(pending, pos)
			weights = append(weights, u.Weight())
		}
	}

	n := admitCount(weights, s.runningWeight, s.running.Size(), s.capacity)
	started := 0
	for _, pos := range pending[:n] {
		u := s.units[pos]
		if !u.Start() {
			continue
		}
		started++
		s.running.Put(pos, u)
		s.runningWeight += u.Weight()
		s.watch(u.Done())
		eventbus.Publish(s.bus, eventbus.UnitStarted, UnitEvent{Batch: s.batchID, Info: u.Info()})
	}
	if started > 0 {
		s.log.Debug("units admitted",
			logx.Int("started", started),
			logx.Int("running", s.running.Size()),
			logx.Int("running_weight", s.runningWeight),
			logx.Int("pending", len(pending)-started),
		)
	}
	return started
}

// pollRunning checks every running unit once. Each completion is accounted,
// reported and followed by an admission round before the next unit is
// checked, so freed capacity is refilled without waiting for a full sweep.
func (s *Scheduler) pollRunning() (done, stopped bool) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return false, true
	}
	positions := s.running.Keys()
	s.mu.Unlock()

	for _, k := range positions {
		pos := k.(int)
		u := s.units[pos]
		if !u.Poll() {
			continue
		}

		s.mu.Lock()
		if s.terminated {
			s.mu.Unlock()
			return false, true
		}
		s.running.Remove(pos)
		s.runningWeight -= u.Weight()
		s.completedWeight += u.Weight()
		completed, total := s.completedWeight, s.totalWeight
		s.mu.Unlock()

		s.reportCompletion(u)
		if s.progress != nil {
			s.progress(completed, total)
		}
		s.admit()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return false, true
	}
	return s.completedWeight == s.totalWeight && s.running.Size() == 0, false
}

func (s *Scheduler) reportCompletion(u *unit.Unit) {
	inf := u.Info()
	ev := UnitEvent{Batch: s.batchID, Info: inf}
	if inf.Error != "" {
		s.log.Warn("unit failed", logx.Int("index", inf.Index), logx.String("name", inf.Name), logx.String("err", inf.Error), logx.Duration("dur", inf.Duration))
		eventbus.Publish(s.bus, eventbus.UnitFailed, ev)
		return
	}
	s.log.Debug("unit finished", logx.Int("index", inf.Index), logx.String("name", inf.Name), logx.Duration("dur", inf.Duration))
	eventbus.Publish(s.bus, eventbus.UnitFinished, ev)
}

// watch nudges the control loop as soon as done closes, so completions are
// noticed before the next tick.
func (s *Scheduler) watch(done <-chan struct{}) {
	if done == nil {
		return
	}
	go func() {
		select {
		case <-done:
			select {
			case s.wake <- struct{}{}:
			default:
			}
		case <-s.stopCh:
		}
	}()
}

func (s *Scheduler) closeStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) results() []unit.Result {
	s.mu.Lock()
	units := s.units
	s.mu.Unlock()

	out := make([]unit.Result, len(units))
	for i, u := range units {
		res, ok := u.Result()
		if !ok {
			res = unit.Result{Err: unit.ErrTerminated}
		}
		out[i] = res
	}
	return out
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		BatchID:       s.batchID,
		Capacity:      s.capacity,
		RunningWeight: s.runningWeight,
		Completed:     s.completedWeight,
		Total:         s.totalWeight,
		Stopped:       s.terminated,
	}
	if !s.startedAt.IsZero() {
		snap.Elapsed = time.Since(s.startedAt)
	}
	for _, u := range s.units {
		switch u.State() {
		case unit.Pending:
			snap.Pending++
		case unit.Running:
			snap.Running++
		case unit.Finished:
			snap.Finished++
			if res, _ := u.Result(); res.Failed() {
				snap.Failed++
			}
		case unit.Terminated:
			snap.Terminated++
		}
	}
	return snap
}
