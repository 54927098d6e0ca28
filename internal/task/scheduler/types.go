package scheduler

import (
	"runtime"
	"time"

	"sigbatch/internal/eventbus"
	"sigbatch/internal/task/unit"
	logx "sigbatch/pkg/logx"
)

// DefaultPollInterval matches the delay between completion checks.
const DefaultPollInterval = 50 * time.Millisecond

// ProgressFunc receives the weighted completion count after every completed
// unit. completed never decreases and equals total exactly once, on the call
// for the last unit of a batch that was not terminated.
type ProgressFunc func(completed, total int)

type Option func(*Scheduler)

// WithCapacity overrides the default capacity of NumCPU()+1. Values < 1 are ignored.
func WithCapacity(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollEvery = d
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(s *Scheduler) { s.progress = fn }
}

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithBatchID tags logs and events with the batch identifier.
func WithBatchID(id string) Option {
	return func(s *Scheduler) { s.batchID = id }
}

// DefaultCapacity is the number of logical cores plus one: the extra slot
// absorbs worker startup and teardown latency so no core sits idle.
func DefaultCapacity() int {
	return runtime.NumCPU() + 1
}

// UnitEvent is published on the event bus for unit lifecycle changes.
type UnitEvent struct {
	Batch string `json:"batch"`
	unit.Info
}

// Snapshot is a point-in-time view of a scheduler for diagnostics.
type Snapshot struct {
	BatchID       string        `json:"batch_id,omitempty"`
	Capacity      int           `json:"capacity"`
	RunningWeight int           `json:"running_weight"`
	Pending       int           `json:"pending"`
	Running       int           `json:"running"`
	Finished      int           `json:"finished"`
	Failed        int           `json:"failed"`
	Terminated    int           `json:"terminated"`
	Completed     int           `json:"completed"`
	Total         int           `json:"total"`
	Elapsed       time.Duration `json:"elapsed"`
	Stopped       bool          `json:"stopped"`
}
