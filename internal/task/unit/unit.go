package unit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Unit wraps one schedulable computation.
//
// All methods are safe for concurrent use; in practice the scheduler's control
// goroutine calls Start and Poll while Terminate may arrive from any goroutine.
type Unit struct {
	index    int
	name     string
	weight   int
	payload  []byte
	launcher Launcher

	mu      sync.Mutex
	state   State
	handle  Handle
	result  Result
	hasRes  bool
	started time.Time
	ended   time.Time
}

// New creates a pending unit. Weights below 1 are raised to 1.
func New(index int, name string, weight int, payload []byte, l Launcher) *Unit {
	if weight < 1 {
		weight = 1
	}
	return &Unit{
		index:    index,
		name:     name,
		weight:   weight,
		payload:  payload,
		launcher: l,
	}
}

func (u *Unit) Index() int   { return u.index }
func (u *Unit) Name() string { return u.name }

// Weight is the number of capacity slots the unit occupies while running.
func (u *Unit) Weight() int { return u.weight }

func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Start launches the computation and moves the unit to Running. It reports
// whether a transition happened; a unit that is not pending is left alone.
//
// A launch failure still moves the unit to Running: the failure is delivered
// through a pre-completed handle so the next Poll finishes the unit with an
// error marker, keeping the transition sequence intact.
func (u *Unit) Start() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != Pending {
		return false
	}
	var (
		h   Handle
		err error
	)
	if u.launcher == nil {
		err = errors.New("no launcher")
	} else {
		h, err = u.launcher.Launch(u.payload)
	}
	if err != nil {
		h = failedHandle(fmt.Errorf("launch: %w", err))
	}
	u.handle = h
	u.state = Running
	u.started = time.Now()
	return true
}

// Done returns the handle's completion channel, or nil when the unit has not
// been started.
func (u *Unit) Done() <-chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.handle == nil {
		return nil
	}
	return u.handle.Done()
}

// Poll checks for a terminal outcome without blocking. If the worker is done
// the unit moves to Finished and the outcome is stored. It reports whether the
// unit is in a terminal state after the call.
func (u *Unit) Poll() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch u.state {
	case Finished, Terminated:
		return true
	case Pending:
		return false
	}
	select {
	case <-u.handle.Done():
	default:
		return false
	}
	res := u.handle.Result()
	if res.Err != nil {
		var we *WorkerError
		if !errors.As(res.Err, &we) {
			res.Err = &WorkerError{Index: u.index, Name: u.name, Err: res.Err}
		} else {
			// The worker may hand the same *WorkerError to several units.
			cp := *we
			cp.Index, cp.Name = u.index, u.name
			res.Err = &cp
		}
		res.Value = nil
	}
	u.setResultLocked(res)
	u.state = Finished
	u.ended = time.Now()
	return true
}

// Terminate hard-stops the worker and moves the unit to Terminated. It is
// idempotent and reports whether a transition happened. A finished unit keeps
// its result.
func (u *Unit) Terminate() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch u.state {
	case Finished, Terminated:
		return false
	case Running:
		u.handle.Kill()
		u.ended = time.Now()
	}
	u.setResultLocked(Result{Err: ErrTerminated})
	u.state = Terminated
	return true
}

// Result returns the stored outcome; ok is false until the unit is terminal.
func (u *Unit) Result() (res Result, ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.result, u.hasRes
}

// Elapsed is the wall time between start and the terminal transition (or now).
func (u *Unit) Elapsed() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started.IsZero() {
		return 0
	}
	if u.ended.IsZero() {
		return time.Since(u.started)
	}
	return u.ended.Sub(u.started)
}

func (u *Unit) Info() Info {
	res, _ := u.Result()
	inf := Info{
		Index:    u.index,
		Name:     u.name,
		Weight:   u.weight,
		State:    u.State().String(),
		Duration: u.Elapsed(),
	}
	if res.Err != nil {
		inf.Error = res.Err.Error()
	}
	return inf
}

// setResultLocked stores the outcome once; later writes are ignored.
func (u *Unit) setResultLocked(r Result) {
	if u.hasRes {
		return
	}
	u.result = r
	u.hasRes = true
}

type doneHandle struct {
	done chan struct{}
	res  Result
}

func failedHandle(err error) Handle {
	h := &doneHandle{done: make(chan struct{}), res: Result{Err: err}}
	close(h.done)
	return h
}

func (h *doneHandle) Done() <-chan struct{} { return h.done }
func (h *doneHandle) Result() Result        { return h.res }
func (h *doneHandle) Kill()                 {}
