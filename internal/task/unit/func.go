package unit

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// WorkFunc is an in-process computation. It receives the unit's payload and
// returns exactly one outcome.
type WorkFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Func returns a Launcher that runs fn on its own goroutine.
//
// Kill cancels the context handed to fn. A goroutine cannot be stopped from
// the outside, so a computation that ignores ctx keeps running until it
// returns; its outcome is discarded because the unit is already terminated.
func Func(fn WorkFunc) Launcher {
	return LauncherFunc(func(payload []byte) (Handle, error) {
		if fn == nil {
			return nil, fmt.Errorf("nil work func")
		}
		ctx, cancel := context.WithCancel(context.Background())
		h := &funcHandle{done: make(chan struct{}), cancel: cancel}
		go h.run(ctx, fn, payload)
		return h, nil
	})
}

type funcHandle struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu  sync.Mutex
	res Result
}

func (h *funcHandle) run(ctx context.Context, fn WorkFunc, payload []byte) {
	var res Result
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: &WorkerError{Err: fmt.Errorf("panic: %v", r), Stderr: string(debug.Stack())}}
		}
		h.mu.Lock()
		h.res = res
		h.mu.Unlock()
		h.cancel()
		close(h.done)
	}()
	v, err := fn(ctx, payload)
	res = Result{Value: v, Err: err}
}

func (h *funcHandle) Done() <-chan struct{} { return h.done }

func (h *funcHandle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.res
}

func (h *funcHandle) Kill() { h.cancel() }
