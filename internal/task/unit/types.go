package unit

import "time"

// State is the lifecycle state of a unit.
//
// Legal transitions: Pending -> Running -> {Finished | Terminated}, plus
// Pending -> Terminated for a unit whose batch is stopped before it starts.
type State int

const (
	Pending State = iota
	Running
	Finished
	Terminated
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Finished || s == Terminated }

// Result is the single terminal outcome of a unit: either a success payload
// or an error marker.
type Result struct {
	Value []byte
	Err   error
}

func (r Result) Failed() bool { return r.Err != nil }

// Handle is the per-worker control handle returned by a Launcher.
//
// Done is closed once the worker has produced its terminal outcome (or
// crashed); Result is only meaningful after that. Kill hard-stops the worker
// without waiting for an acknowledgment and must be safe to call repeatedly.
type Handle interface {
	Done() <-chan struct{}
	Result() Result
	Kill()
}

// Launcher starts one computation for a payload.
type Launcher interface {
	Launch(payload []byte) (Handle, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(payload []byte) (Handle, error)

func (f LauncherFunc) Launch(payload []byte) (Handle, error) { return f(payload) }

// Info is a read-only view of a unit used in snapshots and events.
type Info struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Weight   int           `json:"weight"`
	State    string        `json:"state"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
