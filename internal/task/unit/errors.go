package unit

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTerminated marks the result slot of a unit that was force-stopped or
// never started because its batch was terminated.
var ErrTerminated = errors.New("unit terminated")

// WorkerError is the error marker stored for a unit whose computation
// crashed, panicked or returned an error.
type WorkerError struct {
	Index  int
	Name   string
	Err    error
	Stderr string
}

func (e *WorkerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "worker %d", e.Index)
	if e.Name != "" {
		fmt.Fprintf(&b, " (%s)", e.Name)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(lastLine(s))
	}
	return b.String()
}

func (e *WorkerError) Unwrap() error { return e.Err }

// IsWorkerFailure reports whether err is (or wraps) a WorkerError.
func IsWorkerFailure(err error) bool {
	var we *WorkerError
	return errors.As(err, &we)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
