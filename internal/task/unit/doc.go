// Package unit implements the schedulable Task Unit: one computation, its
// capacity weight, a one-way state machine and a write-once result.
//
// The computation itself is opaque. It is launched through a Launcher captured
// at construction time: Func runs a Go function on its own goroutine, Command
// runs an OS worker process that reads its payload on stdin and writes its
// outcome to stdout.
package unit
