// Package scheduler is the bounded admission controller for one batch of
// Task Units.
//
// Capacity is fixed at construction (logical cores + 1 by default). Units are
// admitted in submission order as the longest prefix whose weights fit the
// free capacity; when nothing is running and the head unit alone is larger
// than capacity it is admitted by itself so the batch always makes progress.
//
// A single control goroutine (the caller of Run) polls running units, invokes
// the progress callback and re-runs admission after every completion.
// Terminate may be called from any goroutine.
package scheduler
