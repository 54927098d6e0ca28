package scheduler

import "errors"

var (
	// ErrBatchTerminated is returned by Run when the batch was stopped before
	// every unit finished. The accompanying results are partial.
	ErrBatchTerminated = errors.New("batch terminated")

	// ErrAlreadyRun is returned when Run is called on a scheduler that has
	// already run. Schedulers are single-use.
	ErrAlreadyRun = errors.New("scheduler already ran")

	// ErrStarted is returned by Add once Run has been called.
	ErrStarted = errors.New("scheduler already started")

	// ErrUnitNotPending is returned by Add for a unit that has already been
	// started or terminated, e.g. one reused from an earlier batch.
	ErrUnitNotPending = errors.New("unit is not pending")
)
