package coordinator

import "errors"

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrEmptyBatch       = errors.New("empty batch")
	ErrDuplicateOp      = errors.New("operation already registered")
)
