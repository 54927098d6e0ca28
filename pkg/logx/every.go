package logx

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Every caps a stream of similar lines (batch progress) at perSec lines per
// second. Dropped lines are counted and reported as "suppressed" on the next
// line written.
type Every struct {
	log     Logger
	lim     *rate.Limiter
	dropped atomic.Uint64
}

func NewEvery(log Logger, perSec float64) *Every {
	if perSec <= 0 {
		perSec = 1
	}
	return &Every{log: log, lim: rate.NewLimiter(rate.Limit(perSec), 1)}
}

// Info reports whether the line was written. force bypasses the limiter so
// the last line of a sequence is never lost.
func (e *Every) Info(force bool, msg string, fields ...Field) bool {
	if e == nil {
		return false
	}
	if !force && !e.lim.Allow() {
		e.dropped.Add(1)
		return false
	}
	if n := e.dropped.Swap(0); n > 0 {
		fields = append(fields, Uint64("suppressed", n))
	}
	e.log.Info(msg, fields...)
	return true
}
