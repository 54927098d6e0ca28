package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Batch status values.
const (
	StatusFinished   = "finished"
	StatusTerminated = "terminated"
)

// BatchRecord summarizes one batch run.
// Keep it compact and schema-stable.
type BatchRecord struct {
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	Job         string    `json:"job,omitempty"`
	Status      string    `json:"status"`
	Units       int       `json:"units"`
	Failed      int       `json:"failed"`
	Terminated  int       `json:"terminated"`
	TotalWeight int       `json:"total_weight"`
	Capacity    int       `json:"capacity"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Error       string    `json:"error,omitempty"`
}

// Took is the wall time of the batch.
func (r BatchRecord) Took() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
