package coordinator

import (
	"time"

	"sigbatch/internal/task/unit"
)

// Item is one unit of work in a request. Weight 0 means "use the
// operation's weight".
type Item struct {
	Name    string `json:"name,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Weight  int    `json:"weight,omitempty"`
}

// Request is a batch: one operation applied to many items.
type Request struct {
	Operation string
	Items     []Item
	// Job names the recurring job that produced the request, if any.
	Job string
}

// Operation describes how one unit of a named operation is computed.
type Operation struct {
	Name string
	// Weight is the default unit weight (0 means 1).
	Weight   int
	Launcher unit.Launcher
	// Source is "config" for worker commands loaded from config and "func"
	// for in-process registrations.
	Source string
}

// BatchEvent is published on the bus for batch lifecycle changes.
type BatchEvent struct {
	ID          string        `json:"id"`
	Operation   string        `json:"operation"`
	Job         string        `json:"job,omitempty"`
	Units       int           `json:"units"`
	TotalWeight int           `json:"total_weight"`
	Capacity    int           `json:"capacity"`
	Failed      int           `json:"failed,omitempty"`
	Terminated  int           `json:"terminated,omitempty"`
	Took        time.Duration `json:"took,omitempty"`
}
