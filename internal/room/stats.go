package room

import (
	"sync/atomic"

	"alixia/internal/identity"
)

type counters struct {
	sent      atomic.Int64
	received  atomic.Int64
	completed atomic.Int64
	stalled   atomic.Int64
	discarded atomic.Int64
	rejected  atomic.Int64
	declined  atomic.Int64
	failed    atomic.Int64
}

// Stats is a point-in-time view of an engine's traffic.
type Stats struct {
	Room         identity.Room `json:"room"`
	State        string        `json:"state"`
	Capabilities int           `json:"capabilities"`
	Sent         int64         `json:"sent"`
	Received     int64         `json:"received"`
	Completed    int64         `json:"completed"`
	Pending      int64         `json:"pending"`
	Stalled      int64         `json:"stalled"`
	Discarded    int64         `json:"discarded"`
	Rejected     int64         `json:"rejected"`
	Declined     int64         `json:"declined"`
	Failed       int64         `json:"failed"`
}

func (e *Engine) Stats() Stats {
	var pending int64
	e.pending.Range(func(_, _ any) bool {
		pending++
		return true
	})
	return Stats{
		Room:         e.id,
		State:        e.State().String(),
		Capabilities: len(e.Capabilities()),
		Sent:         e.stats.sent.Load(),
		Received:     e.stats.received.Load(),
		Completed:    e.stats.completed.Load(),
		Pending:      pending,
		Stalled:      e.stats.stalled.Load(),
		Discarded:    e.stats.discarded.Load(),
		Rejected:     e.stats.rejected.Load(),
		Declined:     e.stats.declined.Load(),
		Failed:       e.stats.failed.Load(),
	}
}
