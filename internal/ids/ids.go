// Package ids allocates process-wide identifiers for documents, tickets and packages.
package ids

import (
	"context"
	"fmt"
	"sync"
)

// Key names one counter keyspace.
type Key string

const (
	Document   Key = "document"
	Ticket     Key = "ticket"
	Capability Key = "capability_package"
	Result     Key = "result_package"
	Sentence   Key = "sentence"
)

// Allocator hands out ids that are unique and strictly increasing per key.
type Allocator interface {
	Next(ctx context.Context, key Key) (int64, error)
}

// Memory is an in-process Allocator.
type Memory struct {
	mu       sync.Mutex
	counters map[Key]int64
}

func NewMemory() *Memory {
	return &Memory{counters: make(map[Key]int64)}
}

func (m *Memory) Next(_ context.Context, key Key) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("ids: empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[Key]int64)
	}
	m.counters[key]++
	return m.counters[key], nil
}

// Format renders an id with its conventional prefix, e.g. TKT42.
func Format(key Key, id int64) string {
	return fmt.Sprintf("%s%d", prefix(key), id)
}

func prefix(key Key) string {
	switch key {
	case Ticket:
		return "TKT"
	case Capability:
		return "CP"
	case Result:
		return "RP"
	case Sentence:
		return "SN"
	case Document:
		return "DOC"
	default:
		return string(key) + "-"
	}
}
