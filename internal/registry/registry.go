// Package registry holds the set of running rooms and the capability routing
// table discovered at startup.
package registry

import (
	"errors"
	"sort"
	"sync/atomic"

	"alixia/internal/capability"
	"alixia/internal/identity"
)

// ErrAlreadyPublished is returned by a second Publish.
var ErrAlreadyPublished = errors.New("registry: routing table already published")

// Registry is built once per process. The implemented set is fixed at
// construction; the routing table is written once by discovery and read
// without locking afterwards.
type Registry struct {
	implemented map[identity.Room]struct{}
	order       []identity.Room
	table       atomic.Pointer[Table]
}

func New(implemented ...identity.Room) *Registry {
	r := &Registry{implemented: make(map[identity.Room]struct{}, len(implemented))}
	for _, room := range implemented {
		if _, dup := r.implemented[room]; dup {
			continue
		}
		r.implemented[room] = struct{}{}
		r.order = append(r.order, room)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	return r
}

// ImplementedCount is the number of responses every broadcast request expects.
func (r *Registry) ImplementedCount() int { return len(r.order) }

func (r *Registry) Implemented() []identity.Room {
	return append([]identity.Room(nil), r.order...)
}

func (r *Registry) IsImplemented(room identity.Room) bool {
	_, ok := r.implemented[room]
	return ok
}

// Missing lists defined rooms that are not running.
func (r *Registry) Missing() []identity.Room {
	var out []identity.Room
	for _, room := range identity.All() {
		if !r.IsImplemented(room) {
			out = append(out, room)
		}
	}
	return out
}

// Publish installs the routing table. Only the first call succeeds.
func (r *Registry) Publish(t *Table) error {
	if t == nil {
		t = &Table{routes: map[capability.Name][]identity.Room{}}
	}
	if !r.table.CompareAndSwap(nil, t) {
		return ErrAlreadyPublished
	}
	return nil
}

func (r *Registry) Published() bool { return r.table.Load() != nil }

// Table returns the published table or nil.
func (r *Registry) Table() *Table { return r.table.Load() }

// RoomsFor returns the rooms advertising n, or nil before publication.
func (r *Registry) RoomsFor(n capability.Name) []identity.Room {
	t := r.table.Load()
	if t == nil {
		return nil
	}
	return t.RoomsFor(n)
}

// Table maps capability names to the rooms that advertised them.
type Table struct {
	routes map[capability.Name][]identity.Room
}

func (t *Table) RoomsFor(n capability.Name) []identity.Room {
	return append([]identity.Room(nil), t.routes[n]...)
}

// Names lists every routed capability in lexical order.
func (t *Table) Names() []capability.Name {
	out := make([]capability.Name, 0, len(t.routes))
	for n := range t.routes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate compares the table with the catalog. Unknown names are routed but
// not catalogued; orphans are catalogued but unrouted.
func (t *Table) Validate(cat capability.Catalog) (unknown, orphans []capability.Name) {
	for _, n := range t.Names() {
		if !cat.Has(n) {
			unknown = append(unknown, n)
		}
	}
	for n := range cat {
		if _, ok := t.routes[n]; !ok {
			orphans = append(orphans, n)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	return unknown, orphans
}

// Builder accumulates advertisements before a table is published.
type Builder struct {
	routes map[capability.Name]map[identity.Room]struct{}
}

func NewBuilder() *Builder {
	return &Builder{routes: make(map[capability.Name]map[identity.Room]struct{})}
}

func (b *Builder) Add(room identity.Room, names ...capability.Name) {
	for _, n := range names {
		set, ok := b.routes[n]
		if !ok {
			set = make(map[identity.Room]struct{})
			b.routes[n] = set
		}
		set[room] = struct{}{}
	}
}

func (b *Builder) Build() *Table {
	t := &Table{routes: make(map[capability.Name][]identity.Room, len(b.routes))}
	for n, set := range b.routes {
		rooms := make([]identity.Room, 0, len(set))
		for room := range set {
			rooms = append(rooms, room)
		}
		sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
		t.routes[n] = rooms
	}
	return t
}
