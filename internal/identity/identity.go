// Package identity enumerates the rooms that may take part in a deployment.
package identity

import (
	"fmt"
	"sort"
	"strings"
)

// Room is a stable provider identity. Defined rooms need not all run; the
// implemented subset is decided at startup.
type Room int

const (
	Monitor     Room = 0
	Overmind    Room = 1
	Linguist    Room = 2
	Matcher     Room = 3
	Historian   Room = 4
	Concierge   Room = 5
	Librarian   Room = 6
	Lamplighter Room = 7
	Frontdesk   Room = 30
	Controller  Room = 31
	Tracker     Room = 32
	QA          Room = 33

	// None marks an unset identity.
	None Room = -1
)

var names = map[Room]string{
	Monitor:     "monitor",
	Overmind:    "overmind",
	Linguist:    "linguist",
	Matcher:     "matcher",
	Historian:   "historian",
	Concierge:   "concierge",
	Librarian:   "librarian",
	Lamplighter: "lamplighter",
	Frontdesk:   "frontdesk",
	Controller:  "controller",
	Tracker:     "tracker",
	QA:          "qa",
}

// All returns every defined room ordered by id.
func All() []Room {
	out := make([]Room, 0, len(names))
	for r := range names {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Defined reports whether r belongs to the enumeration.
func (r Room) Defined() bool {
	_, ok := names[r]
	return ok
}

func (r Room) String() string {
	if n, ok := names[r]; ok {
		return n
	}
	return fmt.Sprintf("room(%d)", int(r))
}

// Parse resolves a display name.
func Parse(name string) (Room, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for r, n := range names {
		if n == key {
			return r, nil
		}
	}
	return None, fmt.Errorf("unknown room %q", name)
}

func (r Room) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Room) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
