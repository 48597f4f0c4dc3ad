// Package ticket carries the per-turn correlation state: the Ticket, its
// Journal, and the capability and result packages exchanged between rooms.
package ticket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"alixia/internal/dialog"
	"alixia/internal/ids"
)

// Ticket correlates every document belonging to one client turn.
type Ticket struct {
	ID       string
	ClientID string
	PersonID string

	journal *Journal
	closed  atomic.Bool
	done    chan struct{}
}

// New allocates a ticket for a client turn and seeds its journal.
func New(ctx context.Context, alloc ids.Allocator, req dialog.Request) (*Ticket, error) {
	n, err := alloc.Next(ctx, ids.Ticket)
	if err != nil {
		return nil, fmt.Errorf("allocate ticket: %w", err)
	}
	t := &Ticket{
		ID:       ids.Format(ids.Ticket, n),
		ClientID: req.ClientID,
		PersonID: req.PersonID,
		journal:  newJournal(req),
		done:     make(chan struct{}),
	}
	return t, nil
}

func (t *Ticket) Journal() *Journal { return t.journal }

// Close marks the ticket inert. It reports whether this call closed it.
func (t *Ticket) Close() bool {
	if !t.closed.CompareAndSwap(false, true) {
		return false
	}
	close(t.done)
	return true
}

func (t *Ticket) Closed() bool { return t.closed.Load() }

// Done is closed once the ticket is closed.
func (t *Ticket) Done() <-chan struct{} { return t.done }

func (t *Ticket) String() string {
	if t == nil {
		return ""
	}
	return t.ID
}

// Stage is a turn's position in the pipeline.
type Stage int

const (
	Received Stage = iota
	AnalyzingLanguage
	MatchingCapabilities
	Dispatching
	AssemblingResponse
	UpdatingHistory
	Closed
)

var stageNames = [...]string{
	"received", "analyzing_language", "matching_capabilities", "dispatching",
	"assembling_response", "updating_history", "closed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageEntry records one stage transition.
type StageEntry struct {
	Stage Stage     `json:"stage"`
	At    time.Time `json:"at"`
}

// Journal is the ticket's append-only record of what the turn produced.
type Journal struct {
	mu        sync.RWMutex
	request   dialog.Request
	sentences []*Sentence
	chosen    Capabilities
	results   Results
	stages    []StageEntry
}

func newJournal(req dialog.Request) *Journal {
	return &Journal{
		request: req,
		stages:  []StageEntry{{Stage: Received, At: time.Now()}},
	}
}

func (j *Journal) ClientRequest() dialog.Request {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.request
}

func (j *Journal) Stage() Stage {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stages[len(j.stages)-1].Stage
}

// Advance moves the turn forward. Stages never move backwards.
func (j *Journal) Advance(to Stage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cur := j.stages[len(j.stages)-1].Stage
	if to <= cur {
		return fmt.Errorf("journal: cannot move from %s to %s", cur, to)
	}
	j.stages = append(j.stages, StageEntry{Stage: to, At: time.Now()})
	return nil
}

// Stages returns the transitions recorded so far.
func (j *Journal) Stages() []StageEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]StageEntry(nil), j.stages...)
}

func (j *Journal) AddSentences(s ...*Sentence) {
	j.mu.Lock()
	j.sentences = append(j.sentences, s...)
	j.mu.Unlock()
}

func (j *Journal) Sentences() []*Sentence {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]*Sentence(nil), j.sentences...)
}

func (j *Journal) SetChosen(c Capabilities) {
	j.mu.Lock()
	j.chosen = append(Capabilities(nil), c...)
	j.mu.Unlock()
}

func (j *Journal) Chosen() Capabilities {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append(Capabilities(nil), j.chosen...)
}

func (j *Journal) AddResult(r *ResultPackage) {
	j.mu.Lock()
	j.results = append(j.results, r)
	j.mu.Unlock()
}

func (j *Journal) Results() Results {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append(Results(nil), j.results...)
}

// Snapshot is a serializable summary of a journal.
type Snapshot struct {
	Request   dialog.Request `cbor:"request" json:"request"`
	Sentences []string       `cbor:"sentences" json:"sentences"`
	Chosen    []string       `cbor:"chosen" json:"chosen"`
	Results   []string       `cbor:"results" json:"results"`
	Stages    []StageEntry   `cbor:"stages" json:"stages"`
}

func (j *Journal) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := Snapshot{Request: j.request, Stages: append([]StageEntry(nil), j.stages...)}
	for _, sn := range j.sentences {
		s.Sentences = append(s.Sentences, sn.Text)
	}
	for _, c := range j.chosen {
		s.Chosen = append(s.Chosen, string(c.Name))
	}
	for _, r := range j.results {
		s.Results = append(s.Results, r.Result.Message())
	}
	return s
}

// Sentence is one analyzed unit of the client message.
type Sentence struct {
	ID         string   `json:"id"`
	Index      int      `json:"index"`
	Text       string   `json:"text"`
	Normalized string   `json:"normalized"`
	Tokens     []string `json:"tokens,omitempty"`
	Lemmas     []string `json:"lemmas,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Entities   []string `json:"entities,omitempty"`
}

// InvariantError reports a programming error in a room. It is raised with
// panic and not recovered.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated in %s: %s", e.Op, e.Detail)
}
