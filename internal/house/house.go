// Package house bridges client devices to the frontdesk room: it turns a
// client turn into a ticket, waits for the answer, and queues pushed
// messages until the client collects them.
package house

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alixia/internal/dialog"
	"alixia/internal/ticket"
)

var (
	ErrClosed  = errors.New("house: closed")
	ErrUnbound = errors.New("house: no frontdesk bound")
	// ErrStalled is reported when the pipeline gives up on a turn.
	ErrStalled = errors.New("house: turn stalled")
)

const defaultMailboxLimit = 100

// Submitter starts a turn on the hall.
type Submitter interface {
	Submit(ctx context.Context, req dialog.Request) (*ticket.Ticket, error)
}

// Session is what the house remembers about a client.
type Session struct {
	ID       string    `json:"id"`
	ClientID string    `json:"client_id"`
	PersonID string    `json:"person_id,omitempty"`
	Language string    `json:"language,omitempty"`
	Started  time.Time `json:"started"`
	LastSeen time.Time `json:"last_seen"`
	Turns    int       `json:"turns"`
}

type outcome struct {
	resp dialog.Response
	err  error
}

type waiter struct {
	client string
	ch     chan outcome
}

type House struct {
	log *zap.Logger
	Now func() time.Time

	mu        sync.Mutex
	submit    Submitter
	closed    bool
	waiters   map[string]*waiter
	mailboxes map[string][]dialog.Response
	sessions  map[string]*Session
	limit     int
}

func New(log *zap.Logger) *House {
	if log == nil {
		log = zap.NewNop()
	}
	return &House{
		log:       log.Named("house"),
		Now:       time.Now,
		waiters:   make(map[string]*waiter),
		mailboxes: make(map[string][]dialog.Response),
		sessions:  make(map[string]*Session),
		limit:     defaultMailboxLimit,
	}
}

// Bind attaches the frontdesk that turns are submitted to.
func (h *House) Bind(s Submitter) {
	h.mu.Lock()
	h.submit = s
	h.mu.Unlock()
}

// Ask submits one client turn and waits for its answer.
func (h *House) Ask(ctx context.Context, req dialog.Request) (dialog.Response, error) {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	req.TurnID = uuid.NewString()
	if req.SessionType == "" {
		req.SessionType = dialog.SessionText
	}
	w := &waiter{client: req.ClientID, ch: make(chan outcome, 1)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return dialog.Response{}, ErrClosed
	}
	submit := h.submit
	if submit == nil {
		h.mu.Unlock()
		return dialog.Response{}, ErrUnbound
	}
	req = h.touch(req)
	h.waiters[req.TurnID] = w
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.waiters, req.TurnID)
		h.mu.Unlock()
	}()

	t, err := submit.Submit(ctx, req)
	if err != nil {
		return dialog.Response{}, fmt.Errorf("submit turn: %w", err)
	}
	h.log.Debug("turn submitted", zap.String("turn", req.TurnID), zap.Stringer("ticket", t), zap.String("client", req.ClientID))
	select {
	case out := <-w.ch:
		return out.resp, out.err
	case <-ctx.Done():
		return dialog.Response{}, ctx.Err()
	}
}

// touch records the turn in the client's session and fills in the session
// language when the turn does not name one. Callers hold h.mu.
func (h *House) touch(req dialog.Request) dialog.Request {
	now := h.Now()
	s, ok := h.sessions[req.ClientID]
	if !ok {
		s = &Session{ID: uuid.NewString(), ClientID: req.ClientID, Started: now}
		h.sessions[req.ClientID] = s
	}
	s.LastSeen = now
	s.Turns++
	if req.PersonID != "" {
		s.PersonID = req.PersonID
	}
	if req.Language != "" {
		s.Language = req.Language
	} else {
		req.Language = s.Language
	}
	return req
}

// Deliver hands an answer to the waiting turn, or to the client mailbox when
// nobody waits for it or it is addressed to another client.
func (h *House) Deliver(resp dialog.Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, waiting := h.waiters[resp.TurnID]
	if waiting && resp.TurnID != "" {
		select {
		case w.ch <- outcome{resp: resp}:
		default:
			h.log.Warn("second answer for turn dropped", zap.String("turn", resp.TurnID))
		}
		if resp.ToClient == "" || resp.ToClient == w.client {
			return
		}
	}
	if resp.ToClient == "" {
		h.log.Warn("undeliverable response", zap.String("ticket", resp.TicketID))
		return
	}
	box := append(h.mailboxes[resp.ToClient], resp)
	if len(box) > h.limit {
		box = box[len(box)-h.limit:]
	}
	h.mailboxes[resp.ToClient] = box
}

// Abandon fails a waiting turn.
func (h *House) Abandon(turnID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.waiters[turnID]; ok {
		select {
		case w.ch <- outcome{err: err}:
		default:
		}
	}
}

// Messages drains the client's mailbox.
func (h *House) Messages(clientID string) []dialog.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	box := h.mailboxes[clientID]
	delete(h.mailboxes, clientID)
	return box
}

func (h *House) Session(clientID string) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[clientID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Close fails every waiting turn and refuses new ones.
func (h *House) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, w := range h.waiters {
		select {
		case w.ch <- outcome{err: ErrClosed}:
		default:
		}
	}
}
