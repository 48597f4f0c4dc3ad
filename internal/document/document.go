// Package document defines what travels on the hall bus.
package document

import (
	"fmt"

	"alixia/internal/identity"
	"alixia/internal/ticket"
)

// Kind distinguishes the three document shapes.
type Kind int

const (
	KindAnnouncement Kind = iota
	KindRequest
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindAnnouncement:
		return "announcement"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Document is the common header of everything posted on the bus.
type Document interface {
	ID() int64
	Ticket() *ticket.Ticket
	Origin() identity.Room
	Kind() Kind
	Ready() bool
}

type header struct {
	id     int64
	ticket *ticket.Ticket
	origin identity.Room
}

func (h header) ID() int64              { return h.id }
func (h header) Ticket() *ticket.Ticket { return h.ticket }
func (h header) Origin() identity.Room  { return h.origin }

// Request broadcasts a capability ask to every room.
type Request struct {
	header
	Message  string
	Payload  any
	Packages ticket.Capabilities
}

func NewRequest(id int64, t *ticket.Ticket, origin identity.Room) *Request {
	return &Request{header: header{id: id, ticket: t, origin: origin}}
}

func (r *Request) Kind() Kind { return KindRequest }

// Ready requires something to act on and something to do.
func (r *Request) Ready() bool {
	return (r.Message != "" || r.Payload != nil) && len(r.Packages) > 0
}

// Response answers exactly one prior Request.
type Response struct {
	header
	AnswersRequestID int64
	RespondTo        identity.Room
	Results          ticket.Results
}

// NewResponse builds the reply to req, addressed back to its origin.
func NewResponse(id int64, req *Request, origin identity.Room) *Response {
	return &Response{
		header:           header{id: id, ticket: req.Ticket(), origin: origin},
		AnswersRequestID: req.ID(),
		RespondTo:        req.Origin(),
	}
}

func (r *Response) Kind() Kind { return KindResponse }

func (r *Response) Ready() bool {
	return r.AnswersRequestID != 0 && r.RespondTo.Defined()
}

// Add appends p when it is ready and reports whether it did.
func (r *Response) Add(p *ticket.ResultPackage) bool {
	if !p.Ready() {
		return false
	}
	r.Results = append(r.Results, p)
	return true
}

// Empty reports a response that contributes nothing.
func (r *Response) Empty() bool { return len(r.Results) == 0 }

// Event names a fire-and-forget announcement.
type Event string

const (
	EventStarted      Event = "system.started"
	EventTicketClosed Event = "ticket.closed"
	EventStalled      Event = "request.stalled"
)

// Announcement is an uncorrelated notice to every room.
type Announcement struct {
	header
	Event  Event
	Detail any
}

func NewAnnouncement(id int64, t *ticket.Ticket, origin identity.Room, evt Event) *Announcement {
	return &Announcement{header: header{id: id, ticket: t, origin: origin}, Event: evt}
}

func (a *Announcement) Kind() Kind  { return KindAnnouncement }
func (a *Announcement) Ready() bool { return a.Event != "" }
