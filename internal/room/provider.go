// Package room wraps capability providers in the broadcast request/response
// correlation engine.
package room

import (
	"context"
	"sort"

	"alixia/internal/capability"
	"alixia/internal/document"
	"alixia/internal/identity"
	"alixia/internal/ticket"
)

// Provider is a pluggable room. The Engine calls it; it never touches the
// bus directly.
type Provider interface {
	Identity() identity.Room
	Capabilities() []capability.Name
	// CreateResult is offered each advertised capability of a request. A nil
	// result declines; it is not the same as not handling the capability.
	CreateResult(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error)
	// ProcessResponses receives every implemented room's response to a
	// request this provider sent, exactly once per request.
	ProcessResponses(ctx context.Context, req *document.Request, resps []*document.Response)
	ProcessAnnouncement(ctx context.Context, a *document.Announcement)
	OnStart(ctx context.Context, e *Engine) error
	OnStop(ctx context.Context) error
}

// Observer sees every document the hall delivers to the room.
type Observer interface {
	Observe(ctx context.Context, d document.Document)
}

// StallHandler is told when a request is evicted before its fan-in completed.
type StallHandler interface {
	OnStall(ctx context.Context, req *document.Request, got []*document.Response)
}

// Nop gives providers empty defaults for the hooks they do not need.
type Nop struct{}

func (Nop) ProcessResponses(context.Context, *document.Request, []*document.Response) {}
func (Nop) ProcessAnnouncement(context.Context, *document.Announcement)               {}
func (Nop) OnStart(context.Context, *Engine) error                                    { return nil }
func (Nop) OnStop(context.Context) error                                              { return nil }

// Handler produces the result for one capability package.
type Handler func(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error)

// Handlers maps each advertised capability to its handler.
type Handlers map[capability.Name]Handler

// Names lists the handled capabilities in lexical order.
func (h Handlers) Names() []capability.Name {
	out := make([]capability.Name, 0, len(h))
	for n := range h {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Serve runs the handler registered for pkg, declining when there is none.
func (h Handlers) Serve(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	fn, ok := h[pkg.Name]
	if !ok {
		return nil, nil
	}
	return fn(ctx, pkg, req)
}
