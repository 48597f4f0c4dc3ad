// Package frontdesk is the room that stands between the house and the hall.
package frontdesk

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"alixia/internal/capability"
	"alixia/internal/dialog"
	"alixia/internal/document"
	"alixia/internal/house"
	"alixia/internal/identity"
	"alixia/internal/room"
	"alixia/internal/ticket"
)

// ErrNoOrchestrator is reported when no room accepted a turn.
var ErrNoOrchestrator = errors.New("frontdesk: no room accepted the turn")

// Bridge is the client side of the frontdesk.
type Bridge interface {
	Deliver(resp dialog.Response)
	Abandon(turnID string, err error)
}

type Frontdesk struct {
	room.Nop
	bridge   Bridge
	service  string
	version  string
	log      *zap.Logger
	engine   *room.Engine
	handlers room.Handlers
}

func New(bridge Bridge, service, version string, log *zap.Logger) *Frontdesk {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Frontdesk{bridge: bridge, service: service, version: version, log: log.Named("frontdesk")}
	f.handlers = room.Handlers{
		capability.ClientResponse: f.deliver,
		capability.IndieResponse:  f.deliver,
		capability.Version:        f.reportVersion,
	}
	return f
}

func (f *Frontdesk) Identity() identity.Room         { return identity.Frontdesk }
func (f *Frontdesk) Capabilities() []capability.Name { return f.handlers.Names() }

func (f *Frontdesk) CreateResult(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	return f.handlers.Serve(ctx, pkg, req)
}

func (f *Frontdesk) OnStart(_ context.Context, e *room.Engine) error {
	f.engine = e
	return nil
}

// Submit opens a ticket for a client turn and hands it to the orchestrator.
func (f *Frontdesk) Submit(ctx context.Context, req dialog.Request) (*ticket.Ticket, error) {
	if f.engine == nil {
		return nil, room.ErrNotRunning
	}
	t, err := ticket.New(ctx, f.engine.IDs(), req)
	if err != nil {
		return nil, err
	}
	if _, err := f.engine.Ask(ctx, t, req.Message, req, capability.RespondToClient); err != nil {
		return nil, err
	}
	return t, nil
}

func (f *Frontdesk) deliver(_ context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	resp, ok := req.Payload.(dialog.Response)
	if !ok {
		return nil, fmt.Errorf("%s payload is %T, want dialog.Response", pkg.Name, req.Payload)
	}
	if resp.Capability == "" {
		resp.Capability = pkg.Name
	}
	f.bridge.Deliver(resp)
	return ticket.Ack{Msg: "delivered"}, nil
}

func (f *Frontdesk) reportVersion(context.Context, *ticket.CapabilityPackage, *document.Request) (ticket.Result, error) {
	return ticket.Text{Msg: fmt.Sprintf("%s %s", f.service, f.version)}, nil
}

// ProcessResponses checks that somebody picked up a submitted turn.
func (f *Frontdesk) ProcessResponses(_ context.Context, req *document.Request, resps []*document.Response) {
	if !req.Packages.Has(capability.RespondToClient) {
		return
	}
	for _, r := range resps {
		if r.Results.Has(capability.RespondToClient) {
			return
		}
	}
	cr := req.Ticket().Journal().ClientRequest()
	f.log.Error("turn not accepted", zap.Stringer("ticket", req.Ticket()))
	f.bridge.Abandon(cr.TurnID, ErrNoOrchestrator)
}

func (f *Frontdesk) ProcessAnnouncement(_ context.Context, a *document.Announcement) {
	if a.Event != document.EventStalled || a.Ticket() == nil {
		return
	}
	cr := a.Ticket().Journal().ClientRequest()
	if cr.TurnID != "" {
		f.bridge.Abandon(cr.TurnID, fmt.Errorf("%w: ticket %s at %v", house.ErrStalled, a.Ticket().ID, a.Detail))
	}
}
