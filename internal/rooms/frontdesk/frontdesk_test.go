package frontdesk

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alixia/internal/capability"
	"alixia/internal/dialog"
	"alixia/internal/document"
	"alixia/internal/house"
	"alixia/internal/identity"
	"alixia/internal/ids"
	"alixia/internal/room"
	"alixia/internal/ticket"
)

type fakeBridge struct {
	mu        sync.Mutex
	delivered []dialog.Response
	abandoned map[string]error
}

func (b *fakeBridge) Deliver(resp dialog.Response) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delivered = append(b.delivered, resp)
}

func (b *fakeBridge) Abandon(turnID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.abandoned == nil {
		b.abandoned = map[string]error{}
	}
	b.abandoned[turnID] = err
}

type fixture struct {
	alloc  ids.Allocator
	bridge *fakeBridge
	f      *Frontdesk
}

func newFixture() fixture {
	b := &fakeBridge{}
	return fixture{alloc: ids.NewMemory(), bridge: b, f: New(b, "alixia", "0.3.0", nil)}
}

func (x fixture) request(t *testing.T, turnID string, name capability.Name, payload any) (*ticket.CapabilityPackage, *document.Request) {
	t.Helper()
	ctx := context.Background()
	tk, err := ticket.New(ctx, x.alloc, dialog.Request{TurnID: turnID, ClientID: "kitchen"})
	require.NoError(t, err)
	pkg, err := ticket.DefaultCapability(ctx, x.alloc, name)
	require.NoError(t, err)
	req := document.NewRequest(1, tk, identity.Overmind)
	req.Payload = payload
	req.Packages = ticket.Capabilities{pkg}
	return pkg, req
}

func TestDeliverHandsResponseToBridge(t *testing.T) {
	x := newFixture()
	pkg, req := x.request(t, "turn-1", capability.ClientResponse, dialog.Response{TurnID: "turn-1", Message: "It is 09:30."})
	res, err := x.f.CreateResult(context.Background(), pkg, req)
	require.NoError(t, err)
	assert.Equal(t, ticket.Ack{Msg: "delivered"}, res)

	require.Len(t, x.bridge.delivered, 1)
	assert.Equal(t, "It is 09:30.", x.bridge.delivered[0].Message)
	assert.Equal(t, capability.ClientResponse, x.bridge.delivered[0].Capability)
}

func TestDeliverRejectsWrongPayload(t *testing.T) {
	x := newFixture()
	pkg, req := x.request(t, "", capability.IndieResponse, "oops")
	_, err := x.f.CreateResult(context.Background(), pkg, req)
	assert.ErrorContains(t, err, "want dialog.Response")
	assert.Empty(t, x.bridge.delivered)
}

func TestReportVersion(t *testing.T) {
	x := newFixture()
	pkg, req := x.request(t, "", capability.Version, nil)
	res, err := x.f.CreateResult(context.Background(), pkg, req)
	require.NoError(t, err)
	assert.Equal(t, "alixia 0.3.0", res.Message())
}

func TestSubmitRequiresRunningRoom(t *testing.T) {
	x := newFixture()
	_, err := x.f.Submit(context.Background(), dialog.Request{ClientID: "kitchen"})
	assert.ErrorIs(t, err, room.ErrNotRunning)
}

func TestUnacceptedTurnIsAbandoned(t *testing.T) {
	x := newFixture()
	ctx := context.Background()
	_, req := x.request(t, "turn-7", capability.RespondToClient, nil)

	x.f.ProcessResponses(ctx, req, []*document.Response{document.NewResponse(2, req, identity.Linguist)})
	assert.ErrorIs(t, x.bridge.abandoned["turn-7"], ErrNoOrchestrator)
}

func TestAcceptedTurnIsLeftAlone(t *testing.T) {
	x := newFixture()
	ctx := context.Background()
	pkg, req := x.request(t, "turn-8", capability.RespondToClient, nil)
	rp, err := ticket.NewResult(ctx, x.alloc, pkg, ticket.Ack{Msg: "received"})
	require.NoError(t, err)
	resp := document.NewResponse(2, req, identity.Overmind)
	require.True(t, resp.Add(rp))

	x.f.ProcessResponses(ctx, req, []*document.Response{resp})
	assert.Empty(t, x.bridge.abandoned)
}

func TestStallAnnouncementAbandonsTurn(t *testing.T) {
	x := newFixture()
	_, req := x.request(t, "turn-9", capability.ClientResponse, nil)
	a := document.NewAnnouncement(3, req.Ticket(), identity.Overmind, document.EventStalled)
	a.Detail = "dispatching"

	x.f.ProcessAnnouncement(context.Background(), a)
	assert.ErrorIs(t, x.bridge.abandoned["turn-9"], house.ErrStalled)

	x.f.ProcessAnnouncement(context.Background(), document.NewAnnouncement(4, nil, identity.Controller, document.EventStarted))
	assert.Len(t, x.bridge.abandoned, 1)
}
