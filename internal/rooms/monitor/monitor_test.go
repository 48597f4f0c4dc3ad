package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alixia/internal/capability"
	"alixia/internal/dialog"
	"alixia/internal/document"
	"alixia/internal/events"
	"alixia/internal/identity"
	"alixia/internal/ids"
	"alixia/internal/ticket"
)

type entry struct {
	typ, ticket, room string
	payload           events.EventPayload
}

type recorder struct{ entries []entry }

func (r *recorder) Append(_ context.Context, evtType, ticketID, room string, payload events.EventPayload) error {
	r.entries = append(r.entries, entry{evtType, ticketID, room, payload})
	return nil
}

func TestObserveRecordsEveryKind(t *testing.T) {
	ctx := context.Background()
	alloc := ids.NewMemory()
	tk, err := ticket.New(ctx, alloc, dialog.Request{ClientID: "kitchen"})
	require.NoError(t, err)
	pkg, err := ticket.DefaultCapability(ctx, alloc, "tell_time")
	require.NoError(t, err)
	rp, err := ticket.NewResult(ctx, alloc, pkg, ticket.Text{Msg: "It is 09:30."})
	require.NoError(t, err)

	req := document.NewRequest(7, tk, identity.Overmind)
	req.Packages = ticket.Capabilities{pkg}
	resp := document.NewResponse(8, req, identity.Concierge)
	require.True(t, resp.Add(rp))
	ann := document.NewAnnouncement(9, nil, identity.Controller, document.EventStarted)

	rec := &recorder{}
	m := New(rec, nil)
	m.Observe(ctx, req)
	m.Observe(ctx, resp)
	m.Observe(ctx, ann)

	require.Len(t, rec.entries, 3)
	assert.Equal(t, "document.request", rec.entries[0].typ)
	assert.Equal(t, tk.ID, rec.entries[0].ticket)
	assert.Equal(t, "monitor", rec.entries[0].room)
	assert.Equal(t, []capability.Name{"tell_time"}, rec.entries[0].payload["capabilities"])

	assert.Equal(t, "document.response", rec.entries[1].typ)
	assert.Equal(t, int64(7), rec.entries[1].payload["answers"])
	assert.Equal(t, "overmind", rec.entries[1].payload["respond_to"])
	assert.Equal(t, "concierge", rec.entries[1].payload["origin"])

	assert.Equal(t, "document.announcement", rec.entries[2].typ)
	assert.Empty(t, rec.entries[2].ticket)
	assert.Equal(t, string(document.EventStarted), rec.entries[2].payload["event"])
}

func TestMonitorAdvertisesNothing(t *testing.T) {
	m := New(nil, nil)
	assert.Empty(t, m.Capabilities())
	assert.Equal(t, identity.Monitor, m.Identity())
}
