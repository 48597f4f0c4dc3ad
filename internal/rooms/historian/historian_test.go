package historian

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alixia/internal/capability"
	"alixia/internal/db"
	"alixia/internal/dialog"
	"alixia/internal/document"
	"alixia/internal/identity"
	"alixia/internal/ids"
	"alixia/internal/migrate"
	"alixia/internal/repo"
	"alixia/internal/ticket"
)

type env struct {
	h     *Historian
	store repo.Repo
	alloc ids.Allocator
}

func newEnv(t *testing.T) env {
	t.Helper()
	conn, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	store := repo.Repo{DB: conn}
	h := New(store, nil)
	h.alloc = store
	return env{h: h, store: store, alloc: store}
}

func (e env) request(t *testing.T, req dialog.Request, name capability.Name, object string, payload any) (*ticket.CapabilityPackage, *document.Request) {
	t.Helper()
	ctx := context.Background()
	tk, err := ticket.New(ctx, e.alloc, req)
	require.NoError(t, err)
	pkg, err := ticket.NewCapability(ctx, e.alloc, name, object, 0, nil)
	require.NoError(t, err)
	doc := document.NewRequest(1, tk, identity.Overmind)
	doc.Message = req.Message
	doc.Payload = payload
	doc.Packages = ticket.Capabilities{pkg}
	return pkg, doc
}

func (e env) record(t *testing.T, clientID, message, reply string, chosen ...*ticket.CapabilityPackage) string {
	t.Helper()
	pkg, doc := e.request(t, dialog.Request{ClientID: clientID, Message: message}, capability.UpdateHistory, "", nil)
	doc.Payload = ticket.HistoryUpdate{
		TicketID: doc.Ticket().ID,
		ClientID: clientID,
		Message:  message,
		Reply:    dialog.Response{Message: reply},
		Chosen:   chosen,
	}
	res, err := e.h.CreateResult(context.Background(), pkg, doc)
	require.NoError(t, err)
	assert.Equal(t, ticket.Ack{Msg: "recorded"}, res)
	return doc.Ticket().ID
}

func TestAdvertisedCapabilities(t *testing.T) {
	h := New(nil, nil)
	assert.ElementsMatch(t, []capability.Name{capability.UpdateHistory, capability.CapabilityAnalysis, RecallHistory}, h.Capabilities())
	assert.Equal(t, identity.Historian, h.Identity())
}

func TestRecordStoresHistoryAndRecall(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := &ticket.Sentence{ID: "sent-1", Normalized: "what time is it"}
	chosen, err := ticket.NewCapability(ctx, e.alloc, "tell_time", "", 70, s)
	require.NoError(t, err)

	id := e.record(t, "kitchen", "What time is it?", "It is 09:30.", chosen)

	got, err := e.store.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "It is 09:30.", got.Reply)
	assert.Equal(t, []string{"tell_time"}, got.Capabilities)
	assert.NotEmpty(t, got.Snapshot)

	rc, err := e.store.LookupRecall(ctx, "what time is it")
	require.NoError(t, err)
	assert.Equal(t, "tell_time", rc.Capability)
	assert.Equal(t, id, rc.TicketID)

	snap, err := e.h.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, snap, "stages")
}

func TestRecordSkipsUnrememberable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := &ticket.Sentence{ID: "sent-1", Normalized: "fold the laundry"}
	unmatched, err := ticket.NewCapability(ctx, e.alloc, capability.Unmatched, "", 0, s)
	require.NoError(t, err)
	noSentence, err := ticket.NewCapability(ctx, e.alloc, "greet", "", 60, nil)
	require.NoError(t, err)

	e.record(t, "kitchen", "Fold the laundry.", "Sorry.", unmatched, noSentence)

	_, err = e.store.LookupRecall(ctx, "fold the laundry")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRecordRejectsWrongPayload(t *testing.T) {
	e := newEnv(t)
	pkg, doc := e.request(t, dialog.Request{ClientID: "kitchen"}, capability.UpdateHistory, "", "not an update")
	_, err := e.h.CreateResult(context.Background(), pkg, doc)
	assert.ErrorContains(t, err, "want ticket.HistoryUpdate")
}

func TestRecallProposesRememberedCapability(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := &ticket.Sentence{ID: "sent-1", Normalized: "lights please"}
	chosen, err := ticket.NewCapability(ctx, e.alloc, "lights_on", "kitchen", 80, s)
	require.NoError(t, err)
	e.record(t, "kitchen", "Lights please", "Done.", chosen)

	again := &ticket.Sentence{ID: "sent-9", Normalized: "lights please"}
	other := &ticket.Sentence{ID: "sent-10", Normalized: "never heard"}
	pkg, doc := e.request(t, dialog.Request{ClientID: "kitchen"}, capability.CapabilityAnalysis, "", []*ticket.Sentence{again, other})
	res, err := e.h.CreateResult(ctx, pkg, doc)
	require.NoError(t, err)

	props, ok := res.(ticket.Proposals)
	require.True(t, ok)
	require.Len(t, props.Packages, 1)
	p := props.Packages[0]
	assert.Equal(t, capability.Name("lights_on"), p.Name)
	assert.Equal(t, "kitchen", p.Object)
	assert.Equal(t, RecallConfidence, p.Confidence)
	assert.Same(t, again, p.Sentence)
}

func TestRecallWithNothingRememberedIsSilent(t *testing.T) {
	e := newEnv(t)
	s := &ticket.Sentence{ID: "sent-1", Normalized: "hello"}
	pkg, doc := e.request(t, dialog.Request{ClientID: "kitchen"}, capability.CapabilityAnalysis, "", []*ticket.Sentence{s})
	res, err := e.h.CreateResult(context.Background(), pkg, doc)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestListIsPerClientAndLimited(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	pkg, doc := e.request(t, dialog.Request{ClientID: "kitchen"}, RecallHistory, "", nil)
	res, err := e.h.CreateResult(ctx, pkg, doc)
	require.NoError(t, err)
	assert.Equal(t, "nothing asked yet", res.Message())

	e.record(t, "kitchen", "one", "1")
	e.record(t, "kitchen", "two", "2")
	e.record(t, "kitchen", "three", "3")
	e.record(t, "hallway", "elsewhere", "x")

	pkg, doc = e.request(t, dialog.Request{ClientID: "kitchen"}, RecallHistory, "2", nil)
	res, err = e.h.CreateResult(ctx, pkg, doc)
	require.NoError(t, err)
	q, ok := res.(ticket.Query)
	require.True(t, ok)
	assert.Equal(t, "2 recent turns", q.Msg)
	require.Len(t, q.Rows, 2)
	assert.Equal(t, "three", q.Rows[0][1])
	assert.Equal(t, "two", q.Rows[1][1])

	pkg, doc = e.request(t, dialog.Request{ClientID: "kitchen"}, RecallHistory, "", nil)
	res, err = e.h.CreateResult(ctx, pkg, doc)
	require.NoError(t, err)
	assert.Equal(t, "3 recent turns", res.Message())
}

func TestSnapshotMissing(t *testing.T) {
	e := newEnv(t)
	_, err := e.h.Snapshot(context.Background(), "T-404")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
