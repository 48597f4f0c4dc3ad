package overmind

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alixia/internal/capability"
	"alixia/internal/dialog"
	"alixia/internal/ids"
	"alixia/internal/ticket"
)

func proposal(t *testing.T, alloc ids.Allocator, name capability.Name, object string, confidence int, s *ticket.Sentence) *ticket.CapabilityPackage {
	t.Helper()
	p, err := ticket.NewCapability(context.Background(), alloc, name, object, confidence, s)
	require.NoError(t, err)
	return p
}

func result(t *testing.T, alloc ids.Allocator, name capability.Name, r ticket.Result) *ticket.ResultPackage {
	t.Helper()
	pkg := proposal(t, alloc, name, "", 0, nil)
	rp, err := ticket.NewResult(context.Background(), alloc, pkg, r)
	require.NoError(t, err)
	return rp
}

func names(ps ticket.Capabilities) []capability.Name {
	var out []capability.Name
	for _, p := range ps {
		out = append(out, p.Name)
	}
	return out
}

func TestUnifyKeepsHighestConfidencePerSentence(t *testing.T) {
	alloc := ids.NewMemory()
	s := &ticket.Sentence{ID: "s1", Index: 0, Text: "play something"}
	a := proposal(t, alloc, "play_title", "", 60, s)
	b := proposal(t, alloc, "lights_on", "", 80, s)

	unified, orphaned := Unify(ticket.Capabilities{a, b})
	assert.Empty(t, orphaned)
	assert.Equal(t, []capability.Name{"lights_on"}, names(unified))
}

func TestUnifyIsOrderIndependent(t *testing.T) {
	alloc := ids.NewMemory()
	s1 := &ticket.Sentence{ID: "s1", Index: 0}
	s2 := &ticket.Sentence{ID: "s2", Index: 1}
	ps := ticket.Capabilities{
		proposal(t, alloc, "greet", "", 70, s2),
		proposal(t, alloc, "tell_time", "", 70, s1),
		proposal(t, alloc, "show_clock", "", 70, s1),
		proposal(t, alloc, "greet", "b", 70, s2),
		proposal(t, alloc, "greet", "a", 70, s2),
	}
	forward, _ := Unify(ps)
	reversed := make(ticket.Capabilities, len(ps))
	for i, p := range ps {
		reversed[len(ps)-1-i] = p
	}
	backward, _ := Unify(reversed)

	require.Len(t, forward, 2)
	assert.Equal(t, forward, backward)
	assert.Equal(t, capability.Name("show_clock"), forward[0].Name)
	assert.Equal(t, "", forward[1].Object)
}

func TestUnifySeparatesOrphans(t *testing.T) {
	alloc := ids.NewMemory()
	s := &ticket.Sentence{ID: "s1"}
	orphan := proposal(t, alloc, "greet", "", 90, nil)
	kept := proposal(t, alloc, "tell_time", "", 10, s)

	unified, orphaned := Unify(ticket.Capabilities{orphan, nil, kept})
	assert.Equal(t, ticket.Capabilities{kept}, unified)
	assert.Equal(t, ticket.Capabilities{orphan}, orphaned)
}

func TestWinnowDropsMediaForTextSessions(t *testing.T) {
	alloc := ids.NewMemory()
	text := result(t, alloc, "show_clock", ticket.Text{Msg: "09:30"})
	media := result(t, alloc, "show_clock", ticket.Media{Msg: "clock", MIME: "image/svg+xml"})

	got := winnow(ticket.Results{media, text}, dialog.Request{SessionType: dialog.SessionText})
	assert.Equal(t, ticket.Results{text}, got)

	got = winnow(ticket.Results{media, text}, dialog.Request{SessionType: dialog.SessionVoice})
	assert.Len(t, got, 2)

	got = winnow(ticket.Results{media, text}, dialog.Request{SessionType: dialog.SessionVoice, Quiet: true})
	assert.Equal(t, ticket.Results{text}, got)

	only := ticket.Results{media, result(t, alloc, "show_clock", ticket.Media{Msg: "other"})}
	got = winnow(only, dialog.Request{SessionType: dialog.SessionText})
	assert.Equal(t, ticket.Results{media}, got)
}

func TestChooseUsesInjectedPicker(t *testing.T) {
	alloc := ids.NewMemory()
	var asked int
	o := New(Options{Choose: func(n int) int { asked = n; return n - 1 }}, nil)
	rs := ticket.Results{
		result(t, alloc, "greet", ticket.Text{Msg: "hi"}),
		result(t, alloc, "greet", ticket.Text{Msg: "hello"}),
		result(t, alloc, "greet", ticket.Text{Msg: "hey"}),
	}
	assert.Same(t, rs[2], o.choose(rs))
	assert.Equal(t, 3, asked)
	assert.Same(t, rs[0], o.choose(rs[:1]))
	assert.Nil(t, o.choose(nil))
}

func TestAssembleJoinsWinnersAndAppliesRedirect(t *testing.T) {
	ctx := context.Background()
	alloc := ids.NewMemory()
	tk, err := ticket.New(ctx, alloc, dialog.Request{TurnID: "turn-1", ClientID: "kitchen", Language: "en"})
	require.NoError(t, err)

	o := New(Options{Choose: func(int) int { return 0 }}, nil)
	content := ticket.Results{
		result(t, alloc, "tell_time", ticket.Text{Msg: "It is 09:30.", Expl: "clock room"}),
		result(t, alloc, "greet", ticket.Text{Msg: " Hello! "}),
		result(t, alloc, "greet", ticket.Text{Msg: "Hi!"}),
		result(t, alloc, "send_to", ticket.Redirect{Msg: "Forwarded.", ToClient: "hallway", Capability: "indie_response"}),
	}
	resp := o.assemble(tk, content)

	assert.Equal(t, "turn-1", resp.TurnID)
	assert.Equal(t, tk.ID, resp.TicketID)
	assert.Equal(t, "hallway", resp.ToClient)
	assert.Equal(t, capability.Name("indie_response"), resp.Capability)
	assert.Equal(t, "It is 09:30.\nHello!\nForwarded.", resp.Message)
	assert.Equal(t, "clock room", resp.Explanation)
	assert.Equal(t, "en", resp.Language)
	assert.Len(t, tk.Journal().Results(), 3)
}

func TestAssembleTakesFirstPayload(t *testing.T) {
	ctx := context.Background()
	alloc := ids.NewMemory()
	tk, err := ticket.New(ctx, alloc, dialog.Request{ClientID: "kitchen", SessionType: dialog.SessionVoice})
	require.NoError(t, err)

	o := New(Options{}, nil)
	q := ticket.Query{Msg: "1 recent turns"}
	resp := o.assemble(tk, ticket.Results{
		result(t, alloc, "recall_history", q),
		result(t, alloc, "show_clock", ticket.Media{Msg: "clock"}),
	})
	assert.Equal(t, q, resp.Payload)
	assert.Equal(t, capability.ClientResponse, resp.Capability)
	assert.Equal(t, "kitchen", resp.ToClient)
}

func TestNewFillsDefaults(t *testing.T) {
	o := New(Options{}, nil)
	assert.Equal(t, DefaultApology, o.opts.Apology)
	assert.NotNil(t, o.opts.Choose)
	assert.NotNil(t, o.opts.Folder)
	assert.NotNil(t, o.opts.Recorder)
	assert.Equal(t, []capability.Name{capability.RespondToClient}, o.Capabilities())
}
