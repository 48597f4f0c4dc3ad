package matcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alixia/internal/capability"
	"alixia/internal/config"
	"alixia/internal/dialog"
	"alixia/internal/document"
	"alixia/internal/identity"
	"alixia/internal/ids"
	"alixia/internal/ticket"
)

var testRules = []config.MatcherRule{
	{Capability: "tell_time", Keywords: []string{"time", "Clock "}, Confidence: 70},
	{Capability: "set_timer", Pattern: `timer for (\d+)`, Confidence: 90},
	{Capability: "play_title", Keywords: []string{"play"}, Confidence: 60},
}

func newMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := New(testRules)
	require.NoError(t, err)
	m.alloc = ids.NewMemory()
	return m
}

func ask(t *testing.T, m *Matcher, message string, payload any) ticket.Result {
	t.Helper()
	ctx := context.Background()
	tk, err := ticket.New(ctx, m.alloc, dialog.Request{ClientID: "kitchen", Message: message})
	require.NoError(t, err)
	pkg, err := ticket.DefaultCapability(ctx, m.alloc, capability.CapabilityAnalysis)
	require.NoError(t, err)
	req := document.NewRequest(1, tk, identity.Overmind)
	req.Message = message
	req.Payload = payload
	req.Packages = ticket.Capabilities{pkg}
	res, err := m.CreateResult(ctx, pkg, req)
	require.NoError(t, err)
	return res
}

func TestNewRejectsBadRules(t *testing.T) {
	_, err := New([]config.MatcherRule{{Capability: "greet", Confidence: 50}})
	assert.ErrorContains(t, err, "keywords or pattern required")

	_, err = New([]config.MatcherRule{{Capability: "greet", Pattern: "(", Confidence: 50}})
	assert.ErrorContains(t, err, "matcher rule 0 (greet)")

	_, err = New([]config.MatcherRule{{Capability: "greet", Keywords: []string{"  "}}})
	assert.Error(t, err)
}

func TestKeywordMatchCapturesTrailingObject(t *testing.T) {
	m := newMatcher(t)
	res := ask(t, m, "Play the blue album", nil)
	props, ok := res.(ticket.Proposals)
	require.True(t, ok)
	require.Len(t, props.Packages, 1)
	p := props.Packages[0]
	assert.Equal(t, capability.Name("play_title"), p.Name)
	assert.Equal(t, "the blue album", p.Object)
	assert.Equal(t, 60, p.Confidence)
	assert.NotNil(t, p.Sentence)
	assert.NotEmpty(t, p.Sentence.ID)
}

func TestKeywordsMatchWholeWordsOnly(t *testing.T) {
	m := newMatcher(t)
	assert.Nil(t, ask(t, m, "Sometimes I wonder", nil))
	res := ask(t, m, "Show me the clock", nil)
	props := res.(ticket.Proposals)
	assert.Equal(t, capability.Name("tell_time"), props.Packages[0].Name)
}

func TestPatternCapturesFirstGroup(t *testing.T) {
	m := newMatcher(t)
	res := ask(t, m, "Set a timer for 10 seconds.", nil)
	props := res.(ticket.Proposals)
	require.Len(t, props.Packages, 1)
	assert.Equal(t, capability.Name("set_timer"), props.Packages[0].Name)
	assert.Equal(t, "10", props.Packages[0].Object)
	assert.Equal(t, 90, props.Packages[0].Confidence)
}

func TestUsesAnalyzedSentencesWhenGiven(t *testing.T) {
	m := newMatcher(t)
	s := &ticket.Sentence{ID: "sent-7", Index: 0, Text: "What TIME?", Normalized: "what time"}
	res := ask(t, m, "ignored raw message", []*ticket.Sentence{s})
	props := res.(ticket.Proposals)
	require.Len(t, props.Packages, 1)
	assert.Same(t, s, props.Packages[0].Sentence)
}

func TestIgnoresOtherCapabilities(t *testing.T) {
	m := newMatcher(t)
	ctx := context.Background()
	pkg, err := ticket.DefaultCapability(ctx, m.alloc, "greet")
	require.NoError(t, err)
	res, err := m.CreateResult(ctx, pkg, document.NewRequest(1, nil, identity.Overmind))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Nil(t, ask(t, m, "", nil))
}
