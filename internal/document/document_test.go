package document

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"alixia/internal/identity"
	"alixia/internal/ticket"
)

func TestRequestReadiness(t *testing.T) {
	r := NewRequest(1, nil, identity.Overmind)
	assert.False(t, r.Ready())
	r.Message = "hello"
	assert.False(t, r.Ready(), "no capabilities")
	r.Packages = ticket.Capabilities{{ID: "CP1", Name: "x"}}
	assert.True(t, r.Ready())
	r.Message = ""
	r.Payload = struct{}{}
	assert.True(t, r.Ready())
	assert.Equal(t, KindRequest, r.Kind())
}

func TestResponseAddressedToRequester(t *testing.T) {
	req := NewRequest(7, nil, identity.Controller)
	resp := NewResponse(8, req, identity.Linguist)
	assert.Equal(t, int64(7), resp.AnswersRequestID)
	assert.Equal(t, identity.Controller, resp.RespondTo)
	assert.Equal(t, identity.Linguist, resp.Origin())
	assert.True(t, resp.Ready())
	assert.True(t, resp.Empty())

	assert.False(t, resp.Add(&ticket.ResultPackage{ID: "RP1"}))
	assert.True(t, resp.Add(&ticket.ResultPackage{ID: "RP2", Capability: &ticket.CapabilityPackage{Name: "x"}, Result: ticket.Ack{}}))
	assert.Len(t, resp.Results, 1)

	orphan := &Response{RespondTo: identity.None}
	assert.False(t, orphan.Ready())
}
