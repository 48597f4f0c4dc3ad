package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternalNames(t *testing.T) {
	for _, n := range []Name{LanguageAnalysis, CapabilityAnalysis, ClientResponse, UpdateHistory} {
		assert.True(t, n.Internal(), n)
	}
	for _, n := range []Name{NothingToDo, Apology, "tell_time"} {
		assert.False(t, n.Internal(), n)
	}
}

func TestSetSorted(t *testing.T) {
	s := NewSet("b", "a", "c", "a")
	assert.Equal(t, []Name{"a", "b", "c"}, s.Sorted())
	assert.True(t, s.Has("b"))
	assert.False(t, s.Has("z"))
}

func TestReservedCatalogCoversControlNames(t *testing.T) {
	c := Reserved()
	for _, n := range []Name{WhatCapabilities, ClientResponse, UpdateHistory, Apology} {
		assert.True(t, c.Has(n), n)
	}
}
