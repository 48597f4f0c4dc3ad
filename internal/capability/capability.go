// Package capability names the units of requestable behavior rooms advertise.
package capability

import "sort"

// Name is a capability name. Names form the contract between rooms; the core
// only interprets the reserved ones below.
type Name string

const (
	// WhatCapabilities asks every room to advertise its capability set.
	WhatCapabilities Name = "what_capabilities"
	// RespondToClient starts a turn at the orchestrator.
	RespondToClient Name = "respond_to_client"
	// LanguageAnalysis asks for per-sentence analysis of the message.
	LanguageAnalysis Name = "nlp_analysis"
	// CapabilityAnalysis asks rooms to propose capabilities per sentence.
	CapabilityAnalysis Name = "capability_analysis"
	// ClientResponse delivers an assembled answer to the client.
	ClientResponse Name = "client_response"
	// IndieResponse delivers an unsolicited answer to the client.
	IndieResponse Name = "indie_response"
	// UpdateHistory asks the history keeper to record a turn.
	UpdateHistory Name = "update_history"
	// NothingToDo answers an empty turn.
	NothingToDo Name = "nothing_to_do"
	// Unmatched answers a turn no room could match.
	Unmatched Name = "unmatched"
	// Apology is synthesized when nobody answered the dispatched capabilities.
	Apology Name = "apology"
	// Version reports the running service version.
	Version Name = "like_a_version"
)

// Internal reports whether n drives the pipeline itself rather than producing
// client-facing content.
func (n Name) Internal() bool {
	switch n {
	case LanguageAnalysis, CapabilityAnalysis, ClientResponse, UpdateHistory, RespondToClient, WhatCapabilities:
		return true
	}
	return false
}

func (n Name) String() string { return string(n) }

// Set is an unordered set of names.
type Set map[Name]struct{}

func NewSet(names ...Name) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s Set) Has(n Name) bool {
	_, ok := s[n]
	return ok
}

func (s Set) Add(n Name) { s[n] = struct{}{} }

// Sorted returns the members in lexical order.
func (s Set) Sorted() []Name {
	out := make([]Name, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Catalog is the canonical set of known capabilities with descriptions.
type Catalog map[Name]string

func (c Catalog) Has(n Name) bool {
	_, ok := c[n]
	return ok
}

// Reserved returns the catalog entries every deployment needs.
func Reserved() Catalog {
	return Catalog{
		WhatCapabilities:   "Advertise the capabilities a room implements",
		RespondToClient:    "Begin processing a client turn",
		LanguageAnalysis:   "Split and analyze the client message",
		CapabilityAnalysis: "Propose capabilities for analyzed sentences",
		ClientResponse:     "Deliver an assembled answer to the client",
		IndieResponse:      "Deliver an unsolicited answer to the client",
		UpdateHistory:      "Record a finished turn",
		NothingToDo:        "Answer an empty turn",
		Unmatched:          "Answer a turn nobody matched",
		Apology:            "Fallback when nobody answered",
		Version:            "Report the service version",
	}
}
