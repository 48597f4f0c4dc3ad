package ticket

import (
	"strings"

	"alixia/internal/capability"
	"alixia/internal/identity"
)

// Result is what a room produced for one capability package.
type Result interface {
	Message() string
	Explanation() string
}

// Payloader is implemented by results that carry a client-bound object.
type Payloader interface {
	Payload() any
}

// MultiMedia is implemented by results that only make sense on a rich client.
type MultiMedia interface {
	MultiMedia() bool
}

// Text is a plain answer.
type Text struct {
	Msg  string `json:"message"`
	Expl string `json:"explanation,omitempty"`
}

func (t Text) Message() string     { return t.Msg }
func (t Text) Explanation() string { return t.Expl }

// Ack acknowledges a control capability without content.
type Ack struct {
	Msg string `json:"message"`
}

func (a Ack) Message() string     { return a.Msg }
func (a Ack) Explanation() string { return "" }

// Media carries audio, image or video bytes for the client.
type Media struct {
	Msg  string `json:"message"`
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

func (m Media) Message() string     { return m.Msg }
func (m Media) Explanation() string { return m.MIME }
func (m Media) Payload() any        { return m }
func (m Media) MultiMedia() bool    { return true }

// Query is a structured lookup result.
type Query struct {
	Msg     string     `json:"message"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (q Query) Message() string { return q.Msg }

func (q Query) Explanation() string {
	var b strings.Builder
	for i, row := range q.Rows {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.Join(row, " | "))
	}
	return b.String()
}

func (q Query) Payload() any { return q }

// ClientObject wraps an arbitrary object destined for the client.
type ClientObject struct {
	Msg    string `json:"message"`
	Object any    `json:"object"`
}

func (c ClientObject) Message() string     { return c.Msg }
func (c ClientObject) Explanation() string { return "" }
func (c ClientObject) Payload() any        { return c.Object }

// CapabilitySet answers the discovery capability.
type CapabilitySet struct {
	Room  identity.Room     `json:"room"`
	Names []capability.Name `json:"names"`
}

func (c CapabilitySet) Message() string { return c.Room.String() }

func (c CapabilitySet) Explanation() string {
	parts := make([]string, len(c.Names))
	for i, n := range c.Names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}

// Analysis answers the language-analysis capability.
type Analysis struct {
	Sentences []*Sentence `json:"sentences"`
}

func (a Analysis) Message() string { return "analysis" }

func (a Analysis) Explanation() string {
	parts := make([]string, len(a.Sentences))
	for i, s := range a.Sentences {
		parts[i] = s.Text
	}
	return strings.Join(parts, " / ")
}

// Proposals answers the capability-matching capability with one room's
// candidate packages, each tied to the sentence it came from.
type Proposals struct {
	Packages Capabilities `json:"packages"`
}

func (p Proposals) Message() string { return "proposals" }

func (p Proposals) Explanation() string {
	parts := make([]string, len(p.Packages))
	for i, c := range p.Packages {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// Redirect overrides where and how the assembled answer is delivered.
type Redirect struct {
	Msg        string          `json:"message"`
	Expl       string          `json:"explanation,omitempty"`
	ToClient   string          `json:"to_client,omitempty"`
	Capability capability.Name `json:"capability,omitempty"`
}

func (r Redirect) Message() string     { return r.Msg }
func (r Redirect) Explanation() string { return r.Expl }
