// Package dialog holds the shapes exchanged with client devices across the
// session bridge.
package dialog

import "alixia/internal/capability"

// SessionType describes how the client renders answers.
type SessionType string

const (
	SessionText  SessionType = "text"
	SessionVoice SessionType = "voice"
)

// Request is one inbound client turn.
type Request struct {
	TurnID       string            `json:"turn_id,omitempty"`
	ClientID     string            `json:"client_id"`
	PersonID     string            `json:"person_id,omitempty"`
	Message      string            `json:"message,omitempty"`
	Payload      any               `json:"payload,omitempty"`
	Capabilities []capability.Name `json:"capabilities,omitempty"`
	Language     string            `json:"language,omitempty"`
	SessionType  SessionType       `json:"session_type,omitempty"`
	Quiet        bool              `json:"quiet,omitempty"`
}

// Empty reports whether the turn carries neither text nor payload.
func (r Request) Empty() bool {
	return r.Message == "" && r.Payload == nil
}

// Response is one outbound answer, either to a turn or pushed unsolicited.
type Response struct {
	TurnID      string          `json:"turn_id,omitempty"`
	TicketID    string          `json:"ticket_id"`
	ToClient    string          `json:"to_client"`
	Message     string          `json:"message"`
	Explanation string          `json:"explanation,omitempty"`
	Payload     any             `json:"payload,omitempty"`
	Capability  capability.Name `json:"capability,omitempty"`
	Language    string          `json:"language,omitempty"`
	Unsolicited bool            `json:"unsolicited,omitempty"`
}
