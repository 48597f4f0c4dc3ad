package ticket

import (
	"alixia/internal/capability"
	"alixia/internal/dialog"
)

// HistoryUpdate asks the history keeper to record a finished turn.
type HistoryUpdate struct {
	TicketID string          `json:"ticket_id"`
	ClientID string          `json:"client_id"`
	PersonID string          `json:"person_id,omitempty"`
	Message  string          `json:"message"`
	Reply    dialog.Response `json:"reply"`
	Chosen   Capabilities    `json:"chosen"`
}

// Names lists the chosen capabilities.
func (h HistoryUpdate) Names() []capability.Name {
	return h.Chosen.Names()
}
