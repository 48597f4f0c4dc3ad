package domain

// Event is one row of the append-only event log.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	TicketID string `json:"ticket_id,omitempty"`
	Room     string `json:"room,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// HistoryEntry is a completed turn.
type HistoryEntry struct {
	ID           int64    `json:"id"`
	TicketID     string   `json:"ticket_id"`
	ClientID     string   `json:"client_id"`
	PersonID     string   `json:"person_id,omitempty"`
	Message      string   `json:"message"`
	Reply        string   `json:"reply"`
	Capabilities []string `json:"capabilities"`
	TS           string   `json:"ts" format:"date-time"`
	Snapshot     []byte   `json:"-"`
}

// Recall is a remembered sentence-to-capability binding.
type Recall struct {
	Text       string `json:"text"`
	Capability string `json:"capability"`
	Object     string `json:"object,omitempty"`
	TicketID   string `json:"ticket_id"`
	TS         string `json:"ts" format:"date-time"`
}
