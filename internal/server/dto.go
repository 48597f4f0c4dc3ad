package server

import (
	"alixia/internal/capability"
	"alixia/internal/dialog"
	"alixia/internal/domain"
	"alixia/internal/identity"
	"alixia/internal/room"
)

// Request payloads

type TurnRequest struct {
	ClientID     string   `json:"client_id,omitempty" doc:"Client device id; generated when empty"`
	PersonID     string   `json:"person_id,omitempty"`
	Message      string   `json:"message,omitempty"`
	Payload      any      `json:"payload,omitempty"`
	Capabilities []string `json:"capabilities,omitempty" doc:"Bypass matching and dispatch these capabilities"`
	Language     string   `json:"language,omitempty"`
	SessionType  string   `json:"session_type,omitempty" enum:"text,voice"`
	Quiet        bool     `json:"quiet,omitempty"`
}

func (r TurnRequest) dialog() dialog.Request {
	req := dialog.Request{
		ClientID:    r.ClientID,
		PersonID:    r.PersonID,
		Message:     r.Message,
		Payload:     r.Payload,
		Language:    r.Language,
		SessionType: dialog.SessionType(r.SessionType),
		Quiet:       r.Quiet,
	}
	for _, c := range r.Capabilities {
		req.Capabilities = append(req.Capabilities, capability.Name(c))
	}
	return req
}

// Response payloads

type TurnResponse struct {
	TurnID      string `json:"turn_id,omitempty"`
	TicketID    string `json:"ticket_id"`
	ToClient    string `json:"to_client"`
	Message     string `json:"message"`
	Explanation string `json:"explanation,omitempty"`
	Payload     any    `json:"payload,omitempty"`
	Capability  string `json:"capability,omitempty"`
	Language    string `json:"language,omitempty"`
	Unsolicited bool   `json:"unsolicited,omitempty"`
}

type MessagesResponse struct {
	ClientID string         `json:"client_id"`
	Items    []TurnResponse `json:"items"`
}

type CapabilityResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Rooms       []string `json:"rooms"`
}

type CapabilitiesResponse struct {
	Items   []CapabilityResponse `json:"items"`
	Unknown []string             `json:"unknown,omitempty"`
	Orphans []string             `json:"orphans,omitempty"`
}

type RoomResponse struct {
	Room         string `json:"room"`
	State        string `json:"state"`
	Capabilities int    `json:"capabilities"`
	Sent         int64  `json:"sent"`
	Received     int64  `json:"received"`
	Completed    int64  `json:"completed"`
	Pending      int64  `json:"pending"`
	Stalled      int64  `json:"stalled"`
	Discarded    int64  `json:"discarded"`
	Rejected     int64  `json:"rejected"`
	Declined     int64  `json:"declined"`
	Failed       int64  `json:"failed"`
}

type RoomsResponse struct {
	Items   []RoomResponse `json:"items"`
	Missing []string       `json:"missing,omitempty"`
}

type HistoryResponse struct {
	ID           int64    `json:"id"`
	TicketID     string   `json:"ticket_id"`
	ClientID     string   `json:"client_id"`
	PersonID     string   `json:"person_id,omitempty"`
	Message      string   `json:"message"`
	Reply        string   `json:"reply"`
	Capabilities []string `json:"capabilities"`
	TS           string   `json:"ts" format:"date-time"`
}

type EventResponse struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	TicketID string `json:"ticket_id,omitempty"`
	Room     string `json:"room,omitempty"`
	Payload  any    `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func turnResponse(r dialog.Response) TurnResponse {
	return TurnResponse{
		TurnID:      r.TurnID,
		TicketID:    r.TicketID,
		ToClient:    r.ToClient,
		Message:     r.Message,
		Explanation: r.Explanation,
		Payload:     r.Payload,
		Capability:  string(r.Capability),
		Language:    r.Language,
		Unsolicited: r.Unsolicited,
	}
}

func roomResponse(s room.Stats) RoomResponse {
	return RoomResponse{
		Room:         s.Room.String(),
		State:        s.State,
		Capabilities: s.Capabilities,
		Sent:         s.Sent,
		Received:     s.Received,
		Completed:    s.Completed,
		Pending:      s.Pending,
		Stalled:      s.Stalled,
		Discarded:    s.Discarded,
		Rejected:     s.Rejected,
		Declined:     s.Declined,
		Failed:       s.Failed,
	}
}

func historyResponse(h domain.HistoryEntry) HistoryResponse {
	return HistoryResponse{
		ID:           h.ID,
		TicketID:     h.TicketID,
		ClientID:     h.ClientID,
		PersonID:     h.PersonID,
		Message:      h.Message,
		Reply:        h.Reply,
		Capabilities: nonNilSlice(h.Capabilities),
		TS:           h.TS,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return EventResponse{ID: e.ID, TS: e.TS, Type: e.Type, TicketID: e.TicketID, Room: e.Room, Payload: payload}
}

func roomNames(rs []identity.Room) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}

func capabilityNames(ns []capability.Name) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = string(n)
	}
	return out
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
