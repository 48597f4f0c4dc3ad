// Package monitor watches the hall and writes what it sees to the event log.
package monitor

import (
	"context"

	"go.uber.org/zap"

	"alixia/internal/capability"
	"alixia/internal/document"
	"alixia/internal/events"
	"alixia/internal/identity"
	"alixia/internal/room"
	"alixia/internal/ticket"
)

type Monitor struct {
	room.Nop
	rec events.Recorder
	log *zap.Logger
}

func New(rec events.Recorder, log *zap.Logger) *Monitor {
	if rec == nil {
		rec = events.Discard{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{rec: rec, log: log.Named("monitor")}
}

func (m *Monitor) Identity() identity.Room         { return identity.Monitor }
func (m *Monitor) Capabilities() []capability.Name { return nil }

func (m *Monitor) CreateResult(context.Context, *ticket.CapabilityPackage, *document.Request) (ticket.Result, error) {
	return nil, nil
}

// Observe records every document delivered to the room.
func (m *Monitor) Observe(ctx context.Context, d document.Document) {
	payload := events.EventPayload{"document": d.ID(), "origin": d.Origin().String()}
	switch doc := d.(type) {
	case *document.Request:
		payload["capabilities"] = doc.Packages.Names()
	case *document.Response:
		payload["answers"] = doc.AnswersRequestID
		payload["respond_to"] = doc.RespondTo.String()
		var names []capability.Name
		for _, r := range doc.Results {
			names = append(names, r.Name())
		}
		payload["results"] = names
	case *document.Announcement:
		payload["event"] = string(doc.Event)
	}
	var ticketID string
	if t := d.Ticket(); t != nil {
		ticketID = t.ID
	}
	m.log.Debug("observed", zap.Stringer("kind", d.Kind()), zap.String("ticket", ticketID), zap.Any("detail", payload))
	if err := m.rec.Append(ctx, "document."+d.Kind().String(), ticketID, identity.Monitor.String(), payload); err != nil {
		m.log.Warn("event append failed", zap.Error(err))
	}
}
