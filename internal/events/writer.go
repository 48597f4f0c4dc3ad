package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Recorder appends an entry to the event log.
type Recorder interface {
	Append(ctx context.Context, evtType, ticketID, room string, payload EventPayload) error
}

// Discard is a Recorder that keeps nothing.
type Discard struct{}

func (Discard) Append(context.Context, string, string, string, EventPayload) error { return nil }

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, evtType, ticketID, room string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,ticket_id,room,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(ticketID), room, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
