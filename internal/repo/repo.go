package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"alixia/internal/domain"
	"alixia/internal/ids"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

var _ ids.Allocator = Repo{}

func (r Repo) now() string {
	if r.Now == nil {
		return time.Now().UTC().Format(time.RFC3339Nano)
	}
	return r.Now().UTC().Format(time.RFC3339Nano)
}

// Next allocates the next id for key. Ids survive restarts.
func (r Repo) Next(ctx context.Context, key ids.Key) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("id key is empty")
	}
	var v int64
	err := r.DB.QueryRowContext(ctx, `INSERT INTO counters(key,value) VALUES (?,1)
		ON CONFLICT(key) DO UPDATE SET value=value+1 RETURNING value`, string(key)).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", key, err)
	}
	return v, nil
}

func (r Repo) InsertHistory(ctx context.Context, h domain.HistoryEntry) (int64, error) {
	caps, err := json.Marshal(h.Capabilities)
	if err != nil {
		return 0, err
	}
	if h.TS == "" {
		h.TS = r.now()
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO history(ticket_id,client_id,person_id,message,reply,capabilities,ts,snapshot) VALUES (?,?,?,?,?,?,?,?)`,
		h.TicketID, h.ClientID, nullable(h.PersonID), h.Message, h.Reply, string(caps), h.TS, h.Snapshot)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const historyColumns = `id,ticket_id,client_id,COALESCE(person_id,''),message,reply,capabilities,ts,snapshot`

func scanHistory(scan func(dest ...any) error) (domain.HistoryEntry, error) {
	var h domain.HistoryEntry
	var caps string
	if err := scan(&h.ID, &h.TicketID, &h.ClientID, &h.PersonID, &h.Message, &h.Reply, &caps, &h.TS, &h.Snapshot); err != nil {
		return h, err
	}
	if err := json.Unmarshal([]byte(caps), &h.Capabilities); err != nil {
		return h, fmt.Errorf("history %d capabilities: %w", h.ID, err)
	}
	return h, nil
}

// ListHistory returns the newest turns first. An empty clientID lists all
// clients.
func (r Repo) ListHistory(ctx context.Context, clientID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if clientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, clientID)
	}
	query := fmt.Sprintf(`SELECT %s FROM history WHERE %s ORDER BY id DESC LIMIT ?`, historyColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		h, err := scanHistory(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) GetHistory(ctx context.Context, ticketID string) (domain.HistoryEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history WHERE ticket_id=?`, ticketID)
	h, err := scanHistory(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	return h, err
}

// UpsertRecall binds normalized sentence text to the capability that
// answered it. Later turns overwrite earlier ones.
func (r Repo) UpsertRecall(ctx context.Context, rc domain.Recall) error {
	if rc.TS == "" {
		rc.TS = r.now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO recall(text,capability,object,ticket_id,ts) VALUES (?,?,?,?,?)
		ON CONFLICT(text) DO UPDATE SET capability=excluded.capability, object=excluded.object, ticket_id=excluded.ticket_id, ts=excluded.ts`,
		rc.Text, rc.Capability, nullable(rc.Object), rc.TicketID, rc.TS)
	return err
}

func (r Repo) LookupRecall(ctx context.Context, text string) (domain.Recall, error) {
	var rc domain.Recall
	err := r.DB.QueryRowContext(ctx, `SELECT text,capability,COALESCE(object,''),ticket_id,ts FROM recall WHERE text=?`, text).
		Scan(&rc.Text, &rc.Capability, &rc.Object, &rc.TicketID, &rc.TS)
	if errors.Is(err, sql.ErrNoRows) {
		return rc, ErrNotFound
	}
	return rc, err
}

const eventColumns = `id,ts,type,COALESCE(ticket_id,''),COALESCE(room,''),payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TicketID, &e.Room, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			var decoded any
			if err := json.Unmarshal([]byte(payload.String), &decoded); err == nil {
				e.Payload = decoded
			} else {
				e.Payload = payload.String
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns newest events first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, ticketID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if ticketID != "" {
		clauses = append(clauses, "ticket_id=?")
		args = append(args, ticketID)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
