// Package historian records finished turns and proposes capabilities for
// sentences it has seen answered before.
package historian

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"alixia/internal/capability"
	"alixia/internal/codec"
	"alixia/internal/document"
	"alixia/internal/domain"
	"alixia/internal/identity"
	"alixia/internal/ids"
	"alixia/internal/repo"
	"alixia/internal/room"
	"alixia/internal/ticket"
)

// RecallHistory lists the client's recent turns.
const RecallHistory capability.Name = "recall_history"

// RecallConfidence is what a remembered binding is proposed at.
const RecallConfidence = 95

const defaultHistoryLimit = 5

// Store is the persistence the historian needs.
type Store interface {
	InsertHistory(ctx context.Context, h domain.HistoryEntry) (int64, error)
	ListHistory(ctx context.Context, clientID string, limit int) ([]domain.HistoryEntry, error)
	GetHistory(ctx context.Context, ticketID string) (domain.HistoryEntry, error)
	UpsertRecall(ctx context.Context, rc domain.Recall) error
	LookupRecall(ctx context.Context, text string) (domain.Recall, error)
}

type Historian struct {
	room.Nop
	store    Store
	log      *zap.Logger
	alloc    ids.Allocator
	handlers room.Handlers
}

func New(store Store, log *zap.Logger) *Historian {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Historian{store: store, log: log.Named("historian")}
	h.handlers = room.Handlers{
		capability.UpdateHistory:      h.record,
		capability.CapabilityAnalysis: h.recall,
		RecallHistory:                 h.list,
	}
	return h
}

func (h *Historian) Identity() identity.Room         { return identity.Historian }
func (h *Historian) Capabilities() []capability.Name { return h.handlers.Names() }

func (h *Historian) OnStart(_ context.Context, e *room.Engine) error {
	h.alloc = e.IDs()
	return nil
}

func (h *Historian) CreateResult(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	return h.handlers.Serve(ctx, pkg, req)
}

func (h *Historian) record(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	upd, ok := req.Payload.(ticket.HistoryUpdate)
	if !ok {
		return nil, fmt.Errorf("%s payload is %T, want ticket.HistoryUpdate", pkg.Name, req.Payload)
	}
	snap, err := codec.Marshal(req.Ticket().Journal().Snapshot())
	if err != nil {
		return nil, fmt.Errorf("encode journal snapshot: %w", err)
	}
	names := upd.Names()
	caps := make([]string, len(names))
	for i, n := range names {
		caps[i] = string(n)
	}
	if _, err := h.store.InsertHistory(ctx, domain.HistoryEntry{
		TicketID:     upd.TicketID,
		ClientID:     upd.ClientID,
		PersonID:     upd.PersonID,
		Message:      upd.Message,
		Reply:        upd.Reply.Message,
		Capabilities: caps,
		Snapshot:     snap,
	}); err != nil {
		return nil, fmt.Errorf("insert history %s: %w", upd.TicketID, err)
	}
	for _, c := range upd.Chosen {
		if !rememberable(c) {
			continue
		}
		if err := h.store.UpsertRecall(ctx, domain.Recall{
			Text:       c.Sentence.Normalized,
			Capability: string(c.Name),
			Object:     c.Object,
			TicketID:   upd.TicketID,
		}); err != nil {
			return nil, fmt.Errorf("remember %s: %w", c, err)
		}
	}
	h.log.Debug("turn recorded", zap.String("ticket", upd.TicketID), zap.Strings("capabilities", caps))
	return ticket.Ack{Msg: "recorded"}, nil
}

func rememberable(c *ticket.CapabilityPackage) bool {
	if c == nil || c.Sentence == nil || c.Sentence.Normalized == "" {
		return false
	}
	switch c.Name {
	case capability.Unmatched, capability.NothingToDo, capability.Apology:
		return false
	}
	return !c.Name.Internal()
}

func (h *Historian) recall(ctx context.Context, _ *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	sentences, _ := req.Payload.([]*ticket.Sentence)
	var out ticket.Capabilities
	for _, s := range sentences {
		rc, err := h.store.LookupRecall(ctx, s.Normalized)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		p, err := ticket.NewCapability(ctx, h.alloc, capability.Name(rc.Capability), rc.Object, RecallConfidence, s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return ticket.Proposals{Packages: out}, nil
}

func (h *Historian) list(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	limit := defaultHistoryLimit
	if n, err := strconv.Atoi(strings.TrimSpace(pkg.Object)); err == nil && n > 0 {
		limit = n
	}
	clientID := req.Ticket().ClientID
	entries, err := h.store.ListHistory(ctx, clientID, limit)
	if err != nil {
		return nil, err
	}
	q := ticket.Query{
		Msg:     fmt.Sprintf("%d recent turns", len(entries)),
		Columns: []string{"ticket", "message", "reply", "when"},
	}
	if len(entries) == 0 {
		q.Msg = "nothing asked yet"
	}
	for _, e := range entries {
		q.Rows = append(q.Rows, []string{e.TicketID, e.Message, e.Reply, e.TS})
	}
	return q, nil
}

// Snapshot decodes the journal recorded for ticketID.
func (h *Historian) Snapshot(ctx context.Context, ticketID string) (map[string]any, error) {
	entry, err := h.store.GetHistory(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if len(entry.Snapshot) == 0 {
		return nil, repo.ErrNotFound
	}
	var out map[string]any
	if err := codec.Unmarshal(entry.Snapshot, &out); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", ticketID, err)
	}
	return out, nil
}
