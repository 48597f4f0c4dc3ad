// Package overmind drives a client turn through the pipeline: language
// analysis, capability matching, dispatch, response assembly and history.
package overmind

import (
	"context"
	"math/rand/v2"

	"go.uber.org/zap"

	"alixia/internal/capability"
	"alixia/internal/dialog"
	"alixia/internal/document"
	"alixia/internal/events"
	"alixia/internal/identity"
	"alixia/internal/room"
	"alixia/internal/ticket"
)

// DefaultApology answers a turn nobody could help with.
const DefaultApology = "Sorry, I could not find a way to help with that."

// Folder merges a language analysis into the journal.
type Folder interface {
	Fold(j *ticket.Journal, a ticket.Analysis)
}

// FoldFunc adapts a function to Folder.
type FoldFunc func(j *ticket.Journal, a ticket.Analysis)

func (f FoldFunc) Fold(j *ticket.Journal, a ticket.Analysis) { f(j, a) }

// AppendSentences is the default Folder.
var AppendSentences = FoldFunc(func(j *ticket.Journal, a ticket.Analysis) {
	j.AddSentences(a.Sentences...)
})

type Options struct {
	// Choose picks an index in [0, n) among equally eligible results.
	Choose   func(n int) int
	Apology  string
	Folder   Folder
	Recorder events.Recorder
}

// Overmind is the orchestrating room.
type Overmind struct {
	room.Nop
	opts   Options
	log    *zap.Logger
	engine *room.Engine
}

func New(opts Options, log *zap.Logger) *Overmind {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Choose == nil {
		opts.Choose = rand.IntN
	}
	if opts.Apology == "" {
		opts.Apology = DefaultApology
	}
	if opts.Folder == nil {
		opts.Folder = AppendSentences
	}
	if opts.Recorder == nil {
		opts.Recorder = events.Discard{}
	}
	return &Overmind{opts: opts, log: log.Named("overmind")}
}

func (o *Overmind) Identity() identity.Room { return identity.Overmind }

func (o *Overmind) Capabilities() []capability.Name {
	return []capability.Name{capability.RespondToClient}
}

func (o *Overmind) OnStart(_ context.Context, e *room.Engine) error {
	o.engine = e
	return nil
}

// CreateResult accepts a new turn and acknowledges it.
func (o *Overmind) CreateResult(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	if !pkg.Is(capability.RespondToClient) {
		return nil, nil
	}
	if err := o.begin(ctx, req.Ticket()); err != nil {
		return nil, err
	}
	return ticket.Ack{Msg: "received"}, nil
}

// begin handles the Received stage.
func (o *Overmind) begin(ctx context.Context, t *ticket.Ticket) error {
	cr := t.Journal().ClientRequest()
	o.record(ctx, t, ticket.Received)
	switch {
	case len(cr.Capabilities) > 0:
		pkgs := make(ticket.Capabilities, 0, len(cr.Capabilities))
		for _, n := range cr.Capabilities {
			p, err := ticket.DefaultCapability(ctx, o.engine.IDs(), n)
			if err != nil {
				return err
			}
			pkgs = append(pkgs, p)
		}
		return o.dispatch(ctx, t, pkgs)
	case cr.Empty():
		pkgs, err := ticket.SingletonDefault(ctx, o.engine.IDs(), capability.NothingToDo)
		if err != nil {
			return err
		}
		return o.dispatch(ctx, t, pkgs)
	default:
		if !o.advance(ctx, t, ticket.AnalyzingLanguage) {
			return nil
		}
		// A payload-only turn has no text; the request keeps it ready.
		_, err := o.engine.Ask(ctx, t, cr.Message, cr, capability.LanguageAnalysis)
		return err
	}
}

// dispatch broadcasts the chosen capabilities with the client payload.
func (o *Overmind) dispatch(ctx context.Context, t *ticket.Ticket, pkgs ticket.Capabilities) error {
	j := t.Journal()
	j.SetChosen(pkgs)
	if !o.advance(ctx, t, ticket.Dispatching) {
		return nil
	}
	cr := j.ClientRequest()
	req, err := o.engine.NewRequest(ctx, t, cr.Message, cr, pkgs...)
	if err != nil {
		return err
	}
	return o.engine.SendRequest(ctx, req)
}

// ProcessResponses advances the turn the request belonged to.
func (o *Overmind) ProcessResponses(ctx context.Context, req *document.Request, resps []*document.Response) {
	t := req.Ticket()
	var bag ticket.Results
	for _, r := range resps {
		bag = append(bag, r.Results...)
	}
	var err error
	switch stage := t.Journal().Stage(); stage {
	case ticket.AnalyzingLanguage:
		err = o.analyzed(ctx, t, bag)
	case ticket.MatchingCapabilities:
		err = o.matched(ctx, t, bag)
	case ticket.Dispatching:
		err = o.dispatched(ctx, t, bag)
	case ticket.AssemblingResponse:
		err = o.delivered(ctx, t, req, bag)
	case ticket.UpdatingHistory:
		o.recorded(ctx, t, bag)
	default:
		o.log.Warn("responses for turn in unexpected stage",
			zap.Stringer("ticket", t),
			zap.Stringer("stage", stage),
			zap.Int64("request", req.ID()))
	}
	if err != nil {
		o.log.Error("turn failed", zap.Stringer("ticket", t), zap.Error(err))
	}
}

func (o *Overmind) analyzed(ctx context.Context, t *ticket.Ticket, bag ticket.Results) error {
	j := t.Journal()
	analyses, _ := bag.ConsumeAll(capability.LanguageAnalysis)
	for _, rp := range analyses {
		if a, ok := rp.Result.(ticket.Analysis); ok {
			o.opts.Folder.Fold(j, a)
		}
	}
	if len(analyses) == 0 {
		o.log.Debug("no language analysis, matching raw message", zap.Stringer("ticket", t))
	}
	if !o.advance(ctx, t, ticket.MatchingCapabilities) {
		return nil
	}
	_, err := o.engine.Ask(ctx, t, j.ClientRequest().Message, j.Sentences(), capability.CapabilityAnalysis)
	return err
}

func (o *Overmind) matched(ctx context.Context, t *ticket.Ticket, bag ticket.Results) error {
	hits, _ := bag.ConsumeAll(capability.CapabilityAnalysis)
	var proposals ticket.Capabilities
	for _, rp := range hits {
		if p, ok := rp.Result.(ticket.Proposals); ok {
			proposals = append(proposals, p.Packages...)
		}
	}
	unified, orphaned := Unify(proposals)
	for _, p := range orphaned {
		o.log.Error("proposal without sentence dropped", zap.Stringer("ticket", t), zap.Stringer("capability", p.Name))
	}
	if len(unified) == 0 {
		pkgs, err := ticket.SingletonDefault(ctx, o.engine.IDs(), capability.Unmatched)
		if err != nil {
			return err
		}
		unified = pkgs
	}
	return o.dispatch(ctx, t, unified)
}

func (o *Overmind) dispatched(ctx context.Context, t *ticket.Ticket, bag ticket.Results) error {
	var content ticket.Results
	for _, rp := range bag {
		if rp.Name().Internal() {
			o.log.Debug("dropping pipeline result from answer", zap.Stringer("capability", rp.Name()))
			continue
		}
		content = append(content, rp)
	}
	if len(content) == 0 {
		fallback, err := ticket.Fallback(ctx, o.engine.IDs(), capability.Apology, o.opts.Apology)
		if err != nil {
			return err
		}
		content = ticket.Results{fallback}
	}
	resp := o.assemble(t, content)
	if !o.advance(ctx, t, ticket.AssemblingResponse) {
		return nil
	}
	_, err := o.engine.Ask(ctx, t, resp.Message, resp, resp.Capability)
	return err
}

func (o *Overmind) delivered(ctx context.Context, t *ticket.Ticket, req *document.Request, bag ticket.Results) error {
	if len(req.Packages) > 0 {
		bag.ConsumeFinal(req.Packages[0].Name)
	}
	if !o.advance(ctx, t, ticket.UpdatingHistory) {
		return nil
	}
	j := t.Journal()
	cr := j.ClientRequest()
	update := ticket.HistoryUpdate{
		TicketID: t.ID,
		ClientID: cr.ClientID,
		PersonID: cr.PersonID,
		Message:  cr.Message,
		Chosen:   j.Chosen(),
	}
	if resp, ok := req.Payload.(dialog.Response); ok {
		update.Reply = resp
	}
	_, err := o.engine.Ask(ctx, t, cr.Message, update, capability.UpdateHistory)
	return err
}

func (o *Overmind) recorded(ctx context.Context, t *ticket.Ticket, bag ticket.Results) {
	bag.ConsumeFinal(capability.UpdateHistory)
	if !o.advance(ctx, t, ticket.Closed) {
		return
	}
	t.Close()
	if err := o.engine.Announce(ctx, t, document.EventTicketClosed, t.ID); err != nil {
		o.log.Debug("announce close", zap.Error(err))
	}
}

// OnStall reports a turn whose fan-in will never complete.
func (o *Overmind) OnStall(ctx context.Context, req *document.Request, got []*document.Response) {
	t := req.Ticket()
	stage := t.Journal().Stage()
	if err := o.opts.Recorder.Append(ctx, "ticket.stalled", t.ID, o.Identity().String(), events.EventPayload{
		"stage":    stage.String(),
		"request":  req.ID(),
		"received": len(got),
	}); err != nil {
		o.log.Warn("record stall", zap.Error(err))
	}
	if err := o.engine.Announce(ctx, t, document.EventStalled, stage.String()); err != nil {
		o.log.Debug("announce stall", zap.Error(err))
	}
}

func (o *Overmind) advance(ctx context.Context, t *ticket.Ticket, to ticket.Stage) bool {
	if err := t.Journal().Advance(to); err != nil {
		o.log.Error("stage transition refused", zap.Stringer("ticket", t), zap.Error(err))
		return false
	}
	o.record(ctx, t, to)
	return true
}

func (o *Overmind) record(ctx context.Context, t *ticket.Ticket, s ticket.Stage) {
	o.log.Debug("stage", zap.Stringer("ticket", t), zap.Stringer("stage", s))
	if err := o.opts.Recorder.Append(ctx, "ticket.stage", t.ID, o.Identity().String(), events.EventPayload{"stage": s.String()}); err != nil {
		o.log.Warn("record stage", zap.Error(err))
	}
}
