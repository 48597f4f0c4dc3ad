package room

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"alixia/internal/bus"
	"alixia/internal/capability"
	"alixia/internal/dialog"
	"alixia/internal/document"
	"alixia/internal/identity"
	"alixia/internal/ids"
	"alixia/internal/registry"
	"alixia/internal/ticket"
)

var (
	ErrNotReady   = errors.New("room: document not ready")
	ErrForged     = errors.New("room: document origin does not match sender")
	ErrNotRunning = errors.New("room: not running")
)

// State is the engine lifecycle position.
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options tune one engine.
type Options struct {
	// Workers bounds concurrent CreateResult calls. Zero means GOMAXPROCS.
	Workers int
	// StallTimeout evicts a request whose fan-in has not completed. Zero
	// waits forever.
	StallTimeout time.Duration
}

// Deps are the shared services every engine needs.
type Deps struct {
	Hall     *bus.Hall
	Registry *registry.Registry
	IDs      ids.Allocator
	Log      *zap.Logger
}

// Engine runs one provider on the hall: it answers broadcast requests,
// correlates responses to the requests it sent, and guards what it posts.
type Engine struct {
	provider Provider
	id       identity.Room
	hall     *bus.Hall
	reg      *registry.Registry
	alloc    ids.Allocator
	log      *zap.Logger
	opts     Options

	frozen     []capability.Name
	advertised capability.Set

	mu       sync.RWMutex
	state    State
	starting bool
	inflight sync.WaitGroup
	sub      *bus.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	sem      *semaphore.Weighted

	pending sync.Map // request id -> *collector
	stats   counters
}

func NewEngine(p Provider, deps Deps, opts Options) *Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		provider: p,
		id:       p.Identity(),
		hall:     deps.Hall,
		reg:      deps.Registry,
		alloc:    deps.IDs,
		log:      log.Named("room").With(zap.Stringer("room", p.Identity())),
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
	}
}

func (e *Engine) Identity() identity.Room      { return e.id }
func (e *Engine) Provider() Provider           { return e.provider }
func (e *Engine) Registry() *registry.Registry { return e.reg }
func (e *Engine) IDs() ids.Allocator           { return e.alloc }
func (e *Engine) Logger() *zap.Logger          { return e.log }

// Capabilities returns the set frozen at Start.
func (e *Engine) Capabilities() []capability.Name {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]capability.Name(nil), e.frozen...)
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Start freezes the advertised capabilities, runs the provider's startup
// hook and subscribes to the hall.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Idle || e.starting {
		e.mu.Unlock()
		return fmt.Errorf("start %s: engine is %s", e.id, e.state)
	}
	e.starting = true
	e.advertised = capability.NewSet(e.provider.Capabilities()...)
	e.frozen = e.advertised.Sorted()
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.quit = make(chan struct{})
	e.mu.Unlock()

	if err := e.provider.OnStart(ctx, e); err != nil {
		e.cancel()
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
		return fmt.Errorf("start %s: %w", e.id, err)
	}

	e.mu.Lock()
	e.sub = e.hall.Subscribe(e.id.String(), e.deliver)
	e.state = Running
	e.starting = false
	e.mu.Unlock()
	e.log.Debug("started", zap.Int("capabilities", len(e.frozen)))
	return nil
}

// Stop runs the provider's shutdown hook, leaves the hall and drains work in
// flight. Requests still waiting for responses are abandoned.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Running {
		e.mu.Unlock()
		return nil
	}
	e.state = Stopping
	e.mu.Unlock()

	err := e.provider.OnStop(ctx)
	e.sub.Cancel()
	close(e.quit)
	e.cancel()
	e.inflight.Wait()

	e.mu.Lock()
	e.state = Terminated
	e.mu.Unlock()
	e.log.Debug("stopped")
	if err != nil {
		return fmt.Errorf("stop %s: %w", e.id, err)
	}
	return nil
}

// enter admits one unit of work while running.
func (e *Engine) enter() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != Running {
		return false
	}
	e.inflight.Add(1)
	return true
}

// NewRequest builds a request originating from this room.
func (e *Engine) NewRequest(ctx context.Context, t *ticket.Ticket, message string, payload any, pkgs ...*ticket.CapabilityPackage) (*document.Request, error) {
	id, err := e.alloc.Next(ctx, ids.Document)
	if err != nil {
		return nil, fmt.Errorf("allocate document: %w", err)
	}
	req := document.NewRequest(id, t, e.id)
	req.Message = message
	req.Payload = payload
	req.Packages = pkgs
	return req, nil
}

// Ask allocates default packages for names and sends them in one request.
func (e *Engine) Ask(ctx context.Context, t *ticket.Ticket, message string, payload any, names ...capability.Name) (*document.Request, error) {
	pkgs := make(ticket.Capabilities, 0, len(names))
	for _, n := range names {
		p, err := ticket.DefaultCapability(ctx, e.alloc, n)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
	}
	req, err := e.NewRequest(ctx, t, message, payload, pkgs...)
	if err != nil {
		return nil, err
	}
	return req, e.SendRequest(ctx, req)
}

// SendRequest broadcasts req and arranges for ProcessResponses to run once
// every implemented room has answered.
func (e *Engine) SendRequest(ctx context.Context, req *document.Request) error {
	if !e.enter() {
		return ErrNotRunning
	}
	defer e.inflight.Done()
	if err := e.check(req); err != nil {
		return err
	}
	c := newCollector(req, e.reg.ImplementedCount())
	e.pending.Store(req.ID(), c)
	e.inflight.Add(1)
	go e.collect(c)
	if err := e.hall.Post(req); err != nil {
		c.abandon()
		return fmt.Errorf("post request %d: %w", req.ID(), err)
	}
	e.stats.sent.Add(1)
	e.log.Debug("request sent",
		zap.Int64("request", req.ID()),
		zap.Stringer("ticket", req.Ticket()),
		zap.Any("capabilities", req.Packages.Names()),
		zap.Int("expected", c.expected))
	return nil
}

// Announce posts an uncorrelated event.
func (e *Engine) Announce(ctx context.Context, t *ticket.Ticket, evt document.Event, detail any) error {
	if !e.enter() {
		return ErrNotRunning
	}
	defer e.inflight.Done()
	id, err := e.alloc.Next(ctx, ids.Document)
	if err != nil {
		return fmt.Errorf("allocate document: %w", err)
	}
	a := document.NewAnnouncement(id, t, e.id, evt)
	a.Detail = detail
	if err := e.check(a); err != nil {
		return err
	}
	return e.hall.Post(a)
}

// Push delivers an unsolicited answer to a client on a fresh ticket.
func (e *Engine) Push(ctx context.Context, resp dialog.Response) error {
	t, err := ticket.New(ctx, e.alloc, dialog.Request{ClientID: resp.ToClient})
	if err != nil {
		return err
	}
	resp.TicketID = t.ID
	resp.Unsolicited = true
	_, err = e.Ask(ctx, t, resp.Message, resp, capability.IndieResponse)
	return err
}

// check rejects forged and unready documents before they reach the hall.
func (e *Engine) check(d document.Document) error {
	if d.Origin() != e.id {
		e.stats.rejected.Add(1)
		e.log.Error("refusing to post forged document",
			zap.Int64("document", d.ID()),
			zap.Stringer("kind", d.Kind()),
			zap.Stringer("claimed_origin", d.Origin()))
		return ErrForged
	}
	if !d.Ready() {
		e.stats.rejected.Add(1)
		e.log.Error("refusing to post unready document",
			zap.Int64("document", d.ID()),
			zap.Stringer("kind", d.Kind()))
		return ErrNotReady
	}
	return nil
}

func (e *Engine) deliver(d document.Document) {
	if !e.enter() {
		return
	}
	defer e.inflight.Done()
	if o, ok := e.provider.(Observer); ok {
		o.Observe(e.ctx, d)
	}
	switch doc := d.(type) {
	case *document.Response:
		if doc.RespondTo == e.id {
			e.accept(doc)
		}
	case *document.Announcement:
		e.provider.ProcessAnnouncement(e.ctx, doc)
	case *document.Request:
		e.answer(e.ctx, doc)
	}
}

// answer builds and posts this room's single response to req.
func (e *Engine) answer(ctx context.Context, req *document.Request) {
	id, err := e.alloc.Next(ctx, ids.Document)
	if err != nil {
		e.log.Error("allocate response id", zap.Error(err))
		return
	}
	resp := document.NewResponse(id, req, e.id)
	pkgs := req.Packages
	if what, rest := pkgs.Consume(capability.WhatCapabilities); what != nil {
		rp, err := ticket.NewResult(ctx, e.alloc, what, ticket.CapabilitySet{Room: e.id, Names: e.Capabilities()})
		if err != nil {
			e.log.Error("build capability set", zap.Error(err))
		} else {
			resp.Add(rp)
		}
		pkgs = rest
	}

	var accepted ticket.Capabilities
	for _, p := range pkgs {
		if e.advertised.Has(p.Name) {
			accepted = append(accepted, p)
		}
	}
	results := make([]*ticket.ResultPackage, len(accepted))
	var g errgroup.Group
	for i, p := range accepted {
		g.Go(func() error {
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer e.sem.Release(1)
			r, err := e.provider.CreateResult(ctx, p, req)
			if err != nil {
				e.stats.failed.Add(1)
				e.log.Warn("capability failed",
					zap.Stringer("capability", p.Name),
					zap.Stringer("ticket", req.Ticket()),
					zap.Error(err))
				return nil
			}
			if r == nil {
				e.stats.declined.Add(1)
				return nil
			}
			rp, err := ticket.NewResult(ctx, e.alloc, p, r)
			if err != nil {
				e.log.Error("build result", zap.Error(err))
				return nil
			}
			results[i] = rp
			return nil
		})
	}
	_ = g.Wait()
	for _, rp := range results {
		if rp != nil {
			resp.Add(rp)
		}
	}
	if err := e.check(resp); err != nil {
		return
	}
	if err := e.hall.Post(resp); err != nil {
		e.log.Debug("response not posted", zap.Int64("request", req.ID()), zap.Error(err))
	}
}

// accept hands a response to the collector waiting for it.
func (e *Engine) accept(resp *document.Response) {
	v, ok := e.pending.Load(resp.AnswersRequestID)
	if !ok {
		e.stats.discarded.Add(1)
		// Without a stall timeout nothing is evicted, so only a misbehaving
		// room can answer a request twice or answer one never sent.
		logf := e.log.Debug
		if e.opts.StallTimeout <= 0 {
			logf = e.log.Error
		}
		logf("discarding response for unknown request",
			zap.Int64("request", resp.AnswersRequestID),
			zap.Stringer("from", resp.Origin()))
		return
	}
	c := v.(*collector)
	select {
	case c.inbox <- resp:
		e.stats.received.Add(1)
	case <-c.done:
		e.stats.discarded.Add(1)
	}
}
