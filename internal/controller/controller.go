// Package controller runs capability discovery at startup and supervises the
// lifecycle of every room engine.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"alixia/internal/capability"
	"alixia/internal/dialog"
	"alixia/internal/document"
	"alixia/internal/identity"
	"alixia/internal/registry"
	"alixia/internal/room"
	"alixia/internal/ticket"
)

// Options configure discovery diagnostics.
type Options struct {
	Catalog     capability.Catalog
	ShowOrphans bool
}

// Controller broadcasts the discovery request, folds the advertisements into
// the routing table and publishes it.
type Controller struct {
	room.Nop
	opts Options
	log  *zap.Logger

	engine    *room.Engine
	published chan struct{}
	once      sync.Once
	report    Report
}

// Report summarizes the last discovery.
type Report struct {
	Rooms   int               `json:"rooms"`
	Routes  int               `json:"routes"`
	Unknown []capability.Name `json:"unknown,omitempty"`
	Orphans []capability.Name `json:"orphans,omitempty"`
}

func New(opts Options, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Catalog == nil {
		opts.Catalog = capability.Reserved()
	}
	return &Controller{opts: opts, log: log.Named("controller"), published: make(chan struct{})}
}

func (c *Controller) Identity() identity.Room { return identity.Controller }

func (c *Controller) Capabilities() []capability.Name {
	return []capability.Name{capability.WhatCapabilities}
}

// CreateResult is never offered anything: discovery is answered by the engine.
func (c *Controller) CreateResult(context.Context, *ticket.CapabilityPackage, *document.Request) (ticket.Result, error) {
	return nil, nil
}

func (c *Controller) OnStart(_ context.Context, e *room.Engine) error {
	c.engine = e
	return nil
}

// Discover sends the discovery request and waits until the routing table is
// published. It must run after every room engine is running.
func (c *Controller) Discover(ctx context.Context) (Report, error) {
	if c.engine == nil {
		return Report{}, room.ErrNotRunning
	}
	t, err := ticket.New(ctx, c.engine.IDs(), dialog.Request{ClientID: identity.Controller.String()})
	if err != nil {
		return Report{}, err
	}
	if _, err := c.engine.Ask(ctx, t, "what capabilities", nil, capability.WhatCapabilities); err != nil {
		return Report{}, fmt.Errorf("discovery: %w", err)
	}
	select {
	case <-c.published:
		return c.report, nil
	case <-ctx.Done():
		return Report{}, fmt.Errorf("discovery: %w", ctx.Err())
	}
}

// Published is closed once the routing table is installed.
func (c *Controller) Published() <-chan struct{} { return c.published }

func (c *Controller) ProcessResponses(ctx context.Context, req *document.Request, resps []*document.Response) {
	b := registry.NewBuilder()
	for _, resp := range resps {
		for _, rp := range resp.Results {
			set, ok := rp.Result.(ticket.CapabilitySet)
			if !ok {
				continue
			}
			b.Add(set.Room, set.Names...)
		}
	}
	table := b.Build()
	unknown, orphans := table.Validate(c.opts.Catalog)
	for _, n := range unknown {
		c.log.Error("capability not in catalog", zap.Stringer("capability", n), zap.Any("rooms", table.RoomsFor(n)))
	}
	if c.opts.ShowOrphans {
		for _, n := range orphans {
			c.log.Warn("capability has no room", zap.Stringer("capability", n))
		}
	}
	reg := c.engine.Registry()
	if err := reg.Publish(table); err != nil {
		c.log.Error("publish routing table", zap.Error(err))
	}
	req.Ticket().Close()
	c.report = Report{Rooms: len(resps), Routes: len(table.Names()), Unknown: unknown, Orphans: orphans}
	c.log.Info("routing table published",
		zap.Int("rooms", c.report.Rooms),
		zap.Int("capabilities", c.report.Routes))
	if err := c.engine.Announce(ctx, nil, document.EventStarted, c.report); err != nil {
		c.log.Warn("announce startup", zap.Error(err))
	}
	c.once.Do(func() { close(c.published) })
}

// StartAll starts every engine concurrently. If any fails, the ones that
// started are stopped again.
func StartAll(ctx context.Context, log *zap.Logger, reg *registry.Registry, engines ...*room.Engine) error {
	if log == nil {
		log = zap.NewNop()
	}
	for _, missing := range reg.Missing() {
		log.Warn("room defined but not implemented", zap.Stringer("room", missing))
	}
	var mu sync.Mutex
	var started []*room.Engine
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range engines {
		g.Go(func() error {
			begin := time.Now()
			if err := e.Start(gctx); err != nil {
				return err
			}
			mu.Lock()
			started = append(started, e)
			mu.Unlock()
			log.Info("room started",
				zap.Stringer("room", e.Identity()),
				zap.Duration("took", time.Since(begin)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = StopAll(context.WithoutCancel(ctx), started...)
		return err
	}
	return nil
}

// StopAll stops every engine concurrently and returns the first error.
func StopAll(ctx context.Context, engines ...*room.Engine) error {
	var g errgroup.Group
	for _, e := range engines {
		g.Go(func() error { return e.Stop(ctx) })
	}
	return g.Wait()
}
