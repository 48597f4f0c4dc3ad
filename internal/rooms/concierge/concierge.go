// Package concierge answers everyday capabilities and the pipeline's
// built-in fallbacks.
package concierge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"alixia/internal/capability"
	"alixia/internal/dialog"
	"alixia/internal/document"
	"alixia/internal/identity"
	"alixia/internal/room"
	"alixia/internal/ticket"
)

const (
	TellTime  capability.Name = "tell_time"
	ShowClock capability.Name = "show_clock"
	SetTimer  capability.Name = "set_timer"
	Greet     capability.Name = "greet"
)

// Pusher delivers unsolicited answers.
type Pusher interface {
	Push(ctx context.Context, resp dialog.Response) error
}

type Options struct {
	Now func() time.Time
	// TimerUnit scales set_timer objects. Zero means seconds.
	TimerUnit time.Duration
}

type Concierge struct {
	room.Nop
	opts     Options
	log      *zap.Logger
	handlers room.Handlers

	mu     sync.Mutex
	pusher Pusher
	ctx    context.Context
	cancel context.CancelFunc
	timers map[*time.Timer]struct{}
}

func New(opts Options, log *zap.Logger) *Concierge {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TimerUnit <= 0 {
		opts.TimerUnit = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Concierge{opts: opts, log: log.Named("concierge"), timers: map[*time.Timer]struct{}{}}
	c.handlers = room.Handlers{
		capability.NothingToDo: c.nothing,
		capability.Unmatched:   c.unmatched,
		TellTime:               c.tellTime,
		ShowClock:              c.showClock,
		SetTimer:               c.setTimer,
		Greet:                  c.greet,
	}
	return c
}

func (c *Concierge) Identity() identity.Room         { return identity.Concierge }
func (c *Concierge) Capabilities() []capability.Name { return c.handlers.Names() }

func (c *Concierge) CreateResult(ctx context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	return c.handlers.Serve(ctx, pkg, req)
}

func (c *Concierge) OnStart(_ context.Context, e *room.Engine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pusher = e
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return nil
}

// OnStop cancels pending timers.
func (c *Concierge) OnStop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.timers {
		t.Stop()
	}
	c.timers = map[*time.Timer]struct{}{}
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Pending reports how many timers are armed.
func (c *Concierge) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Concierge) nothing(context.Context, *ticket.CapabilityPackage, *document.Request) (ticket.Result, error) {
	return ticket.Text{Msg: "I'm listening."}, nil
}

func (c *Concierge) unmatched(_ context.Context, _ *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	return ticket.Text{
		Msg:  "Sorry, I don't know how to help with that yet.",
		Expl: fmt.Sprintf("no room claimed %q", req.Message),
	}, nil
}

func (c *Concierge) tellTime(context.Context, *ticket.CapabilityPackage, *document.Request) (ticket.Result, error) {
	now := c.opts.Now()
	return ticket.Text{Msg: "It is " + now.Format("15:04") + ".", Expl: now.Format(time.RFC1123)}, nil
}

func (c *Concierge) showClock(context.Context, *ticket.CapabilityPackage, *document.Request) (ticket.Result, error) {
	return ticket.Media{Msg: "Here is the clock.", MIME: "image/svg+xml", Data: []byte(clockFace(c.opts.Now()))}, nil
}

func (c *Concierge) greet(_ context.Context, _ *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	if p := req.Ticket().PersonID; p != "" {
		return ticket.Text{Msg: "Hello, " + p + "!"}, nil
	}
	return ticket.Text{Msg: "Hello!"}, nil
}

func (c *Concierge) setTimer(_ context.Context, pkg *ticket.CapabilityPackage, req *document.Request) (ticket.Result, error) {
	n, err := strconv.Atoi(strings.Fields(pkg.Object + " x")[0])
	if err != nil || n <= 0 {
		return ticket.Text{Msg: "For how long should the timer run?"}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pusher == nil {
		return nil, room.ErrNotRunning
	}
	client := req.Ticket().ClientID
	// t is assigned under c.mu, which the callback takes before reading it.
	var t *time.Timer
	t = time.AfterFunc(time.Duration(n)*c.opts.TimerUnit, func() {
		c.mu.Lock()
		_, armed := c.timers[t]
		delete(c.timers, t)
		ctx, p := c.ctx, c.pusher
		c.mu.Unlock()
		if armed {
			c.fire(ctx, p, client, n)
		}
	})
	c.timers[t] = struct{}{}
	return ticket.Text{Msg: fmt.Sprintf("Timer set for %d seconds.", n)}, nil
}

func (c *Concierge) fire(ctx context.Context, p Pusher, client string, n int) {
	err := p.Push(ctx, dialog.Response{
		ToClient:   client,
		Message:    fmt.Sprintf("Your %d second timer is done.", n),
		Capability: capability.IndieResponse,
	})
	if err != nil {
		c.log.Warn("timer push failed", zap.String("client", client), zap.Error(err))
	}
}

func clockFace(now time.Time) string {
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 120 40"><text x="10" y="28" font-size="24">%s</text></svg>`, now.Format("15:04:05"))
}
