// Package engine assembles a running deployment: the hall, the room engines
// chosen by configuration, and the house clients talk to.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"alixia/internal/bus"
	"alixia/internal/config"
	"alixia/internal/controller"
	"alixia/internal/dialog"
	"alixia/internal/events"
	"alixia/internal/house"
	"alixia/internal/identity"
	"alixia/internal/overmind"
	"alixia/internal/registry"
	"alixia/internal/repo"
	"alixia/internal/room"
	"alixia/internal/rooms/concierge"
	"alixia/internal/rooms/frontdesk"
	"alixia/internal/rooms/historian"
	"alixia/internal/rooms/linguist"
	"alixia/internal/rooms/matcher"
	"alixia/internal/rooms/monitor"
)

var ErrNoImplementation = errors.New("room has no implementation")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time

	Hall       *bus.Hall
	Registry   *registry.Registry
	House      *house.House
	Controller *controller.Controller
	Historian  *historian.Historian
	Rooms      []*room.Engine
	Report     controller.Report
}

// New builds every enabled room plus extra. Nothing runs until Start.
func New(conn *sql.DB, cfg *config.Config, log *zap.Logger, extra ...room.Provider) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
		Hall:   bus.NewHall(log),
		House:  house.New(log),
	}
	enabled, err := cfg.EnabledRooms()
	if err != nil {
		return nil, err
	}
	var providers []room.Provider
	for _, id := range enabled {
		p, err := e.provider(id)
		if err != nil {
			return nil, fmt.Errorf("room %s: %w", id, err)
		}
		providers = append(providers, p)
	}
	providers = append(providers, extra...)

	implemented := make([]identity.Room, len(providers))
	seen := map[identity.Room]bool{}
	for i, p := range providers {
		if seen[p.Identity()] {
			return nil, fmt.Errorf("room %s enabled twice", p.Identity())
		}
		seen[p.Identity()] = true
		implemented[i] = p.Identity()
	}
	e.Registry = registry.New(implemented...)
	deps := room.Deps{Hall: e.Hall, Registry: e.Registry, IDs: e.Repo, Log: log}
	opts := room.Options{Workers: cfg.Pipeline.Workers, StallTimeout: cfg.Pipeline.StallTimeout.Std()}
	for _, p := range providers {
		e.Rooms = append(e.Rooms, room.NewEngine(p, deps, opts))
	}
	if e.Controller == nil {
		return nil, fmt.Errorf("room %s must be enabled", identity.Controller)
	}
	return e, nil
}

func (e *Engine) provider(id identity.Room) (room.Provider, error) {
	cfg := e.Config
	switch id {
	case identity.Monitor:
		return monitor.New(e.Events, e.Log), nil
	case identity.Overmind:
		return overmind.New(overmind.Options{Apology: cfg.Pipeline.Apology, Recorder: e.Events}, e.Log), nil
	case identity.Linguist:
		return linguist.New(nil), nil
	case identity.Matcher:
		return matcher.New(cfg.Matcher.Rules)
	case identity.Historian:
		e.Historian = historian.New(e.Repo, e.Log)
		return e.Historian, nil
	case identity.Concierge:
		return concierge.New(concierge.Options{Now: e.now}, e.Log), nil
	case identity.Frontdesk:
		f := frontdesk.New(e.House, cfg.Service.Name, cfg.Service.Version, e.Log)
		e.House.Bind(f)
		return f, nil
	case identity.Controller:
		e.Controller = controller.New(controller.Options{Catalog: cfg.Catalog(), ShowOrphans: cfg.Pipeline.ShowOrphans}, e.Log)
		return e.Controller, nil
	}
	return nil, ErrNoImplementation
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Start runs every room and waits for the routing table.
func (e *Engine) Start(ctx context.Context) error {
	begin := e.now()
	if err := controller.StartAll(ctx, e.Log, e.Registry, e.Rooms...); err != nil {
		return err
	}
	report, err := e.Controller.Discover(ctx)
	if err != nil {
		_ = e.Stop(context.WithoutCancel(ctx))
		return err
	}
	e.Report = report
	e.Log.Info("ready",
		zap.String("service", e.Config.Service.Name),
		zap.Int("rooms", report.Rooms),
		zap.Int("capabilities", report.Routes),
		zap.Duration("took", e.now().Sub(begin)))
	return nil
}

// Stop closes the house and stops every room.
func (e *Engine) Stop(ctx context.Context) error {
	e.House.Close()
	err := controller.StopAll(ctx, e.Rooms...)
	e.Hall.Close()
	return err
}

// Ask runs one client turn. Without a deadline on ctx the configured turn
// timeout applies.
func (e *Engine) Ask(ctx context.Context, req dialog.Request) (dialog.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		if d := e.Config.Server.TurnTimeout.Std(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}
	return e.House.Ask(ctx, req)
}

// Room returns the engine running id.
func (e *Engine) Room(id identity.Room) (*room.Engine, bool) {
	for _, r := range e.Rooms {
		if r.Identity() == id {
			return r, true
		}
	}
	return nil, false
}

// Stats reports traffic for every room.
func (e *Engine) Stats() []room.Stats {
	out := make([]room.Stats, len(e.Rooms))
	for i, r := range e.Rooms {
		out[i] = r.Stats()
	}
	return out
}
