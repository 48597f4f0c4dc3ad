// Package bus is the in-process hall bus every room listens on.
package bus

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"alixia/internal/document"
)

// ErrClosed is returned by Post after Close.
var ErrClosed = errors.New("bus: hall closed")

// Handler receives documents. It runs on its own goroutine per delivery.
type Handler func(document.Document)

type subscriber struct {
	name string
	fn   Handler
}

// Hall delivers every posted document to every subscriber. Delivery is
// asynchronous and carries no ordering guarantee between subscribers. The
// hall does not validate documents.
type Hall struct {
	log *zap.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewHall(log *zap.Logger) *Hall {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hall{log: log.Named("hall"), subs: make(map[*subscriber]struct{})}
}

// Subscription removes its handler when cancelled.
type Subscription struct {
	hall *Hall
	sub  *subscriber
	once sync.Once
}

func (h *Hall) Subscribe(name string, fn Handler) *Subscription {
	sub := &subscriber{name: name, fn: fn}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("subscribed", zap.String("subscriber", name))
	return &Subscription{hall: h, sub: sub}
}

// Cancel unsubscribes. Deliveries already handed out still run.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hall.mu.Lock()
		delete(s.hall.subs, s.sub)
		s.hall.mu.Unlock()
		s.hall.log.Debug("unsubscribed", zap.String("subscriber", s.sub.name))
	})
}

// Post hands d to every current subscriber.
func (h *Hall) Post(d document.Document) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for sub := range h.subs {
		h.wg.Add(1)
		go func(fn Handler) {
			defer h.wg.Done()
			fn(d)
		}(sub.fn)
	}
	return nil
}

func (h *Hall) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close stops accepting posts and waits for deliveries in flight.
func (h *Hall) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.wg.Wait()
}
