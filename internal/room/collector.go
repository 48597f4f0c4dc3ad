package room

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"alixia/internal/document"
)

// collector owns the fan-in of one outstanding request. Deliveries feed it
// through inbox; it alone counts, so no lock guards the accumulation.
type collector struct {
	req      *document.Request
	expected int
	inbox    chan *document.Response
	done     chan struct{}
	abort    chan struct{}
	once     sync.Once
}

func newCollector(req *document.Request, expected int) *collector {
	return &collector{
		req:      req,
		expected: expected,
		inbox:    make(chan *document.Response),
		done:     make(chan struct{}),
		abort:    make(chan struct{}),
	}
}

// abandon stops the collector without processing.
func (c *collector) abandon() {
	c.once.Do(func() { close(c.abort) })
}

func (e *Engine) collect(c *collector) {
	defer e.inflight.Done()
	var timeout <-chan time.Time
	if e.opts.StallTimeout > 0 {
		timer := time.NewTimer(e.opts.StallTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	var got []*document.Response
	for len(got) < c.expected {
		select {
		case resp := <-c.inbox:
			got = append(got, resp)
		case <-timeout:
			e.retire(c)
			e.stall(c, got)
			return
		case <-c.abort:
			e.retire(c)
			return
		case <-e.quit:
			e.retire(c)
			return
		}
	}
	e.retire(c)
	e.stats.completed.Add(1)
	e.provider.ProcessResponses(e.ctx, c.req, got)
}

// retire removes c from the table before anything else can see a result, so
// late or duplicate responses are discarded rather than counted twice.
func (e *Engine) retire(c *collector) {
	e.pending.Delete(c.req.ID())
	close(c.done)
}

func (e *Engine) stall(c *collector, got []*document.Response) {
	e.stats.stalled.Add(1)
	e.log.Warn("request stalled",
		zap.Int64("request", c.req.ID()),
		zap.Stringer("ticket", c.req.Ticket()),
		zap.Int("received", len(got)),
		zap.Int("expected", c.expected),
		zap.Duration("timeout", e.opts.StallTimeout))
	if h, ok := e.provider.(StallHandler); ok {
		h.OnStall(e.ctx, c.req, got)
	}
}
