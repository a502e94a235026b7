package session

import (
	"sync"
	"time"
)

// DefaultCoalesceInterval batches PTY output at roughly one frame.
const DefaultCoalesceInterval = 16 * time.Millisecond

// Coalescer batches bursts of session output so consumers receive one
// delivery per flush interval instead of one per read. Chunks for a session
// are concatenated in arrival order; delivery order follows flush order.
type Coalescer struct {
	interval time.Duration
	deliver  func(id ID, data []byte)

	mu      sync.Mutex
	pending map[ID]*pendingOutput
	closed  bool
}

type pendingOutput struct {
	data  []byte
	timer *time.Timer

	// queue holds swapped-out buffers awaiting delivery. Only one goroutine
	// drains it at a time so deliveries for a session never reorder.
	queue      [][]byte
	delivering bool
}

// NewCoalescer creates a coalescer that calls deliver at most once per
// interval per session while output is flowing.
func NewCoalescer(interval time.Duration, deliver func(id ID, data []byte)) *Coalescer {
	if interval <= 0 {
		interval = DefaultCoalesceInterval
	}

	return &Coalescer{
		interval: interval,
		deliver:  deliver,
		pending:  make(map[ID]*pendingOutput),
	}
}

// Add appends data to the session's pending buffer. The first chunk after a
// flush arms the flush timer; subsequent chunks ride the same timer.
func (c *Coalescer) Add(id ID, data []byte) {
	if len(data) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	p, ok := c.pending[id]
	if !ok {
		p = &pendingOutput{}
		c.pending[id] = p
	}

	p.data = append(p.data, data...)

	if p.timer == nil {
		p.timer = time.AfterFunc(c.interval, func() { c.flush(id) })
	}
}

// flush moves the pending buffer onto the session's delivery queue and
// drains the queue unless another goroutine already is. Queueing under the
// lock and draining from a single goroutine keeps delivery order equal to
// flush order even when a timer flush and a forced Flush race.
func (c *Coalescer) flush(id ID) {
	c.mu.Lock()

	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()

		return
	}

	p.timer = nil

	if len(p.data) > 0 {
		p.queue = append(p.queue, p.data)
		p.data = nil
	}

	if p.delivering || len(p.queue) == 0 {
		c.mu.Unlock()

		return
	}

	p.delivering = true

	for len(p.queue) > 0 {
		data := p.queue[0]
		p.queue = p.queue[1:]

		c.mu.Unlock()
		c.deliver(id, data)
		c.mu.Lock()
	}

	p.delivering = false
	c.mu.Unlock()
}

// Flush forces immediate delivery of any pending output for the session.
func (c *Coalescer) Flush(id ID) {
	c.mu.Lock()
	if p, ok := c.pending[id]; ok && p.timer != nil {
		p.timer.Stop()
	}
	c.mu.Unlock()

	c.flush(id)
}

// DropSession discards pending output and stops the timer for a session.
func (c *Coalescer) DropSession(id ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[id]; ok && p.timer != nil {
		p.timer.Stop()
	}

	delete(c.pending, id)
}

// Close stops all timers and drops everything still pending.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	for id, p := range c.pending {
		if p.timer != nil {
			p.timer.Stop()
		}

		delete(c.pending, id)
	}
}
