package face

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/presence-data/facegate/internal/monitoring"
)

// Publisher broadcasts frame results to subscribers such as the
// display loop. Delivery is best effort: a subscriber that stops
// draining its channel loses frames, never blocks the pipeline.
type Publisher struct {
	mu      sync.RWMutex
	nextID  int
	clients map[int]chan []FrameResult

	published atomic.Uint64
	dropped   atomic.Uint64

	errMu   sync.Mutex
	lastErr error
	errs    chan error
}

// NewPublisher creates a publisher with no subscribers.
func NewPublisher() *Publisher {
	return &Publisher{
		clients: make(map[int]chan []FrameResult),
		errs:    make(chan error, 64),
	}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns its result channel plus a cancel function. Cancel closes the
// channel.
func (p *Publisher) Subscribe(buffer int) (<-chan []FrameResult, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan []FrameResult, buffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.clients[id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.clients[id]; ok {
			delete(p.clients, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish sends results to every subscriber without blocking. Each
// subscriber gets its own copy of the slice.
func (p *Publisher) Publish(results []FrameResult) {
	p.published.Add(1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, ch := range p.clients {
		out := make([]FrameResult, len(results))
		copy(out, results)
		select {
		case ch <- out:
		default:
			p.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a
// subscriber's buffer was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Published reports how many result sets were broadcast.
func (p *Publisher) Published() uint64 {
	return p.published.Load()
}

// ReportError records a non-fatal fault from the pipeline or a
// consumer. The fault is logged, retained as LastError, and delivered
// to the error channel with the same best-effort semantics as results.
func (p *Publisher) ReportError(context string, err error) {
	if err == nil {
		return
	}
	wrapped := fmt.Errorf("%s: %w", context, err)
	p.errMu.Lock()
	p.lastErr = wrapped
	p.errMu.Unlock()

	select {
	case p.errs <- wrapped:
	default:
	}
	monitoring.Logf("%s: %v", context, err)
}

// Errors exposes reported faults. The channel is never closed; faults
// arriving while the buffer is full are logged but not delivered.
func (p *Publisher) Errors() <-chan error {
	return p.errs
}

// LastError returns the most recent reported fault, if any.
func (p *Publisher) LastError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.lastErr
}
