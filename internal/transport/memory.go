package transport

import (
	"context"
	"sync"
)

// Link is an in-process connection between two endpoints. It honours the
// tier semantics: immediate delivery only while reachable, a durable backlog
// flushed on reconnection and one context slot per topic.
type Link struct {
	mu        sync.Mutex
	reachable bool
	immErr    error
	ends      [2]*Endpoint
}

// LinkStats counts writes per tier made through one endpoint.
type LinkStats struct {
	ImmediateSends int
	QueueWrites    int
	MirrorWrites   int
}

// Endpoint is one side of a Link and implements Channel.
type Endpoint struct {
	link       *Link
	side       int
	deliveries chan Delivery

	// guarded by link.mu
	backlog []Envelope
	slots   map[string]Envelope
	pending map[string]bool
	stats   LinkStats
	closed  bool
}

// NewPair returns two connected endpoints. The link starts reachable.
func NewPair() (*Endpoint, *Endpoint, *Link) {
	l := &Link{reachable: true}
	for i := range l.ends {
		l.ends[i] = &Endpoint{
			link:       l,
			side:       i,
			deliveries: make(chan Delivery, 1024),
			slots:      make(map[string]Envelope),
			pending:    make(map[string]bool),
		}
	}
	return l.ends[0], l.ends[1], l
}

// SetReachable flips reachability. Becoming reachable flushes queued
// envelopes and pending context slots to their receivers.
func (l *Link) SetReachable(reachable bool) {
	l.mu.Lock()
	if l.reachable == reachable {
		l.mu.Unlock()
		return
	}
	l.reachable = reachable

	var out [2][]Delivery
	for i, end := range l.ends {
		value := reachable
		out[i] = append(out[i], Delivery{Reachability: &value})
		if !reachable {
			continue
		}
		for _, env := range end.backlog {
			out[i] = append(out[i], Delivery{Tier: TierQueue, Envelope: env})
		}
		end.backlog = nil
		for topic := range end.pending {
			out[i] = append(out[i], Delivery{Tier: TierMirror, Envelope: end.slots[topic]})
		}
		end.pending = make(map[string]bool)
	}
	l.mu.Unlock()

	for i, end := range l.ends {
		end.deliver(out[i]...)
	}
}

// FailImmediate makes tier-1 sends fail with err while reachability stays
// unchanged. Pass nil to clear.
func (l *Link) FailImmediate(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.immErr = err
}

func (e *Endpoint) peer() *Endpoint { return e.link.ends[1-e.side] }

func (e *Endpoint) deliver(ds ...Delivery) {
	for _, d := range ds {
		e.deliveries <- d
	}
}

// Stats returns the writes made through this endpoint.
func (e *Endpoint) Stats() LinkStats {
	e.link.mu.Lock()
	defer e.link.mu.Unlock()
	return e.stats
}

// Reachable implements Channel.
func (e *Endpoint) Reachable() bool {
	e.link.mu.Lock()
	defer e.link.mu.Unlock()
	return e.link.reachable
}

// CheckReachability implements Channel.
func (e *Endpoint) CheckReachability(context.Context) bool { return e.Reachable() }

// SendImmediate implements Channel.
func (e *Endpoint) SendImmediate(ctx context.Context, env Envelope) error {
	e.link.mu.Lock()
	if e.closed {
		e.link.mu.Unlock()
		return ErrClosed
	}
	e.stats.ImmediateSends++
	if !e.link.reachable {
		e.link.mu.Unlock()
		return ErrUnreachable
	}
	if err := e.link.immErr; err != nil {
		e.link.mu.Unlock()
		return err
	}
	peer := e.peer()
	e.link.mu.Unlock()

	peer.deliver(Delivery{Tier: TierImmediate, Envelope: env})
	return nil
}

// Enqueue implements Channel.
func (e *Endpoint) Enqueue(ctx context.Context, env Envelope) error {
	e.link.mu.Lock()
	if e.closed {
		e.link.mu.Unlock()
		return ErrClosed
	}
	e.stats.QueueWrites++
	peer := e.peer()
	if !e.link.reachable {
		peer.backlog = append(peer.backlog, env)
		e.link.mu.Unlock()
		return nil
	}
	e.link.mu.Unlock()

	peer.deliver(Delivery{Tier: TierQueue, Envelope: env})
	return nil
}

// UpdateContext implements Channel.
func (e *Endpoint) UpdateContext(ctx context.Context, env Envelope) error {
	e.link.mu.Lock()
	if e.closed {
		e.link.mu.Unlock()
		return ErrClosed
	}
	e.stats.MirrorWrites++
	peer := e.peer()
	peer.slots[env.Topic] = env
	if !e.link.reachable {
		peer.pending[env.Topic] = true
		e.link.mu.Unlock()
		return nil
	}
	delete(peer.pending, env.Topic)
	e.link.mu.Unlock()

	peer.deliver(Delivery{Tier: TierMirror, Envelope: env})
	return nil
}

// Deliveries implements Channel.
func (e *Endpoint) Deliveries() <-chan Delivery { return e.deliveries }

// Close implements Channel.
func (e *Endpoint) Close() error {
	e.link.mu.Lock()
	defer e.link.mu.Unlock()
	e.closed = true
	return nil
}
