package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrTierUnavailable is returned when a tier has no implementation configured.
var ErrTierUnavailable = errors.New("delivery tier not configured")

// CompositeOption configures a Composite.
type CompositeOption func(*Composite)

// WithLogger overrides the composite logger.
func WithLogger(l *log.Logger) CompositeOption {
	return func(c *Composite) { c.logger = l }
}

// WithPollInterval overrides the reachability polling interval.
func WithPollInterval(d time.Duration) CompositeOption {
	return func(c *Composite) { c.pollInterval = d }
}

// WithBuffer sets the inbound delivery buffer size.
func WithBuffer(n int) CompositeOption {
	return func(c *Composite) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// Composite assembles independent tier implementations into a Channel.
type Composite struct {
	immediate    Immediate
	queue        Queue
	mirror       Mirror
	monitor      *ReachabilityMonitor
	logger       *log.Logger
	pollInterval time.Duration
	buffer       int

	deliveries chan Delivery
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewComposite constructs a Composite. Any tier may be nil.
func NewComposite(immediate Immediate, queue Queue, mirror Mirror, opts ...CompositeOption) *Composite {
	c := &Composite{
		immediate:    immediate,
		queue:        queue,
		mirror:       mirror,
		logger:       log.New(log.Writer(), "[transport] ", log.LstdFlags),
		pollInterval: DefaultReachabilityPollInterval,
		buffer:       256,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.deliveries = make(chan Delivery, c.buffer)

	var probe func(context.Context) bool
	if immediate != nil {
		probe = immediate.Probe
	}
	c.monitor = NewReachabilityMonitor(probe, c.pollInterval, func(reachable bool) {
		value := reachable
		c.push(context.Background(), Delivery{Reachability: &value})
	})
	return c
}

// Start launches the receiving side of the queue and mirror tiers and the
// reachability monitor. It returns immediately.
func (c *Composite) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-c.done
		cancel()
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.monitor.Run(ctx)
	}()

	if c.queue != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.queue.Run(ctx, c.sink(ctx, TierQueue)); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Printf("queue receiver stopped: %v", err)
			}
		}()
	}

	if c.mirror != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.mirror.Run(ctx, c.sink(ctx, TierMirror)); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Printf("mirror receiver stopped: %v", err)
			}
		}()
	}
}

func (c *Composite) sink(ctx context.Context, tier Tier) func(Envelope) {
	return func(env Envelope) {
		c.push(ctx, Delivery{Tier: tier, Envelope: env})
	}
}

// Receive accepts a tier-1 payload pushed by the counterpart. Receiving
// anything proves the counterpart is reachable.
func (c *Composite) Receive(ctx context.Context, env Envelope) error {
	c.monitor.Set(true)
	if !c.push(ctx, Delivery{Tier: TierImmediate, Envelope: env}) {
		return ErrClosed
	}
	return nil
}

func (c *Composite) push(ctx context.Context, d Delivery) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.deliveries <- d:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// Reachable implements Channel.
func (c *Composite) Reachable() bool { return c.monitor.Reachable() }

// CheckReachability implements Channel.
func (c *Composite) CheckReachability(ctx context.Context) bool { return c.monitor.Check(ctx) }

// SendImmediate implements Channel. A failed send marks the peer unreachable
// so the polling fallback takes over.
func (c *Composite) SendImmediate(ctx context.Context, env Envelope) error {
	if c.immediate == nil {
		return ErrTierUnavailable
	}
	if !c.monitor.Reachable() {
		return ErrUnreachable
	}
	if err := c.immediate.Send(ctx, env); err != nil {
		c.monitor.Set(false)
		return fmt.Errorf("immediate send: %w", err)
	}
	return nil
}

// Enqueue implements Channel.
func (c *Composite) Enqueue(ctx context.Context, env Envelope) error {
	if c.queue == nil {
		return ErrTierUnavailable
	}
	return c.queue.Enqueue(ctx, env)
}

// UpdateContext implements Channel.
func (c *Composite) UpdateContext(ctx context.Context, env Envelope) error {
	if c.mirror == nil {
		return ErrTierUnavailable
	}
	return c.mirror.Put(ctx, env)
}

// Deliveries implements Channel.
func (c *Composite) Deliveries() <-chan Delivery { return c.deliveries }

// Close stops receivers and closes the queue tier.
func (c *Composite) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		if c.queue != nil {
			err = c.queue.Close()
		}
	})
	return err
}
