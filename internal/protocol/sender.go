package protocol

import (
	"context"
	"log"
	"sync"
	"time"

	"example.com/activitysync/internal/observability"
	"example.com/activitysync/internal/transport"
)

// DefaultRetryDelay is the delay before the single queue retry.
const DefaultRetryDelay = 2 * time.Second

// Report describes what a Send did. Failures are never surfaced as errors.
type Report struct {
	Immediate      bool
	Queued         bool
	Mirrored       bool
	RetryScheduled bool
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithSenderLogger overrides the sender logger.
func WithSenderLogger(l *log.Logger) SenderOption {
	return func(s *Sender) { s.logger = l }
}

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) SenderOption {
	return func(s *Sender) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithDispatcher routes retry callbacks through post, typically the owning
// event loop. By default callbacks run on the timer goroutine.
func WithDispatcher(post func(func())) SenderOption {
	return func(s *Sender) { s.post = post }
}

// Sender applies the tiered delivery policy on top of a transport.Channel.
type Sender struct {
	ch         transport.Channel
	logger     *log.Logger
	retryDelay time.Duration
	post       func(func())

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// NewSender constructs a Sender.
func NewSender(ch transport.Channel, opts ...SenderOption) *Sender {
	s := &Sender{
		ch:         ch,
		logger:     log.New(log.Writer(), "[sender] ", log.LstdFlags),
		retryDelay: DefaultRetryDelay,
		post:       func(fn func()) { fn() },
		timers:     make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers m. While the counterpart is reachable the immediate tier is
// used and the others only on failure. While unreachable the message is
// written once to the queue, once to the latest-state tier unless transient,
// and a single queue retry is scheduled.
func (s *Sender) Send(ctx context.Context, m Message) Report {
	var rep Report
	payload, err := Encode(m)
	if err != nil {
		s.logger.Printf("encode %s: %v", m.Kind(), err)
		return rep
	}
	env := transport.Envelope{Topic: string(m.Kind()), Payload: payload, SentAt: time.Now().UTC()}
	kind := label(m)

	if s.ch.Reachable() {
		start := time.Now()
		err := s.ch.SendImmediate(ctx, env)
		if err == nil {
			observability.ImmediateLatency.Observe(time.Since(start).Seconds())
			observability.TierSends.WithLabelValues(transport.TierImmediate.String(), kind, "ok").Inc()
			rep.Immediate = true
			return rep
		}
		observability.TierSends.WithLabelValues(transport.TierImmediate.String(), kind, "error").Inc()
		s.logger.Printf("immediate send of %s failed, falling back: %v", kind, err)
		s.fallback(ctx, m, env, kind, &rep)
		return rep
	}

	observability.TierSends.WithLabelValues(transport.TierImmediate.String(), kind, "skipped").Inc()
	s.fallback(ctx, m, env, kind, &rep)
	rep.RetryScheduled = s.scheduleRetry(env, kind)
	return rep
}

func (s *Sender) fallback(ctx context.Context, m Message, env transport.Envelope, kind string, rep *Report) {
	rep.Queued = s.enqueue(ctx, env, kind)
	if Transient(m) {
		return
	}
	if err := s.ch.UpdateContext(ctx, env); err != nil {
		observability.TierSends.WithLabelValues(transport.TierMirror.String(), kind, "error").Inc()
		s.logger.Printf("context update of %s failed: %v", kind, err)
		return
	}
	observability.TierSends.WithLabelValues(transport.TierMirror.String(), kind, "ok").Inc()
	rep.Mirrored = true
}

func (s *Sender) enqueue(ctx context.Context, env transport.Envelope, kind string) bool {
	if err := s.ch.Enqueue(ctx, env); err != nil {
		observability.TierSends.WithLabelValues(transport.TierQueue.String(), kind, "error").Inc()
		s.logger.Printf("enqueue of %s failed: %v", kind, err)
		return false
	}
	observability.TierSends.WithLabelValues(transport.TierQueue.String(), kind, "ok").Inc()
	return true
}

func (s *Sender) scheduleRetry(env transport.Envelope, kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	var timer *time.Timer
	timer = time.AfterFunc(s.retryDelay, func() {
		s.mu.Lock()
		_, pending := s.timers[timer]
		delete(s.timers, timer)
		s.mu.Unlock()
		if !pending {
			return
		}
		s.post(func() { s.fireRetry(env, kind) })
	})
	s.timers[timer] = struct{}{}
	observability.Retries.WithLabelValues("scheduled").Inc()
	return true
}

func (s *Sender) fireRetry(env transport.Envelope, kind string) {
	if s.ch.Reachable() {
		observability.Retries.WithLabelValues("skipped").Inc()
		return
	}
	observability.Retries.WithLabelValues("fired").Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.enqueue(ctx, env, kind)
}

// PendingRetries returns the number of scheduled retries that have not fired.
func (s *Sender) PendingRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close cancels pending retries.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for t := range s.timers {
		t.Stop()
		delete(s.timers, t)
	}
}

func label(m Message) string {
	if cmd, ok := m.(Command); ok {
		return string(cmd.Name)
	}
	return string(m.Kind())
}
