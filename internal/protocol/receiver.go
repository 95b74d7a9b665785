package protocol

import (
	"context"
	"log"
	"time"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/observability"
	"example.com/activitysync/internal/transport"
)

// EventKind tags an inbound Event.
type EventKind int

const (
	EventSnapshot EventKind = iota + 1
	EventCommand
	EventList
	EventReachability
)

func (k EventKind) String() string {
	switch k {
	case EventSnapshot:
		return "snapshot"
	case EventCommand:
		return "command"
	case EventList:
		return "activityList"
	case EventReachability:
		return "reachability"
	default:
		return "unknown"
	}
}

// Event is one decoded inbound occurrence.
type Event struct {
	Kind       EventKind
	Tier       transport.Tier
	Snapshot   domain.Snapshot
	Command    Command
	Activities []domain.Activity
	Reachable  bool
	SentAt     time.Time
	ReceivedAt time.Time
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverLogger overrides the receiver logger.
func WithReceiverLogger(l *log.Logger) ReceiverOption {
	return func(r *Receiver) { r.logger = l }
}

// Receiver turns channel deliveries into a single Event stream. Payloads that
// fail to decode are logged, counted and dropped.
type Receiver struct {
	ch     transport.Channel
	logger *log.Logger
	events chan Event
}

// NewReceiver constructs a Receiver.
func NewReceiver(ch transport.Channel, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		ch:     ch,
		logger: log.New(log.Writer(), "[receiver] ", log.LstdFlags),
		events: make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Events returns the inbound stream. It is closed when Run returns.
func (r *Receiver) Events() <-chan Event { return r.events }

// Run pumps deliveries until ctx is done.
func (r *Receiver) Run(ctx context.Context) error {
	defer close(r.events)
	deliveries := r.ch.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return transport.ErrClosed
			}
			evt, ok := r.translate(d)
			if !ok {
				continue
			}
			select {
			case r.events <- evt:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (r *Receiver) translate(d transport.Delivery) (Event, bool) {
	now := time.Now().UTC()
	if d.IsReachability() {
		return Event{Kind: EventReachability, Reachable: *d.Reachability, ReceivedAt: now}, true
	}

	tier := d.Tier.String()
	msg, err := Decode(d.Envelope.Payload)
	if err != nil {
		observability.DecodeErrors.WithLabelValues(tier).Inc()
		r.logger.Printf("dropping %s payload on topic %q: %v", tier, d.Envelope.Topic, err)
		return Event{}, false
	}

	evt := Event{Tier: d.Tier, SentAt: d.Envelope.SentAt, ReceivedAt: now}
	switch m := msg.(type) {
	case Snapshot:
		evt.Kind = EventSnapshot
		evt.Snapshot = m.Snapshot
	case List:
		evt.Kind = EventList
		evt.Activities = m.Activities
	case Command:
		evt.Kind = EventCommand
		evt.Command = m
	}
	observability.Received.WithLabelValues(tier, evt.Kind.String()).Inc()
	return evt, true
}
