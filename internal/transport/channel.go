// Package transport abstracts the bidirectional peer link and its three
// delivery tiers: immediate, durable queue and latest-state mirror.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrUnreachable is returned by tier-1 sends while the counterpart is not reachable.
var ErrUnreachable = errors.New("peer unreachable")

// ErrClosed is returned after the channel was closed.
var ErrClosed = errors.New("transport closed")

// Tier identifies a delivery path.
type Tier int

const (
	TierImmediate Tier = iota + 1
	TierQueue
	TierMirror
)

// String returns the metric label for the tier.
func (t Tier) String() string {
	switch t {
	case TierImmediate:
		return "immediate"
	case TierQueue:
		return "queue"
	case TierMirror:
		return "mirror"
	default:
		return "unknown"
	}
}

// Envelope carries one encoded message.
type Envelope struct {
	Topic   string
	Payload []byte
	SentAt  time.Time
}

// Delivery is one inbound item: either a payload received on a tier or a
// reachability change.
type Delivery struct {
	Tier         Tier
	Envelope     Envelope
	Reachability *bool
}

// IsReachability reports whether the delivery is a reachability change.
func (d Delivery) IsReachability() bool { return d.Reachability != nil }

// Channel is the peer link seen by the synchronization protocol.
type Channel interface {
	// Reachable reports the last known reachability of the counterpart.
	Reachable() bool
	// SendImmediate delivers on tier 1 and waits for the counterpart's acknowledgment.
	SendImmediate(ctx context.Context, env Envelope) error
	// Enqueue hands the envelope to the durable queue tier.
	Enqueue(ctx context.Context, env Envelope) error
	// UpdateContext replaces the single-slot value kept for env.Topic.
	UpdateContext(ctx context.Context, env Envelope) error
	// Deliveries streams inbound payloads and reachability changes.
	Deliveries() <-chan Delivery
	// CheckReachability re-probes the counterpart.
	CheckReachability(ctx context.Context) bool
	Close() error
}

// Immediate is a tier-1 implementation.
type Immediate interface {
	Send(ctx context.Context, env Envelope) error
	Probe(ctx context.Context) bool
}

// Queue is a tier-2 implementation. Run pushes received envelopes into sink
// until ctx is done.
type Queue interface {
	Enqueue(ctx context.Context, env Envelope) error
	Run(ctx context.Context, sink func(Envelope)) error
	Close() error
}

// Mirror is a tier-3 implementation. Run pushes every newer slot value into
// sink until ctx is done.
type Mirror interface {
	Put(ctx context.Context, env Envelope) error
	Run(ctx context.Context, sink func(Envelope)) error
}
