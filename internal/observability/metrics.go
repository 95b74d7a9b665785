// Package observability owns the Prometheus collectors shared across packages.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/activitysync/internal/domain"
)

var (
	// TierSends counts send attempts per tier and outcome (ok, error, skipped).
	TierSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitysync",
		Subsystem: "sender",
		Name:      "tier_sends_total",
		Help:      "Number of outbound messages handed to each delivery tier, by outcome.",
	}, []string{"tier", "kind", "outcome"})

	// ImmediateLatency observes tier-1 round trips.
	ImmediateLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "activitysync",
		Subsystem: "sender",
		Name:      "immediate_send_seconds",
		Help:      "Time spent waiting for the counterpart to acknowledge a tier-1 send.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	// Retries counts scheduled and fired retries.
	Retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitysync",
		Subsystem: "sender",
		Name:      "retries_total",
		Help:      "Number of delayed queue retries, labeled scheduled/fired/skipped.",
	}, []string{"stage"})

	// DecodeErrors counts inbound payloads that could not be decoded.
	DecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitysync",
		Subsystem: "receiver",
		Name:      "decode_errors_total",
		Help:      "Number of inbound payloads dropped because they could not be decoded.",
	}, []string{"tier"})

	// Received counts decoded inbound messages.
	Received = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitysync",
		Subsystem: "receiver",
		Name:      "messages_received_total",
		Help:      "Number of decoded inbound messages by tier and kind.",
	}, []string{"tier", "kind"})

	// SnapshotsApplied counts reconciliation outcomes.
	SnapshotsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitysync",
		Subsystem: "reconcile",
		Name:      "snapshots_total",
		Help:      "Number of snapshots reconciled, labeled applied/duplicate/stale.",
	}, []string{"result"})

	// Commands counts commands handled by the authoritative side.
	Commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitysync",
		Subsystem: "session",
		Name:      "commands_total",
		Help:      "Number of inbound commands, labeled by name and whether they changed state.",
	}, []string{"command", "result"})

	runStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "activitysync",
		Subsystem: "engine",
		Name:      "run_state",
		Help:      "1 for the current run state of the local engine, 0 otherwise.",
	}, []string{"state"})

	reachableGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activitysync",
		Subsystem: "transport",
		Name:      "peer_reachable",
		Help:      "1 while the counterpart peer is reachable.",
	})

	completedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activitysync",
		Subsystem: "history",
		Name:      "last_activity_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed activity persisted.",
	})
)

func init() {
	prometheus.MustRegister(TierSends, ImmediateLatency, Retries, DecodeErrors, Received, SnapshotsApplied, Commands, runStateGauge, reachableGauge, completedGauge)
}

var runStates = []domain.RunState{domain.RunIdle, domain.RunCountdown, domain.RunRunning, domain.RunPaused, domain.RunCompleted}

// RecordRunState flips the run-state gauge.
func RecordRunState(state domain.RunState) {
	for _, s := range runStates {
		v := 0.0
		if s == state {
			v = 1
		}
		runStateGauge.WithLabelValues(string(s)).Set(v)
	}
}

// RecordReachability updates the reachability gauge.
func RecordReachability(reachable bool) {
	if reachable {
		reachableGauge.Set(1)
		return
	}
	reachableGauge.Set(0)
}

// RecordActivityCompleted updates the history watermark.
func RecordActivityCompleted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	completedGauge.Set(float64(ts.Unix()))
}
