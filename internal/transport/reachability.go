package transport

import (
	"context"
	"sync"
	"time"

	"example.com/activitysync/internal/observability"
)

// DefaultReachabilityPollInterval is how often an unreachable peer is re-probed.
const DefaultReachabilityPollInterval = 5 * time.Second

// ReachabilityMonitor tracks the counterpart's reachability from push
// notifications and a polling fallback that only probes while unreachable,
// which recovers from missed change notifications.
type ReachabilityMonitor struct {
	probe    func(context.Context) bool
	interval time.Duration
	onChange func(bool)

	mu        sync.Mutex
	reachable bool
}

// NewReachabilityMonitor constructs a monitor. onChange is invoked outside the
// monitor's lock whenever the value flips.
func NewReachabilityMonitor(probe func(context.Context) bool, interval time.Duration, onChange func(bool)) *ReachabilityMonitor {
	if interval <= 0 {
		interval = DefaultReachabilityPollInterval
	}
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &ReachabilityMonitor{probe: probe, interval: interval, onChange: onChange}
}

// Reachable returns the last known value.
func (m *ReachabilityMonitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Set records a pushed reachability value.
func (m *ReachabilityMonitor) Set(reachable bool) {
	m.mu.Lock()
	changed := m.reachable != reachable
	m.reachable = reachable
	m.mu.Unlock()

	if changed {
		observability.RecordReachability(reachable)
		m.onChange(reachable)
	}
}

// Check probes the counterpart and records the result.
func (m *ReachabilityMonitor) Check(ctx context.Context) bool {
	if m.probe == nil {
		return m.Reachable()
	}
	ok := m.probe(ctx)
	m.Set(ok)
	return ok
}

// Run performs an initial probe and then polls while unreachable. It blocks
// until ctx is done.
func (m *ReachabilityMonitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.Reachable() {
				m.Check(ctx)
			}
		}
	}
}
