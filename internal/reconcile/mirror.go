// Package reconcile keeps the non-authoritative peer's copy of a run in step
// with the snapshots it receives.
package reconcile

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/observability"
)

// Outcome reports how a snapshot changed the mirror.
type Outcome struct {
	// Applied is false when the snapshot was a duplicate or stale.
	Applied bool
	// Duplicate is set when the snapshot matched the mirrored one exactly.
	Duplicate bool
	// Stale is set when an older snapshot of the same run was rejected.
	Stale bool
	// Changed is set when the mirrored state differs from before.
	Changed bool
	// JustStarted is set when the active task changed or the run became active.
	JustStarted bool
	// Paused is the resolved pause flag of the active task.
	Paused bool
	// Completed is set when the mirrored activity is complete.
	Completed bool
	// JustCompleted is set on the transition into completion.
	JustCompleted bool
}

// Mirror is the receiver-side copy of the counterpart's run. It is not safe
// for concurrent use; the owning event loop serializes access.
type Mirror struct {
	snap    domain.Snapshot
	encoded []byte
	has     bool

	// lastRun and lastSeq outlive Reset so late copies of a finished run
	// stay stale.
	lastRun string
	lastSeq uint64

	progress  float64
	displayAt time.Time
}

// New returns an empty Mirror.
func New() *Mirror { return &Mirror{} }

// ApplySnapshot replaces the mirrored state with s. A snapshot of the same
// run with a sequence at or below the applied one is rejected as stale; one
// without a sequence always overwrites.
func (m *Mirror) ApplySnapshot(s domain.Snapshot, now time.Time) Outcome {
	encoded, err := json.Marshal(s)
	if err != nil {
		encoded = nil
	}

	if m.has && encoded != nil && bytes.Equal(encoded, m.encoded) {
		observability.SnapshotsApplied.WithLabelValues("duplicate").Inc()
		return Outcome{
			Duplicate: true,
			Paused:    m.snap.Paused(),
			Completed: completed(m.snap),
		}
	}

	if s.Sequence != 0 && s.RunID != "" && s.RunID == m.lastRun && s.Sequence <= m.lastSeq {
		observability.SnapshotsApplied.WithLabelValues("stale").Inc()
		return Outcome{
			Stale:     true,
			Paused:    m.snap.Paused(),
			Completed: completed(m.snap),
		}
	}

	prev, had := m.snap, m.has
	m.snap = s.Clone()
	m.encoded = encoded
	m.has = true
	if s.RunID != "" && s.Sequence != 0 {
		m.lastRun, m.lastSeq = s.RunID, s.Sequence
	}
	m.rebase(now)
	observability.SnapshotsApplied.WithLabelValues("applied").Inc()

	out := Outcome{
		Applied:   true,
		Changed:   true,
		Paused:    s.Paused(),
		Completed: completed(s),
	}
	active := running(s) || s.RunState == domain.RunPaused
	switch {
	case !had:
		out.JustStarted = active
	case prev.RunID != s.RunID && s.RunID != "":
		out.JustStarted = active
	case prev.CurrentTaskIndex != s.CurrentTaskIndex:
		out.JustStarted = active
	case !running(prev) && prev.RunState != domain.RunPaused && active:
		out.JustStarted = true
	}
	out.JustCompleted = out.Completed && (!had || !completed(prev))
	return out
}

func (m *Mirror) rebase(now time.Time) {
	m.displayAt = now
	m.progress = 0
	if task, ok := m.snap.ActiveTask(); ok {
		m.progress = task.Progress
	}
}

// Tick advances the displayed progress of a running timed task. It never
// writes back into the mirrored snapshot; the next snapshot rebases it. The
// return value reports whether the displayed whole second changed.
func (m *Mirror) Tick(now time.Time) bool {
	if !m.has {
		return false
	}
	delta := now.Sub(m.displayAt)
	m.displayAt = now
	if delta <= 0 || !running(m.snap) || m.snap.Paused() {
		return false
	}
	task, ok := m.snap.ActiveTask()
	if !ok || task.Kind != domain.KindTimed || task.IsCompleted {
		return false
	}

	before := math.Floor(m.progress)
	m.progress = math.Min(m.progress+delta.Seconds(), float64(task.Duration))
	return math.Floor(m.progress) != before
}

// Snapshot returns a copy of the mirrored snapshot.
func (m *Mirror) Snapshot() (domain.Snapshot, bool) {
	if !m.has {
		return domain.Snapshot{}, false
	}
	return m.snap.Clone(), true
}

// Progress returns the displayed progress of the active task.
func (m *Mirror) Progress() float64 { return m.progress }

// Remaining returns the displayed remaining time or repetitions of the
// active task.
func (m *Mirror) Remaining() float64 {
	task, ok := m.snap.ActiveTask()
	if !m.has || !ok {
		return 0
	}
	return math.Max(float64(task.Duration)-m.progress, 0)
}

// Reset forgets the mirrored run. The id and sequence of the last applied
// snapshot are kept, so older snapshots of that run are still rejected.
func (m *Mirror) Reset() {
	*m = Mirror{lastRun: m.lastRun, lastSeq: m.lastSeq}
}

func running(s domain.Snapshot) bool {
	if s.RunState != "" {
		return s.RunState == domain.RunRunning
	}
	if s.Activity.IsCompleted {
		return false
	}
	_, ok := s.ActiveTask()
	return ok
}

func completed(s domain.Snapshot) bool {
	return s.RunState == domain.RunCompleted || s.Activity.IsCompleted
}
