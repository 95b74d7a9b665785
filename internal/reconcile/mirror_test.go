package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/domain"
)

var t0 = time.Date(2026, 2, 10, 6, 30, 0, 0, time.UTC)

func runSnapshot(seq uint64, index int, progress float64, state domain.RunState) domain.Snapshot {
	taskState := domain.TaskRunning
	if state == domain.RunPaused {
		taskState = domain.TaskPaused
	}
	return domain.Snapshot{
		Activity: domain.Activity{
			ID:   "act-1",
			Name: "Intervals",
			Tasks: []domain.ActivityTask{
				{ID: "t1", Name: "Run", Kind: domain.KindTimed, Duration: 60, Progress: progress},
				{ID: "t2", Name: "Squats", Kind: domain.KindCount, Duration: 10},
			},
		},
		CurrentTaskIndex: index,
		RunState:         state,
		TaskState:        taskState,
		RunID:            "run-1",
		Origin:           "handheld",
		Sequence:         seq,
		AuthoredAt:       t0.Add(time.Duration(seq) * time.Second),
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	m := New()
	s := runSnapshot(1, 0, 5, domain.RunRunning)

	first := m.ApplySnapshot(s, t0)
	require.True(t, first.Applied)
	require.True(t, first.JustStarted)
	state1, _ := m.Snapshot()

	second := m.ApplySnapshot(s, t0.Add(time.Second))
	require.True(t, second.Duplicate)
	require.False(t, second.Changed)
	state2, _ := m.Snapshot()
	require.Equal(t, state1, state2)
}

func TestNewerSnapshotThenDuplicateOlderKeepsNewer(t *testing.T) {
	m := New()
	s1 := runSnapshot(1, 0, 5, domain.RunRunning)
	s2 := runSnapshot(2, 0, 9, domain.RunPaused)

	require.True(t, m.ApplySnapshot(s1, t0).Applied)
	require.True(t, m.ApplySnapshot(s2, t0).Applied)

	out := m.ApplySnapshot(s1, t0)
	require.True(t, out.Stale)
	require.True(t, out.Paused)

	got, ok := m.Snapshot()
	require.True(t, ok)
	require.Equal(t, uint64(2), got.Sequence)
	require.InDelta(t, 9, got.Activity.Tasks[0].Progress, 1e-9)
}

func TestResetKeepsOlderSnapshotsOfSameRunStale(t *testing.T) {
	m := New()
	running := runSnapshot(6, 0, 5, domain.RunRunning)
	idle := runSnapshot(7, 0, 0, domain.RunIdle)

	require.True(t, m.ApplySnapshot(running, t0).Applied)
	require.True(t, m.ApplySnapshot(idle, t0).Applied)
	m.Reset()

	_, ok := m.Snapshot()
	require.False(t, ok)

	out := m.ApplySnapshot(running, t0)
	require.False(t, out.Applied)
	require.True(t, out.Stale)
	_, ok = m.Snapshot()
	require.False(t, ok)

	next := runSnapshot(1, 0, 0, domain.RunRunning)
	next.RunID = "run-2"
	require.True(t, m.ApplySnapshot(next, t0).Applied)
}

func TestNewRunReplacesOldRunRegardlessOfSequence(t *testing.T) {
	m := New()
	m.ApplySnapshot(runSnapshot(40, 1, 0, domain.RunRunning), t0)

	next := runSnapshot(1, 0, 0, domain.RunRunning)
	next.RunID = "run-2"
	out := m.ApplySnapshot(next, t0)
	require.True(t, out.Applied)
	require.True(t, out.JustStarted)
}

func TestLegacySnapshotsOverwrite(t *testing.T) {
	m := New()
	newer := domain.Snapshot{Activity: runSnapshot(0, 0, 20, "").Activity, CurrentTaskIndex: 0}
	older := domain.Snapshot{Activity: runSnapshot(0, 0, 10, "").Activity, CurrentTaskIndex: 0}

	m.ApplySnapshot(newer, t0)
	out := m.ApplySnapshot(older, t0)
	require.True(t, out.Applied)
	require.True(t, out.Paused, "progress > 0 on an unfinished task is inferred as paused")
	require.InDelta(t, 50, m.Remaining(), 1e-9)
}

func TestTickAdvancesDisplayAndSnapshotRebases(t *testing.T) {
	m := New()
	m.ApplySnapshot(runSnapshot(1, 0, 10, domain.RunRunning), t0)

	require.True(t, m.Tick(t0.Add(3*time.Second)))
	require.InDelta(t, 47, m.Remaining(), 1e-9)

	// Authority reports less progress than the local display accumulated.
	m.ApplySnapshot(runSnapshot(2, 0, 11, domain.RunRunning), t0.Add(3*time.Second))
	require.InDelta(t, 49, m.Remaining(), 1e-9)

	got, _ := m.Snapshot()
	require.InDelta(t, 11, got.Activity.Tasks[0].Progress, 1e-9, "display never writes back")
}

func TestTickHoldsWhilePausedOrCountTask(t *testing.T) {
	m := New()
	m.ApplySnapshot(runSnapshot(1, 0, 10, domain.RunPaused), t0)
	require.False(t, m.Tick(t0.Add(5*time.Second)))
	require.InDelta(t, 50, m.Remaining(), 1e-9)

	m.ApplySnapshot(runSnapshot(2, 1, 0, domain.RunRunning), t0.Add(5*time.Second))
	require.False(t, m.Tick(t0.Add(9*time.Second)))
	require.InDelta(t, 10, m.Remaining(), 1e-9)
}

func TestCompletionTransition(t *testing.T) {
	m := New()
	m.ApplySnapshot(runSnapshot(1, 1, 3, domain.RunRunning), t0)

	done := runSnapshot(2, 1, 10, domain.RunCompleted)
	done.TaskState = domain.TaskCompleted
	done.Activity.IsCompleted = true
	out := m.ApplySnapshot(done, t0)
	require.True(t, out.Completed)
	require.True(t, out.JustCompleted)
	require.False(t, out.Paused)
	require.False(t, out.JustStarted)

	again := done
	again.Sequence = 3
	require.False(t, m.ApplySnapshot(again, t0).JustCompleted)
}
