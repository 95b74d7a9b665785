package domain

import "time"

// RunState is the engine-level state of a run.
type RunState string

const (
	RunIdle      RunState = "idle"
	RunCountdown RunState = "countdown"
	RunRunning   RunState = "running"
	RunPaused    RunState = "paused"
	RunCompleted RunState = "completed"
)

// Active reports whether a run is in flight.
func (s RunState) Active() bool {
	return s == RunCountdown || s == RunRunning || s == RunPaused
}

// TaskState is the explicit state of the active task.
type TaskState string

const (
	TaskNotStarted TaskState = "not_started"
	TaskRunning    TaskState = "running"
	TaskPaused     TaskState = "paused"
	TaskCompleted  TaskState = "completed"
)

// Snapshot is the full-state synchronization unit. Activity and
// CurrentTaskIndex are always present; the remaining fields may be empty
// when the snapshot was authored by a peer that does not send them.
type Snapshot struct {
	Activity         Activity  `json:"activity"`
	CurrentTaskIndex int       `json:"currentTaskIndex"`
	RunState         RunState  `json:"runState,omitempty"`
	TaskState        TaskState `json:"taskState,omitempty"`
	RunID            string    `json:"runId,omitempty"`
	Origin           string    `json:"origin,omitempty"`
	Sequence         uint64    `json:"sequence,omitempty"`
	AuthoredAt       time.Time `json:"authoredAt,omitempty"`
}

// ActiveTask returns the task at CurrentTaskIndex if it exists.
func (s Snapshot) ActiveTask() (ActivityTask, bool) {
	if s.CurrentTaskIndex < 0 || s.CurrentTaskIndex >= len(s.Activity.Tasks) {
		return ActivityTask{}, false
	}
	return s.Activity.Tasks[s.CurrentTaskIndex], true
}

// Paused resolves the paused flag for the active task, preferring the
// explicit state and falling back to InferPaused.
func (s Snapshot) Paused() bool {
	if s.TaskState != "" {
		return s.TaskState == TaskPaused
	}
	if s.RunState != "" {
		return s.RunState == RunPaused
	}
	task, ok := s.ActiveTask()
	if !ok {
		return false
	}
	return InferPaused(task)
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Activity = s.Activity.Clone()
	return out
}
