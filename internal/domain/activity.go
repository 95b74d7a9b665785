// Package domain defines the activity and task model shared by both peers.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrEmptyActivity is returned when an activity without tasks is asked to run.
	ErrEmptyActivity = errors.New("activity has no tasks")
	// ErrTaskNotFound is returned when a task id is not part of the activity.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTask is returned when a task definition cannot be used.
	ErrInvalidTask = errors.New("invalid task")
)

// DurationKind selects how a task measures progress.
type DurationKind string

const (
	KindTimed DurationKind = "timed"
	KindCount DurationKind = "count"
)

// Valid reports whether the kind is one of the known kinds.
func (k DurationKind) Valid() bool {
	return k == KindTimed || k == KindCount
}

// BaseTask is a reusable template used to pre-fill new activity tasks.
type BaseTask struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Kind     DurationKind `json:"kind"`
	Duration int          `json:"duration"`
}

// ActivityTask is one step of an activity. Duration is seconds for timed
// tasks and repetitions for count tasks; Progress uses the same unit.
type ActivityTask struct {
	ID          string       `json:"id"`
	BaseTaskID  string       `json:"baseTaskId,omitempty"`
	Name        string       `json:"name"`
	Kind        DurationKind `json:"kind"`
	Duration    int          `json:"duration"`
	IsCompleted bool         `json:"isCompleted"`
	Progress    float64      `json:"progress"`
}

// NewTask builds a task with a fresh identifier.
func NewTask(name string, kind DurationKind, duration int) (ActivityTask, error) {
	if !kind.Valid() || duration <= 0 {
		return ActivityTask{}, ErrInvalidTask
	}
	return ActivityTask{
		ID:       uuid.NewString(),
		Name:     name,
		Kind:     kind,
		Duration: duration,
	}, nil
}

// TaskFromBase copies the template defaults into a new task.
func TaskFromBase(base BaseTask) (ActivityTask, error) {
	task, err := NewTask(base.Name, base.Kind, base.Duration)
	if err != nil {
		return ActivityTask{}, err
	}
	task.BaseTaskID = base.ID
	return task, nil
}

// Remaining returns the part of the target duration not yet covered.
func (t ActivityTask) Remaining() float64 {
	rem := float64(t.Duration) - t.Progress
	if rem < 0 {
		return 0
	}
	return rem
}

// InferPaused applies the shared inference rule: a started, unfinished task
// is paused unless something local is advancing it.
func InferPaused(t ActivityTask) bool {
	return t.Progress > 0 && !t.IsCompleted
}

// Activity is an ordered, user-defined sequence of tasks.
type Activity struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Tasks           []ActivityTask `json:"tasks"`
	IsCompleted     bool           `json:"isCompleted"`
	CreatedAt       time.Time      `json:"createdAt"`
	LastCompletedAt *time.Time     `json:"lastCompletedAt,omitempty"`
}

// NewActivity creates an empty activity.
func NewActivity(name string, now time.Time) Activity {
	return Activity{
		ID:        uuid.NewString(),
		Name:      name,
		Tasks:     []ActivityTask{},
		CreatedAt: now.UTC(),
	}
}

// Runnable reports whether the activity can be started.
func (a Activity) Runnable() bool {
	return len(a.Tasks) > 0
}

// Clone returns a deep copy so callers never share the task slice.
func (a Activity) Clone() Activity {
	out := a
	out.Tasks = append([]ActivityTask(nil), a.Tasks...)
	if a.LastCompletedAt != nil {
		ts := *a.LastCompletedAt
		out.LastCompletedAt = &ts
	}
	return out
}

// AddTask appends a task.
func (a Activity) AddTask(task ActivityTask) Activity {
	out := a.Clone()
	out.Tasks = append(out.Tasks, task)
	return out
}

// RemoveTask drops the task with the given id.
func (a Activity) RemoveTask(taskID string) (Activity, error) {
	idx := a.taskIndex(taskID)
	if idx < 0 {
		return a, ErrTaskNotFound
	}
	out := a.Clone()
	out.Tasks = append(out.Tasks[:idx], out.Tasks[idx+1:]...)
	return out, nil
}

// MoveTask reorders a task from one position to another.
func (a Activity) MoveTask(from, to int) (Activity, error) {
	if from < 0 || from >= len(a.Tasks) || to < 0 || to >= len(a.Tasks) {
		return a, ErrTaskNotFound
	}
	out := a.Clone()
	task := out.Tasks[from]
	out.Tasks = append(out.Tasks[:from], out.Tasks[from+1:]...)
	out.Tasks = append(out.Tasks[:to], append([]ActivityTask{task}, out.Tasks[to:]...)...)
	return out, nil
}

// ResetProgress clears progress and completion on every task.
func (a Activity) ResetProgress() Activity {
	out := a.Clone()
	out.IsCompleted = false
	for i := range out.Tasks {
		out.Tasks[i].Progress = 0
		out.Tasks[i].IsCompleted = false
	}
	return out
}

func (a Activity) taskIndex(taskID string) int {
	for i, task := range a.Tasks {
		if task.ID == taskID {
			return i
		}
	}
	return -1
}

// CompletedTask records planned versus actual effort for one finished task.
type CompletedTask struct {
	TaskID          string       `json:"taskId"`
	Name            string       `json:"name"`
	Kind            DurationKind `json:"kind"`
	PlannedDuration int          `json:"plannedDuration"`
	ActualDuration  float64      `json:"actualDuration"`
	Skipped         bool         `json:"skipped,omitempty"`
}

// CompletedActivity is the append-only history record of one finished run.
type CompletedActivity struct {
	ID          string          `json:"id"`
	ActivityID  string          `json:"activityId"`
	Name        string          `json:"name"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
	Tasks       []CompletedTask `json:"tasks"`
}

// PlannedTotal sums the planned durations.
func (c CompletedActivity) PlannedTotal() int {
	total := 0
	for _, t := range c.Tasks {
		total += t.PlannedDuration
	}
	return total
}

// ActualTotal sums the actual durations.
func (c CompletedActivity) ActualTotal() float64 {
	total := 0.0
	for _, t := range c.Tasks {
		total += t.ActualDuration
	}
	return total
}
