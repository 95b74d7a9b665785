// Package engine implements the local activity-run state machine each peer owns.
//
// An Engine is not safe for concurrent use. It is owned by a single event loop
// that calls Tick periodically and applies user or remote operations in between.
// Operations that are not valid in the current state are silent no-ops and
// report false.
package engine

import (
	"math"
	"time"

	"github.com/google/uuid"

	"example.com/activitysync/internal/domain"
)

const (
	// DefaultCountdown is the number of one-second steps before the first task.
	DefaultCountdown = 3
	// DefaultMaxTickStep bounds how much wall-clock time one tick may attribute to a task.
	DefaultMaxTickStep = 2 * time.Second
)

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithListener registers the event listener.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listener = l }
}

// WithMaxTickStep overrides the per-tick advancement bound.
func WithMaxTickStep(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxStep = d
		}
	}
}

// WithCountdown overrides the countdown length in seconds.
func WithCountdown(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.countdownFrom = n
		}
	}
}

// Engine drives one activity run.
type Engine struct {
	clock         Clock
	listener      Listener
	maxStep       time.Duration
	countdownFrom int

	state       domain.RunState
	activity    domain.Activity
	index       int
	countdown   int
	countdownAt time.Time
	lastTick    time.Time
	runID       string
	startedAt   time.Time
	history     []domain.CompletedTask
	sequence    uint64
}

// New constructs an idle Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:         SystemClock{},
		listener:      nopListener{},
		maxStep:       DefaultMaxTickStep,
		countdownFrom: DefaultCountdown,
		state:         domain.RunIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current run state.
func (e *Engine) State() domain.RunState { return e.state }

// Activity returns a copy of the activity being run.
func (e *Engine) Activity() domain.Activity { return e.activity.Clone() }

// CurrentIndex returns the index of the active task.
func (e *Engine) CurrentIndex() int { return e.index }

// Countdown returns the remaining countdown steps.
func (e *Engine) Countdown() int { return e.countdown }

// RunID identifies the current or most recent run.
func (e *Engine) RunID() string { return e.runID }

// Active reports whether a run is in flight.
func (e *Engine) Active() bool { return e.state.Active() }

// Start resets the activity and begins the countdown. Valid from idle or a
// completed run with a non-empty task list.
func (e *Engine) Start(activity domain.Activity) bool {
	if e.state != domain.RunIdle && e.state != domain.RunCompleted {
		return false
	}
	if !activity.Runnable() {
		return false
	}

	now := e.clock.Now()
	e.activity = activity.ResetProgress()
	e.index = 0
	e.history = nil
	e.runID = uuid.NewString()
	e.startedAt = now
	e.sequence = 0
	e.countdown = e.countdownFrom
	e.countdownAt = now

	if e.countdown == 0 {
		e.beginRunning(now)
		return true
	}
	e.state = domain.RunCountdown
	e.emit(Event{Type: EventCountdown, Countdown: e.countdown, TaskIndex: e.index})
	return true
}

// Tick advances the countdown or the active timed task by the wall-clock
// time since the previous tick. It reports whether anything changed.
func (e *Engine) Tick() bool {
	now := e.clock.Now()
	switch e.state {
	case domain.RunCountdown:
		changed := false
		for e.state == domain.RunCountdown && now.Sub(e.countdownAt) >= time.Second {
			e.countdownAt = e.countdownAt.Add(time.Second)
			e.countdown--
			changed = true
			if e.countdown <= 0 {
				e.beginRunning(e.countdownAt)
				// Time after the last countdown boundary belongs to the first task.
				e.advance(now)
			} else {
				e.emit(Event{Type: EventCountdown, Countdown: e.countdown, TaskIndex: e.index})
			}
		}
		return changed
	case domain.RunRunning:
		return e.advance(now)
	}
	return false
}

// advance attributes elapsed time to the running timed task.
func (e *Engine) advance(now time.Time) bool {
	if e.state != domain.RunRunning {
		return false
	}
	delta := now.Sub(e.lastTick)
	e.lastTick = now
	task := &e.activity.Tasks[e.index]
	if task.Kind != domain.KindTimed || delta <= 0 {
		return false
	}
	if delta > e.maxStep {
		delta = e.maxStep
	}

	before := math.Floor(task.Progress)
	task.Progress += delta.Seconds()
	if task.Progress >= float64(task.Duration) {
		e.completeCurrent(now, false)
		return true
	}
	if math.Floor(task.Progress) != before {
		e.emit(Event{Type: EventProgress, TaskIndex: e.index, Task: *task})
	}
	return true
}

// Pause freezes the running task.
func (e *Engine) Pause() bool {
	if e.state != domain.RunRunning {
		return false
	}
	e.advance(e.clock.Now())
	if e.state != domain.RunRunning {
		// The flush completed the last task.
		return true
	}
	e.state = domain.RunPaused
	e.emit(Event{Type: EventPaused, TaskIndex: e.index, Task: e.activity.Tasks[e.index]})
	return true
}

// Resume continues a paused task; paused time is never counted.
func (e *Engine) Resume() bool {
	if e.state != domain.RunPaused {
		return false
	}
	e.lastTick = e.clock.Now()
	e.state = domain.RunRunning
	e.emit(Event{Type: EventResumed, TaskIndex: e.index, Task: e.activity.Tasks[e.index]})
	return true
}

// Skip force-completes the current task regardless of progress.
func (e *Engine) Skip() bool {
	if e.state != domain.RunRunning && e.state != domain.RunPaused {
		return false
	}
	now := e.clock.Now()
	if e.state == domain.RunRunning {
		idx := e.index
		e.advance(now)
		if e.state != domain.RunRunning || e.index != idx {
			// Elapsed time already finished the task.
			return true
		}
	}
	e.completeCurrent(now, true)
	return true
}

// CompleteCurrentTask is an alias for Skip used by the presentation layer.
func (e *Engine) CompleteCurrentTask() bool { return e.Skip() }

// Extend adds seconds to the target of the current timed task.
func (e *Engine) Extend(seconds int) bool {
	if seconds <= 0 || !e.state.Active() {
		return false
	}
	task := &e.activity.Tasks[e.index]
	if task.Kind != domain.KindTimed || task.IsCompleted {
		return false
	}
	task.Duration += seconds
	e.emit(Event{Type: EventExtended, TaskIndex: e.index, Task: *task, Seconds: seconds})
	return true
}

// Increment records one repetition on a running count task.
func (e *Engine) Increment() bool {
	if e.state != domain.RunRunning {
		return false
	}
	task := &e.activity.Tasks[e.index]
	if task.Kind != domain.KindCount {
		return false
	}
	task.Progress++
	if task.Progress >= float64(task.Duration) {
		e.completeCurrent(e.clock.Now(), false)
		return true
	}
	e.emit(Event{Type: EventProgress, TaskIndex: e.index, Task: *task})
	return true
}

// Decrement removes one repetition; progress never drops below zero.
func (e *Engine) Decrement() bool {
	if e.state != domain.RunRunning {
		return false
	}
	task := &e.activity.Tasks[e.index]
	if task.Kind != domain.KindCount || task.Progress <= 0 {
		return false
	}
	task.Progress--
	if task.Progress < 0 {
		task.Progress = 0
	}
	e.emit(Event{Type: EventProgress, TaskIndex: e.index, Task: *task})
	return true
}

// Abort discards the run and returns to idle.
func (e *Engine) Abort() bool {
	if !e.state.Active() {
		return false
	}
	e.history = nil
	e.activity = e.activity.ResetProgress()
	e.index = 0
	e.countdown = 0
	e.state = domain.RunIdle
	e.emit(Event{Type: EventAborted})
	return true
}

// Snapshot captures the full run state. Every call receives the next sequence
// number for the current run.
func (e *Engine) Snapshot() domain.Snapshot {
	e.sequence++
	return domain.Snapshot{
		Activity:         e.activity.Clone(),
		CurrentTaskIndex: e.index,
		RunState:         e.state,
		TaskState:        e.taskState(),
		RunID:            e.runID,
		Sequence:         e.sequence,
		AuthoredAt:       e.clock.Now().UTC(),
	}
}

func (e *Engine) taskState() domain.TaskState {
	switch e.state {
	case domain.RunRunning:
		return domain.TaskRunning
	case domain.RunPaused:
		return domain.TaskPaused
	case domain.RunCompleted:
		return domain.TaskCompleted
	default:
		return domain.TaskNotStarted
	}
}

func (e *Engine) beginRunning(at time.Time) {
	e.countdown = 0
	e.state = domain.RunRunning
	e.startTask(at)
}

func (e *Engine) startTask(at time.Time) {
	e.lastTick = at
	e.state = domain.RunRunning
	e.emit(Event{Type: EventTaskStarted, TaskIndex: e.index, Task: e.activity.Tasks[e.index]})
}

func (e *Engine) completeCurrent(now time.Time, skipped bool) {
	task := &e.activity.Tasks[e.index]
	if !skipped && task.Progress > float64(task.Duration) {
		task.Progress = float64(task.Duration)
	}
	task.IsCompleted = true
	e.history = append(e.history, domain.CompletedTask{
		TaskID:          task.ID,
		Name:            task.Name,
		Kind:            task.Kind,
		PlannedDuration: task.Duration,
		ActualDuration:  task.Progress,
		Skipped:         skipped,
	})
	e.emit(Event{Type: EventTaskCompleted, TaskIndex: e.index, Task: *task})

	if e.index+1 < len(e.activity.Tasks) {
		e.index++
		e.startTask(now)
		return
	}
	e.finish(now)
}

func (e *Engine) finish(now time.Time) {
	completedAt := now.UTC()
	e.state = domain.RunCompleted
	e.activity.IsCompleted = true
	e.activity.LastCompletedAt = &completedAt

	record := domain.CompletedActivity{
		ID:          uuid.NewString(),
		ActivityID:  e.activity.ID,
		Name:        e.activity.Name,
		StartedAt:   e.startedAt.UTC(),
		CompletedAt: completedAt,
		Tasks:       e.history,
	}
	e.history = nil
	e.emit(Event{Type: EventActivityCompleted, TaskIndex: e.index, Record: &record})
}

func (e *Engine) emit(evt Event) {
	evt.RunID = e.runID
	e.listener.OnEvent(evt)
}
