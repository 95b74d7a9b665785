package engine

import "example.com/activitysync/internal/domain"

// EventType names an engine notification.
type EventType string

const (
	EventCountdown         EventType = "countdown"
	EventTaskStarted       EventType = "task_started"
	EventTaskCompleted     EventType = "task_completed"
	EventActivityCompleted EventType = "activity_completed"
	EventPaused            EventType = "paused"
	EventResumed           EventType = "resumed"
	EventExtended          EventType = "extended"
	EventAborted           EventType = "aborted"
	// EventProgress fires when a timed task crosses a whole second or a count changes.
	EventProgress EventType = "progress"
)

// Event describes a state change inside the engine.
type Event struct {
	Type      EventType
	RunID     string
	TaskIndex int
	Task      domain.ActivityTask
	Countdown int
	Seconds   int
	// Record is set on EventActivityCompleted.
	Record *domain.CompletedActivity
}

// Listener receives engine events synchronously on the owning loop.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(evt Event) { f(evt) }

type nopListener struct{}

func (nopListener) OnEvent(Event) {}
