package session

import (
	"time"

	"example.com/activitysync/internal/domain"
)

// Role names the kind of peer.
type Role string

const (
	RoleHandheld Role = "handheld"
	RoleWrist    Role = "wrist"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleHandheld || r == RoleWrist }

// Mode describes who drives the run this peer displays.
type Mode string

const (
	// ModeIdle means no run is displayed.
	ModeIdle Mode = "idle"
	// ModeAuthority means the local engine owns the run.
	ModeAuthority Mode = "authority"
	// ModeMirror means the run is owned by the counterpart.
	ModeMirror Mode = "mirror"
)

// View is the read-only state handed to the presentation layer.
type View struct {
	PeerID           string            `json:"peerId"`
	Role             Role              `json:"role"`
	Mode             Mode              `json:"mode"`
	Reachable        bool              `json:"reachable"`
	RunID            string            `json:"runId,omitempty"`
	RunState         domain.RunState   `json:"runState"`
	Activity         *domain.Activity  `json:"activity,omitempty"`
	CurrentTaskIndex int               `json:"currentTaskIndex"`
	Countdown        int               `json:"countdown,omitempty"`
	Remaining        float64           `json:"remaining"`
	Paused           bool              `json:"paused"`
	RemoteActivities []domain.Activity `json:"remoteActivities,omitempty"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Navigation is a request from the counterpart aimed at the presentation layer.
type Navigation string

const (
	NavigateToList    Navigation = "navigate_to_list"
	ActivityCompleted Navigation = "activity_completed"
)

// Listener receives view updates and navigation requests. Calls happen on
// the peer's event loop and must return quickly.
type Listener interface {
	OnView(View)
	OnNavigation(Navigation)
}

type nopListener struct{}

func (nopListener) OnView(View)             {}
func (nopListener) OnNavigation(Navigation) {}
