// Package feedback plays sound or haptic cues for run transitions.
package feedback

import (
	"log"
	"sync"
)

// Cue names a feedback moment.
type Cue string

const (
	CueCountdown        Cue = "countdown"
	CueTaskStart        Cue = "task_start"
	CueTaskComplete     Cue = "task_complete"
	CueActivityComplete Cue = "activity_complete"
)

// Player plays cues. Implementations must not block for long; failures are
// the player's own business.
type Player interface {
	Play(Cue)
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(Cue)

// Play implements Player.
func (f PlayerFunc) Play(c Cue) { f(c) }

// Nop discards every cue.
type Nop struct{}

// Play implements Player.
func (Nop) Play(Cue) {}

// LogPlayer writes cues to a logger. Used on headless peers.
type LogPlayer struct {
	Logger *log.Logger
}

// Play implements Player.
func (p LogPlayer) Play(c Cue) {
	if p.Logger == nil {
		return
	}
	p.Logger.Printf("cue %s", c)
}

// Safe wraps p so a panicking player cannot take down the caller.
func Safe(p Player, logger *log.Logger) Player {
	if p == nil {
		return Nop{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[feedback] ", log.LstdFlags)
	}
	return &safePlayer{next: p, logger: logger}
}

type safePlayer struct {
	next   Player
	logger *log.Logger
}

func (s *safePlayer) Play(c Cue) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("player panicked on %s: %v", c, r)
		}
	}()
	s.next.Play(c)
}

// Recorder keeps every cue it is asked to play.
type Recorder struct {
	mu   sync.Mutex
	cues []Cue
}

// Play implements Player.
func (r *Recorder) Play(c Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, c)
}

// Cues returns a copy of the recorded cues.
func (r *Recorder) Cues() []Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Cue(nil), r.cues...)
}
