// Package protocol defines the messages peers exchange, their JSON encoding
// and the tiered delivery policy.
package protocol

import (
	"example.com/activitysync/internal/domain"
)

// Kind tags a message. It doubles as the tier-3 topic.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindList     Kind = "activityList"
	KindCommand  Kind = "command"
)

// Message is implemented by Snapshot, List and Command.
type Message interface {
	Kind() Kind
}

// CommandName identifies a remote command. The wire key is the name itself.
type CommandName string

const (
	CmdStart                   CommandName = "start"
	CmdPause                   CommandName = "pause"
	CmdResume                  CommandName = "resume"
	CmdSkip                    CommandName = "skip"
	CmdExtend                  CommandName = "extend"
	CmdRequestActivityList     CommandName = "requestActivityList"
	CmdRequestNavigateToList   CommandName = "requestNavigateToList"
	CmdNotifyActivityCompleted CommandName = "notifyActivityCompleted"
	CmdIncrement               CommandName = "increment"
	CmdDecrement               CommandName = "decrement"
)

// commandOrder is the order Decode probes command keys in.
var commandOrder = []CommandName{
	CmdStart,
	CmdPause,
	CmdResume,
	CmdSkip,
	CmdExtend,
	CmdRequestActivityList,
	CmdRequestNavigateToList,
	CmdNotifyActivityCompleted,
	CmdIncrement,
	CmdDecrement,
}

// Transient reports whether replaying the command later would be wrong on
// its own. Transient commands never go to the latest-state tier.
func (n CommandName) Transient() bool {
	switch n {
	case CmdPause, CmdResume, CmdSkip, CmdExtend, CmdIncrement, CmdDecrement:
		return true
	default:
		return false
	}
}

// Valid reports whether n is a known command.
func (n CommandName) Valid() bool {
	for _, c := range commandOrder {
		if c == n {
			return true
		}
	}
	return false
}

// Command asks the counterpart to act.
type Command struct {
	Name       CommandName
	Seconds    int
	ActivityID string
}

// Kind implements Message.
func (Command) Kind() Kind { return KindCommand }

// Snapshot carries the full run state.
type Snapshot struct {
	domain.Snapshot
}

// Kind implements Message.
func (Snapshot) Kind() Kind { return KindSnapshot }

// List carries the activity catalog.
type List struct {
	Activities []domain.Activity
}

// Kind implements Message.
func (List) Kind() Kind { return KindList }

// Transient reports whether m may be dropped from the latest-state tier.
func Transient(m Message) bool {
	if cmd, ok := m.(Command); ok {
		return cmd.Name.Transient()
	}
	return false
}
