package session

import (
	"context"
	"errors"
	"time"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/feedback"
	"example.com/activitysync/internal/observability"
	"example.com/activitysync/internal/protocol"
)

func (p *Peer) handle(ctx context.Context, evt protocol.Event) {
	switch evt.Kind {
	case protocol.EventReachability:
		p.onReachability(evt.Reachable)
	case protocol.EventSnapshot:
		p.onSnapshot(evt)
	case protocol.EventCommand:
		p.onCommand(ctx, evt.Command)
	case protocol.EventList:
		p.onList(ctx, evt)
	}
}

func (p *Peer) onReachability(reachable bool) {
	if p.reachable == reachable {
		return
	}
	p.reachable = reachable
	p.viewDirty = true
	// Resynchronize the counterpart once it is back.
	if reachable && p.mode == ModeAuthority {
		p.dirty = true
	}
}

func (p *Peer) onSnapshot(evt protocol.Event) {
	snap := evt.Snapshot
	if p.mode == ModeAuthority && p.engine.Active() {
		if snap.RunID != p.engine.RunID() {
			p.logger.Printf("ignoring snapshot of run %q from %s while owning run %q", snap.RunID, snap.Origin, p.engine.RunID())
		}
		return
	}
	if snap.RunID != "" && snap.RunID == p.abandonedRun {
		return
	}

	out := p.mirror.ApplySnapshot(snap, p.clock.Now())
	if !out.Applied {
		return
	}
	p.viewDirty = true

	if snap.RunState == domain.RunIdle {
		p.mirror.Reset()
		p.mode = ModeIdle
		return
	}
	p.mode = ModeMirror
	if out.JustStarted {
		p.player.Play(feedback.CueTaskStart)
	}
	if out.JustCompleted {
		p.player.Play(feedback.CueActivityComplete)
	}
}

func (p *Peer) onCommand(ctx context.Context, cmd protocol.Command) {
	applied := false
	switch cmd.Name {
	case protocol.CmdStart:
		applied = p.remoteStart(ctx, cmd.ActivityID)
	case protocol.CmdPause:
		applied = p.owned(p.engine.Pause)
	case protocol.CmdResume:
		applied = p.owned(p.engine.Resume)
	case protocol.CmdSkip:
		applied = p.owned(p.engine.Skip)
	case protocol.CmdExtend:
		applied = p.owned(func() bool { return p.engine.Extend(cmd.Seconds) })
	case protocol.CmdIncrement:
		applied = p.owned(p.engine.Increment)
	case protocol.CmdDecrement:
		applied = p.owned(p.engine.Decrement)
	case protocol.CmdRequestActivityList:
		applied = p.answerList(ctx)
	case protocol.CmdRequestNavigateToList:
		p.listener.OnNavigation(NavigateToList)
		applied = true
	case protocol.CmdNotifyActivityCompleted:
		p.listener.OnNavigation(ActivityCompleted)
		applied = true
	}

	result := "ignored"
	if applied {
		result = "applied"
	}
	observability.Commands.WithLabelValues(string(cmd.Name), result).Inc()
}

// owned applies op when this peer owns the run. The counterpart always gets
// a fresh snapshot afterwards, even when op was a no-op.
func (p *Peer) owned(op func() bool) bool {
	if p.mode != ModeAuthority {
		return false
	}
	applied := op()
	p.dirty = true
	return applied
}

func (p *Peer) remoteStart(ctx context.Context, activityID string) bool {
	if p.engine.Active() {
		p.dirty = p.mode == ModeAuthority
		return false
	}
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	activity, err := p.store.GetActivity(lookupCtx, activityID)
	if err != nil {
		p.logger.Printf("remote start of %q: %v", activityID, err)
		return false
	}
	return p.startLocal(*activity)
}

func (p *Peer) answerList(ctx context.Context) bool {
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	activities, err := p.store.LoadActivities(loadCtx)
	if err != nil {
		p.logger.Printf("load activities for list request: %v", err)
		return false
	}
	p.sender.Send(ctx, protocol.List{Activities: activities})
	return true
}

// onList caches the counterpart's catalog and stores it so runs can be
// started from either peer. A list is the counterpart's full collection, so
// activities it listed before and no longer does are removed.
func (p *Peer) onList(ctx context.Context, evt protocol.Event) {
	listed := make(map[string]struct{}, len(evt.Activities))
	for _, a := range evt.Activities {
		listed[a.ID] = struct{}{}
	}
	previous := p.remote
	p.remote = evt.Activities
	p.viewDirty = true

	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, a := range previous {
		if _, ok := listed[a.ID]; ok {
			continue
		}
		if err := p.store.DeleteActivity(saveCtx, a.ID); err != nil && !errors.Is(err, domain.ErrActivityNotFound) {
			p.logger.Printf("remove activity %s dropped from list: %v", a.ID, err)
		}
	}
	for _, a := range evt.Activities {
		if err := p.store.SaveActivity(saveCtx, a); err != nil {
			p.logger.Printf("store activity %s from list: %v", a.ID, err)
		}
	}
}
