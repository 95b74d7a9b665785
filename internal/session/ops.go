package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/protocol"
)

// ErrRemoteRunActive is returned when starting locally while mirroring an
// active run owned by the counterpart.
var ErrRemoteRunActive = errors.New("counterpart owns an active run")

// Result reports what an operation did.
type Result struct {
	// Applied is true when the local engine changed state.
	Applied bool `json:"applied"`
	// Forwarded is true when the operation was sent to the counterpart.
	Forwarded bool `json:"forwarded"`
}

// Start loads the activity and runs it locally, making this peer the owner.
func (p *Peer) Start(ctx context.Context, activityID string) (Result, error) {
	activity, err := p.store.GetActivity(ctx, activityID)
	if err != nil {
		return Result{}, err
	}
	if !activity.Runnable() {
		return Result{}, fmt.Errorf("start %q: %w", activity.Name, domain.ErrEmptyActivity)
	}
	type outcome struct {
		res Result
		err error
	}
	out, err := do(ctx, p, func(context.Context) outcome {
		if p.mode == ModeMirror && p.mirrorActive() {
			return outcome{err: ErrRemoteRunActive}
		}
		return outcome{res: Result{Applied: p.startLocal(*activity)}}
	})
	if err != nil {
		return Result{}, err
	}
	return out.res, out.err
}

// StartRemote asks the counterpart to run the activity. The counterpart
// becomes the owner and this peer mirrors it.
func (p *Peer) StartRemote(ctx context.Context, activityID string) (Result, error) {
	return do(ctx, p, func(loopCtx context.Context) Result {
		if p.mode == ModeAuthority && p.engine.Active() {
			return Result{}
		}
		p.sender.Send(loopCtx, protocol.Command{Name: protocol.CmdStart, ActivityID: activityID})
		return Result{Forwarded: true}
	})
}

func (p *Peer) startLocal(activity domain.Activity) bool {
	if !p.engine.Start(activity) {
		return false
	}
	p.mirror.Reset()
	p.mode = ModeAuthority
	p.viewDirty = true
	return true
}

func (p *Peer) mirrorActive() bool {
	snap, ok := p.mirror.Snapshot()
	if !ok {
		return false
	}
	if snap.RunState != "" {
		return snap.RunState.Active()
	}
	return !snap.Activity.IsCompleted
}

// Pause pauses the run, locally or by forwarding to the owner.
func (p *Peer) Pause(ctx context.Context) (Result, error) {
	return p.control(ctx, protocol.Command{Name: protocol.CmdPause}, p.engine.Pause)
}

// Resume resumes a paused run.
func (p *Peer) Resume(ctx context.Context) (Result, error) {
	return p.control(ctx, protocol.Command{Name: protocol.CmdResume}, p.engine.Resume)
}

// Skip completes the active task early.
func (p *Peer) Skip(ctx context.Context) (Result, error) {
	return p.control(ctx, protocol.Command{Name: protocol.CmdSkip}, p.engine.Skip)
}

// Extend adds seconds to the active timed task.
func (p *Peer) Extend(ctx context.Context, seconds int) (Result, error) {
	if seconds <= 0 {
		return Result{}, fmt.Errorf("extend by %d seconds: %w", seconds, domain.ErrInvalidTask)
	}
	return p.control(ctx, protocol.Command{Name: protocol.CmdExtend, Seconds: seconds}, func() bool {
		return p.engine.Extend(seconds)
	})
}

// Increment counts one repetition on the active count task.
func (p *Peer) Increment(ctx context.Context) (Result, error) {
	return p.control(ctx, protocol.Command{Name: protocol.CmdIncrement}, p.engine.Increment)
}

// Decrement removes one repetition from the active count task.
func (p *Peer) Decrement(ctx context.Context) (Result, error) {
	return p.control(ctx, protocol.Command{Name: protocol.CmdDecrement}, p.engine.Decrement)
}

// control applies op when this peer owns the run and forwards cmd when it
// mirrors the counterpart's run.
func (p *Peer) control(ctx context.Context, cmd protocol.Command, op func() bool) (Result, error) {
	return do(ctx, p, func(loopCtx context.Context) Result {
		switch p.mode {
		case ModeAuthority:
			return Result{Applied: op()}
		case ModeMirror:
			if !p.mirrorActive() {
				return Result{}
			}
			p.sender.Send(loopCtx, cmd)
			return Result{Forwarded: true}
		default:
			return Result{}
		}
	})
}

// Abort stops the displayed run on this peer only. An owned run is reset and
// the counterpart learns of it from the next snapshot; a mirrored run is
// dropped and its later snapshots ignored.
func (p *Peer) Abort(ctx context.Context) (Result, error) {
	return do(ctx, p, func(context.Context) Result {
		switch p.mode {
		case ModeAuthority:
			return Result{Applied: p.engine.Abort()}
		case ModeMirror:
			if snap, ok := p.mirror.Snapshot(); ok {
				p.abandonedRun = snap.RunID
			}
			p.mirror.Reset()
			p.mode = ModeIdle
			p.viewDirty = true
			return Result{Applied: true}
		default:
			return Result{}
		}
	})
}

// RequestActivityList asks the counterpart for its activities.
func (p *Peer) RequestActivityList(ctx context.Context) error {
	_, err := do(ctx, p, func(loopCtx context.Context) struct{} {
		p.sender.Send(loopCtx, protocol.Command{Name: protocol.CmdRequestActivityList})
		return struct{}{}
	})
	return err
}

// RequestNavigateToList asks the counterpart to show its activity list.
func (p *Peer) RequestNavigateToList(ctx context.Context) error {
	_, err := do(ctx, p, func(loopCtx context.Context) struct{} {
		p.sender.Send(loopCtx, protocol.Command{Name: protocol.CmdRequestNavigateToList})
		return struct{}{}
	})
	return err
}

// Activities returns the locally stored activities.
func (p *Peer) Activities(ctx context.Context) ([]domain.Activity, error) {
	return p.store.LoadActivities(ctx)
}

// SaveActivity stores the activity and sends the updated list to the
// counterpart.
func (p *Peer) SaveActivity(ctx context.Context, activity domain.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = p.clock.Now().UTC()
	}
	if activity.Tasks == nil {
		activity.Tasks = []domain.ActivityTask{}
	}
	for _, task := range activity.Tasks {
		if !task.Kind.Valid() || task.Duration <= 0 {
			return fmt.Errorf("task %q: %w", task.Name, domain.ErrInvalidTask)
		}
	}
	if err := p.store.SaveActivity(ctx, activity); err != nil {
		return err
	}
	return p.broadcastList(ctx)
}

// DeleteActivity removes the activity and sends the updated list.
func (p *Peer) DeleteActivity(ctx context.Context, id string) error {
	if err := p.store.DeleteActivity(ctx, id); err != nil {
		return err
	}
	return p.broadcastList(ctx)
}

// History returns completed runs, newest first.
func (p *Peer) History(ctx context.Context, limit int) ([]domain.CompletedActivity, error) {
	return p.store.LoadCompleted(ctx, limit)
}

func (p *Peer) broadcastList(ctx context.Context) error {
	activities, err := p.store.LoadActivities(ctx)
	if err != nil {
		return err
	}
	_, err = do(ctx, p, func(loopCtx context.Context) struct{} {
		p.sender.Send(loopCtx, protocol.List{Activities: activities})
		return struct{}{}
	})
	return err
}
