// Package session runs one peer: it owns the run engine or the mirror of the
// counterpart's run, and is the only goroutine that touches either.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/engine"
	"example.com/activitysync/internal/feedback"
	"example.com/activitysync/internal/observability"
	"example.com/activitysync/internal/protocol"
	"example.com/activitysync/internal/reconcile"
	"example.com/activitysync/internal/transport"
)

// DefaultTickInterval drives the engine and the mirror display.
const DefaultTickInterval = 250 * time.Millisecond

// ErrStopped is returned by operations issued after Run returned.
var ErrStopped = errors.New("session stopped")

// Config identifies the peer.
type Config struct {
	PeerID       string
	Role         Role
	TickInterval time.Duration
}

// Option configures a Peer.
type Option func(*Peer)

// WithLogger overrides the session logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Peer) { p.logger = l }
}

// WithListener sets the presentation listener.
func WithListener(l Listener) Option {
	return func(p *Peer) { p.listener = l }
}

// WithPlayer sets the feedback player. It is wrapped so panics are swallowed.
func WithPlayer(pl feedback.Player) Option {
	return func(p *Peer) { p.player = pl }
}

// WithClock injects the clock shared by the engine and the mirror.
func WithClock(c engine.Clock) Option {
	return func(p *Peer) { p.clock = c }
}

// WithTickSource replaces the ticker, mainly for tests.
func WithTickSource(ch <-chan time.Time) Option {
	return func(p *Peer) { p.ticks = ch }
}

// WithEngineOptions forwards options to the run engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(p *Peer) { p.engineOpts = append(p.engineOpts, opts...) }
}

// WithSenderOptions forwards options to the protocol sender.
func WithSenderOptions(opts ...protocol.SenderOption) Option {
	return func(p *Peer) { p.senderOpts = append(p.senderOpts, opts...) }
}

// Peer is one side of the synchronization pair.
type Peer struct {
	cfg        Config
	ch         transport.Channel
	store      domain.Store
	logger     *log.Logger
	listener   Listener
	player     feedback.Player
	clock      engine.Clock
	ticks      <-chan time.Time
	engineOpts []engine.Option
	senderOpts []protocol.SenderOption

	engine   *engine.Engine
	mirror   *reconcile.Mirror
	sender   *protocol.Sender
	receiver *protocol.Receiver

	ops     chan func(context.Context)
	stopped chan struct{}
	runOnce sync.Once

	// loop-owned state
	mode         Mode
	reachable    bool
	dirty        bool
	viewDirty    bool
	abandonedRun string
	remote       []domain.Activity

	viewMu sync.RWMutex
	view   View
}

// New constructs a Peer. Run must be called to start processing.
func New(cfg Config, ch transport.Channel, store domain.Store, opts ...Option) *Peer {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	p := &Peer{
		cfg:      cfg,
		ch:       ch,
		store:    store,
		logger:   log.New(log.Writer(), "[session] ", log.LstdFlags),
		listener: nopListener{},
		player:   feedback.Nop{},
		clock:    engine.SystemClock{},
		ops:      make(chan func(context.Context), 32),
		stopped:  make(chan struct{}),
		mode:     ModeIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.player = feedback.Safe(p.player, p.logger)

	engineOpts := append([]engine.Option{
		engine.WithClock(p.clock),
		engine.WithListener(engine.ListenerFunc(p.onEngineEvent)),
	}, p.engineOpts...)
	p.engine = engine.New(engineOpts...)
	p.mirror = reconcile.New()

	senderOpts := append([]protocol.SenderOption{
		protocol.WithSenderLogger(p.logger),
		protocol.WithDispatcher(p.post),
	}, p.senderOpts...)
	p.sender = protocol.NewSender(ch, senderOpts...)
	p.receiver = protocol.NewReceiver(ch, protocol.WithReceiverLogger(p.logger))

	p.reachable = ch.Reachable()
	p.view = p.buildView()
	return p
}

// Run processes ticks, inbound messages and operations until ctx is done.
func (p *Peer) Run(ctx context.Context) error {
	err := errors.New("session already running")
	p.runOnce.Do(func() { err = p.run(ctx) })
	return err
}

func (p *Peer) run(ctx context.Context) error {
	defer close(p.stopped)
	defer p.sender.Close()

	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := p.receiver.Run(recvCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Printf("receiver stopped: %v", err)
		}
	}()

	ticks := p.ticks
	if ticks == nil {
		ticker := time.NewTicker(p.cfg.TickInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	p.publish()
	events := p.receiver.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			p.tick()
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.handle(ctx, evt)
		case op := <-p.ops:
			op(ctx)
		}
		p.flush(ctx)
	}
}

// post queues fn on the loop. It drops fn once the loop has stopped.
func (p *Peer) post(fn func()) {
	select {
	case p.ops <- func(context.Context) { fn() }:
	case <-p.stopped:
	}
}

// do runs fn on the loop and waits for its result.
func do[T any](ctx context.Context, p *Peer, fn func(context.Context) T) (T, error) {
	var zero T
	result := make(chan T, 1)
	op := func(loopCtx context.Context) { result <- fn(loopCtx) }
	select {
	case p.ops <- op:
	case <-p.stopped:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-result:
		return v, nil
	case <-p.stopped:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *Peer) tick() {
	switch p.mode {
	case ModeAuthority:
		p.engine.Tick()
	case ModeMirror:
		if p.mirror.Tick(p.clock.Now()) {
			p.viewDirty = true
		}
	}
}

// flush pushes a snapshot when the engine changed and publishes the view.
func (p *Peer) flush(ctx context.Context) {
	if p.dirty {
		p.dirty = false
		p.pushSnapshot(ctx)
	}
	if p.viewDirty {
		p.publish()
	}
}

func (p *Peer) pushSnapshot(ctx context.Context) {
	snap := p.engine.Snapshot()
	snap.Origin = p.cfg.PeerID
	p.sender.Send(ctx, protocol.Snapshot{Snapshot: snap})
}

func (p *Peer) onEngineEvent(evt engine.Event) {
	p.dirty = true
	p.viewDirty = true

	switch evt.Type {
	case engine.EventCountdown:
		p.player.Play(feedback.CueCountdown)
	case engine.EventTaskStarted:
		p.player.Play(feedback.CueTaskStart)
	case engine.EventTaskCompleted:
		p.player.Play(feedback.CueTaskComplete)
	case engine.EventActivityCompleted:
		p.player.Play(feedback.CueActivityComplete)
		if evt.Record != nil {
			p.persistCompletion(*evt.Record)
		}
	case engine.EventAborted:
		p.mode = ModeIdle
	}
	observability.RecordRunState(p.engine.State())
}

func (p *Peer) persistCompletion(record domain.CompletedActivity) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	activity := p.engine.Activity()
	err := errors.Join(
		p.store.SaveCompleted(ctx, record),
		p.store.SaveActivity(ctx, activity),
	)
	if err != nil {
		p.logger.Printf("persist completed run %s: %v", record.ID, err)
		return
	}
	observability.RecordActivityCompleted(record.CompletedAt)
	p.sender.Send(ctx, protocol.Command{Name: protocol.CmdNotifyActivityCompleted, ActivityID: activity.ID})
}

func (p *Peer) buildView() View {
	v := View{
		PeerID:    p.cfg.PeerID,
		Role:      p.cfg.Role,
		Mode:      p.mode,
		Reachable: p.reachable,
		RunState:  domain.RunIdle,
		UpdatedAt: p.clock.Now().UTC(),
	}
	if len(p.remote) > 0 {
		v.RemoteActivities = append([]domain.Activity(nil), p.remote...)
	}

	switch p.mode {
	case ModeAuthority:
		activity := p.engine.Activity()
		snap := domain.Snapshot{Activity: activity, CurrentTaskIndex: p.engine.CurrentIndex()}
		v.RunID = p.engine.RunID()
		v.RunState = p.engine.State()
		v.Activity = &activity
		v.CurrentTaskIndex = p.engine.CurrentIndex()
		v.Countdown = p.engine.Countdown()
		v.Paused = p.engine.State() == domain.RunPaused
		if task, ok := snap.ActiveTask(); ok {
			v.Remaining = task.Remaining()
		}
	case ModeMirror:
		snap, ok := p.mirror.Snapshot()
		if !ok {
			break
		}
		v.RunID = snap.RunID
		v.RunState = snap.RunState
		if v.RunState == "" {
			v.RunState = domain.RunRunning
			if snap.Activity.IsCompleted {
				v.RunState = domain.RunCompleted
			}
		}
		v.Activity = &snap.Activity
		v.CurrentTaskIndex = snap.CurrentTaskIndex
		v.Remaining = p.mirror.Remaining()
		v.Paused = snap.Paused()
	}
	return v
}

func (p *Peer) publish() {
	p.viewDirty = false
	v := p.buildView()
	p.viewMu.Lock()
	p.view = v
	p.viewMu.Unlock()
	p.listener.OnView(v)
}

// View returns the most recently published view.
func (p *Peer) View() View {
	p.viewMu.RLock()
	defer p.viewMu.RUnlock()
	return p.view
}
