package transport

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubImmediate struct {
	mu     sync.Mutex
	err    error
	up     bool
	sent   []Envelope
	probes int
}

func (s *stubImmediate) Send(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *stubImmediate) Probe(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	return s.up
}

func (s *stubImmediate) setUp(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.up = up
}

type stubQueue struct {
	mu      sync.Mutex
	written []Envelope
	inbound []Envelope
}

func (q *stubQueue) Enqueue(_ context.Context, env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.written = append(q.written, env)
	return nil
}

func (q *stubQueue) Run(ctx context.Context, sink func(Envelope)) error {
	for _, env := range q.inbound {
		sink(env)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (q *stubQueue) Close() error { return nil }

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

func TestCompositeImmediateFailureMarksUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	imm := &stubImmediate{up: true}
	c := NewComposite(imm, nil, nil, WithLogger(log.New(testWriter{t}, "", 0)), WithPollInterval(time.Hour))
	defer c.Close()
	c.Start(ctx)

	first := drain(t, c.Deliveries(), 1)
	require.True(t, first[0].IsReachability())
	require.True(t, c.Reachable())

	require.NoError(t, c.SendImmediate(ctx, Envelope{Topic: "command"}))

	imm.mu.Lock()
	imm.err = errors.New("connection reset")
	imm.mu.Unlock()
	require.Error(t, c.SendImmediate(ctx, Envelope{Topic: "command"}))
	require.False(t, c.Reachable())

	change := drain(t, c.Deliveries(), 1)
	require.False(t, *change[0].Reachability)

	// While unreachable the tier is not attempted at all.
	require.ErrorIs(t, c.SendImmediate(ctx, Envelope{}), ErrUnreachable)
	require.Len(t, imm.sent, 1)
}

func TestCompositeReceiveMarksReachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	imm := &stubImmediate{up: false}
	q := &stubQueue{inbound: []Envelope{{Topic: "command", Payload: []byte(`{"pause":true}`)}}}
	c := NewComposite(imm, q, nil, WithPollInterval(time.Hour))
	defer c.Close()
	c.Start(ctx)

	queued := drain(t, c.Deliveries(), 1)
	require.Equal(t, TierQueue, queued[0].Tier)
	require.Eventually(t, func() bool {
		imm.mu.Lock()
		defer imm.mu.Unlock()
		return imm.probes >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Receive(ctx, Envelope{Topic: "snapshot", Payload: []byte("{}")}))
	got := drain(t, c.Deliveries(), 2)
	require.True(t, got[0].IsReachability())
	require.Equal(t, TierImmediate, got[1].Tier)

	require.NoError(t, c.Enqueue(ctx, Envelope{Topic: "command"}))
	require.Len(t, q.written, 1)
	require.ErrorIs(t, c.UpdateContext(ctx, Envelope{Topic: "snapshot"}), ErrTierUnavailable)
}

func TestReachabilityMonitorPollsOnlyWhileUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	imm := &stubImmediate{up: false}
	var mu sync.Mutex
	var changes []bool
	m := NewReachabilityMonitor(imm.Probe, 10*time.Millisecond, func(v bool) {
		mu.Lock()
		changes = append(changes, v)
		mu.Unlock()
	})
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		imm.mu.Lock()
		defer imm.mu.Unlock()
		return imm.probes >= 3
	}, time.Second, 5*time.Millisecond)

	imm.setUp(true)
	require.Eventually(t, m.Reachable, time.Second, 5*time.Millisecond)

	imm.mu.Lock()
	probesAtRecovery := imm.probes
	imm.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	imm.mu.Lock()
	require.Equal(t, probesAtRecovery, imm.probes, "no polling while reachable")
	imm.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true}, changes)
}
