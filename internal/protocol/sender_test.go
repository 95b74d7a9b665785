package protocol

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/observability"
	"example.com/activitysync/internal/transport"
)

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

func newTestSender(t *testing.T, ch transport.Channel, opts ...SenderOption) *Sender {
	t.Helper()
	base := []SenderOption{WithSenderLogger(log.New(testWriter{t}, "", 0))}
	s := NewSender(ch, append(base, opts...)...)
	t.Cleanup(s.Close)
	return s
}

func latencySamples(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, observability.ImmediateLatency.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestSenderUsesImmediateTierWhenReachable(t *testing.T) {
	a, b, _ := transport.NewPair()
	s := newTestSender(t, a)

	before := latencySamples(t)
	rep := s.Send(context.Background(), Command{Name: CmdPause})
	require.Equal(t, Report{Immediate: true}, rep)
	require.Equal(t, before+1, latencySamples(t))

	d := <-b.Deliveries()
	require.Equal(t, transport.TierImmediate, d.Tier)
	require.Equal(t, "command", d.Envelope.Topic)
	require.Equal(t, transport.LinkStats{ImmediateSends: 1}, a.Stats())
}

func TestSenderUnreachableWritesOncePerTierAndRetriesOnce(t *testing.T) {
	a, _, link := transport.NewPair()
	link.SetReachable(false)
	s := newTestSender(t, a, WithRetryDelay(30*time.Millisecond))

	scheduled := testutil.ToFloat64(observability.Retries.WithLabelValues("scheduled"))
	rep := s.Send(context.Background(), Command{Name: CmdStart, ActivityID: "a-1"})
	require.Equal(t, Report{Queued: true, Mirrored: true, RetryScheduled: true}, rep)
	require.Equal(t, transport.LinkStats{QueueWrites: 1, MirrorWrites: 1}, a.Stats())
	require.Equal(t, scheduled+1, testutil.ToFloat64(observability.Retries.WithLabelValues("scheduled")))

	require.Eventually(t, func() bool { return s.PendingRetries() == 0 && a.Stats().QueueWrites == 2 }, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, transport.LinkStats{QueueWrites: 2, MirrorWrites: 1}, a.Stats(), "exactly one retry")
}

func TestSenderTransientCommandSkipsMirror(t *testing.T) {
	a, _, link := transport.NewPair()
	link.SetReachable(false)
	s := newTestSender(t, a, WithRetryDelay(time.Hour))

	rep := s.Send(context.Background(), Command{Name: CmdSkip})
	require.True(t, rep.Queued)
	require.False(t, rep.Mirrored)
	require.Equal(t, 0, a.Stats().MirrorWrites)
	require.Equal(t, 1, s.PendingRetries())

	s.Close()
	require.Equal(t, 0, s.PendingRetries())
}

func TestSenderRetrySkippedWhenReachableAgain(t *testing.T) {
	a, _, link := transport.NewPair()
	link.SetReachable(false)

	posted := make(chan func(), 1)
	s := newTestSender(t, a, WithRetryDelay(10*time.Millisecond), WithDispatcher(func(fn func()) { posted <- fn }))

	s.Send(context.Background(), Snapshot{})
	link.SetReachable(true)

	select {
	case fn := <-posted:
		fn()
	case <-time.After(time.Second):
		t.Fatal("retry was not posted")
	}
	require.Equal(t, 1, a.Stats().QueueWrites)
}

func TestSenderFallsBackWhenImmediateFails(t *testing.T) {
	a, _, link := transport.NewPair()
	link.FailImmediate(errors.New("watch app not installed"))
	s := newTestSender(t, a)

	rep := s.Send(context.Background(), List{})
	require.Equal(t, Report{Queued: true, Mirrored: true}, rep)
	require.Equal(t, transport.LinkStats{ImmediateSends: 1, QueueWrites: 1, MirrorWrites: 1}, a.Stats())
	require.Equal(t, 0, s.PendingRetries())
}
