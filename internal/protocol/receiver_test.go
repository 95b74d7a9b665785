package protocol

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/observability"
	"example.com/activitysync/internal/transport"
)

func nextEvent(t *testing.T, r *Receiver) Event {
	t.Helper()
	select {
	case evt := <-r.Events():
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestReceiverDecodesAndDropsMalformed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b, link := transport.NewPair()
	r := NewReceiver(b, WithReceiverLogger(log.New(testWriter{t}, "", 0)))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	before := testutil.ToFloat64(observability.DecodeErrors.WithLabelValues("immediate"))

	require.NoError(t, a.SendImmediate(ctx, transport.Envelope{Topic: "command", Payload: []byte(`{"start":tr`)}))
	require.NoError(t, a.SendImmediate(ctx, transport.Envelope{Topic: "command", Payload: []byte(`{"extend":true,"seconds":10}`)}))

	evt := nextEvent(t, r)
	require.Equal(t, EventCommand, evt.Kind)
	require.Equal(t, CmdExtend, evt.Command.Name)
	require.Equal(t, 10, evt.Command.Seconds)
	require.Equal(t, transport.TierImmediate, evt.Tier)
	require.Equal(t, before+1, testutil.ToFloat64(observability.DecodeErrors.WithLabelValues("immediate")))

	link.SetReachable(false)
	evt = nextEvent(t, r)
	require.Equal(t, EventReachability, evt.Kind)
	require.False(t, evt.Reachable)

	require.NoError(t, a.UpdateContext(ctx, transport.Envelope{Topic: "activityList", Payload: []byte(`{"activityList":[]}`)}))
	link.SetReachable(true)
	evt = nextEvent(t, r)
	require.Equal(t, EventReachability, evt.Kind)
	require.True(t, evt.Reachable)
	evt = nextEvent(t, r)
	require.Equal(t, EventList, evt.Kind)
	require.Equal(t, transport.TierMirror, evt.Tier)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
