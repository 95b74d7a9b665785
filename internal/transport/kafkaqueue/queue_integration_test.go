//go:build integration

package kafkaqueue

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/activitysync/internal/transport"
)

func TestQueueRoundTripBetweenPeers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(
		kafka.TopicConfig{Topic: Topic("", "handheld"), NumPartitions: 1, ReplicationFactor: 1},
		kafka.TopicConfig{Topic: Topic("", "wrist"), NumPartitions: 1, ReplicationFactor: 1},
	))

	logger := log.New(testWriter{t}, "", 0)
	handheld, err := New(Config{Brokers: brokers, Peer: "handheld", Counterpart: "wrist"}, WithLogger(logger))
	require.NoError(t, err)
	defer handheld.Close()
	wrist, err := New(Config{Brokers: brokers, Peer: "wrist", Counterpart: "handheld"}, WithLogger(logger))
	require.NoError(t, err)
	defer wrist.Close()

	received := make(chan transport.Envelope, 4)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = wrist.Run(runCtx, func(env transport.Envelope) { received <- env })
	}()

	require.NoError(t, handheld.Enqueue(ctx, transport.Envelope{
		Topic:   "command",
		Payload: []byte(`{"requestActivityList":true}`),
		SentAt:  time.Now().UTC(),
	}))

	select {
	case env := <-received:
		require.Equal(t, "command", env.Topic)
		require.JSONEq(t, `{"requestActivityList":true}`, string(env.Payload))
	case <-time.After(60 * time.Second):
		t.Fatal("queue message was not delivered")
	}
}
