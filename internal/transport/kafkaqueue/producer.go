package kafkaqueue

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// outboundBatchTimeout bounds how long a record waits for a batch to fill.
const outboundBatchTimeout = 10 * time.Millisecond

// newOutboundWriter returns the writer for the counterpart's queue topic.
// Records are keyed by message topic and hashed, so every message kind stays
// in order on a single partition.
func newOutboundWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		BatchTimeout:           outboundBatchTimeout,
		AllowAutoTopicCreation: true,
	}
}
