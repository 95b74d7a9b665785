// Package kafkaqueue implements the durable queue tier on Kafka. Each peer
// consumes its own topic and writes to the counterpart's.
package kafkaqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/activitysync/internal/transport"
)

// DefaultTopicPrefix prefixes every peer topic.
const DefaultTopicPrefix = "activitysync"

const (
	headerTopic  = "message_topic"
	headerOrigin = "origin"
	headerSent   = "sent_at"
)

// Reader exposes the subset of kafka.Reader the queue needs.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Config names the peers and brokers.
type Config struct {
	Brokers     []string
	TopicPrefix string
	// Peer is this peer's id; its inbound topic is <prefix>.<Peer>.
	Peer string
	// Counterpart is the receiving peer's id for outbound writes.
	Counterpart string
}

// Topic returns the queue topic owned by peer.
func Topic(prefix, peer string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "." + peer
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger overrides the logger.
func WithLogger(l *log.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithReader replaces the Kafka reader, mainly for tests.
func WithReader(r Reader) Option {
	return func(q *Queue) { q.reader = r }
}

// WithWriter replaces the outbound writer, mainly for tests.
func WithWriter(w messageWriter) Option {
	return func(q *Queue) { q.writer = w }
}

// WithSchemaRegistry frames outbound records with the registered schema id.
func WithSchemaRegistry(r schemaRegistrar) Option {
	return func(q *Queue) { q.registry = r }
}

// Queue implements transport.Queue.
type Queue struct {
	cfg      Config
	inbound  string
	outbound string
	reader   Reader
	writer   messageWriter
	registry schemaRegistrar
	logger   *log.Logger

	schemaMu sync.Mutex
	schemaID int
	resolved bool
}

// New constructs a Queue. Without overrides it dials the configured brokers.
func New(cfg Config, opts ...Option) (*Queue, error) {
	if cfg.Peer == "" || cfg.Counterpart == "" {
		return nil, errors.New("kafkaqueue: peer and counterpart ids are required")
	}
	q := &Queue{
		cfg:      cfg,
		inbound:  Topic(cfg.TopicPrefix, cfg.Peer),
		outbound: Topic(cfg.TopicPrefix, cfg.Counterpart),
		logger:   log.New(log.Writer(), "[kafkaqueue] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.reader == nil || q.writer == nil {
		if len(cfg.Brokers) == 0 {
			return nil, errors.New("kafkaqueue: no brokers configured")
		}
	}
	if q.writer == nil {
		q.writer = newOutboundWriter(cfg.Brokers, q.outbound)
	}
	if q.reader == nil {
		q.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     q.inbound + "-receiver",
			Topic:       q.inbound,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
			StartOffset: kafka.FirstOffset,
		})
	}
	return q, nil
}

// InboundTopic returns the topic this peer consumes.
func (q *Queue) InboundTopic() string { return q.inbound }

// OutboundTopic returns the topic this peer writes.
func (q *Queue) OutboundTopic() string { return q.outbound }

func (q *Queue) resolveSchema(ctx context.Context) (int, error) {
	if q.registry == nil {
		return 0, nil
	}
	q.schemaMu.Lock()
	defer q.schemaMu.Unlock()
	if q.resolved {
		return q.schemaID, nil
	}
	id, err := q.registry.EnsureSchema(ctx, q.outbound+"-value", messageSchema)
	if err != nil {
		return 0, fmt.Errorf("ensure schema: %w", err)
	}
	q.schemaID = id
	q.resolved = true
	return id, nil
}

// Enqueue implements transport.Queue.
func (q *Queue) Enqueue(ctx context.Context, env transport.Envelope) error {
	schemaID, err := q.resolveSchema(ctx)
	if err != nil {
		return err
	}
	sentAt := env.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	msg := kafka.Message{
		Key:   []byte(env.Topic),
		Value: encodeWireFormat(schemaID, env.Payload),
		Time:  sentAt,
		Headers: []kafka.Header{
			{Key: headerTopic, Value: []byte(env.Topic)},
			{Key: headerOrigin, Value: []byte(q.cfg.Peer)},
			{Key: headerSent, Value: []byte(sentAt.Format(time.RFC3339Nano))},
		},
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", q.outbound, err)
	}
	enqueuedCounter.WithLabelValues(q.outbound).Inc()
	return nil
}

// Run implements transport.Queue. Records with invalid framing are committed
// and dropped so they cannot block the partition.
func (q *Queue) Run(ctx context.Context, sink func(transport.Envelope)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, io.EOF) {
				return transport.ErrClosed
			}
			q.logger.Printf("fetch error: %v", err)
			continue
		}

		env, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			q.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			frameErrorCounter.WithLabelValues(msg.Topic).Inc()
			if commitErr := q.reader.CommitMessages(ctx, msg); commitErr != nil {
				q.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		sink(env)

		if commitErr := q.reader.CommitMessages(ctx, msg); commitErr != nil {
			q.logger.Printf("commit error: %v", commitErr)
			continue
		}
		consumedCounter.WithLabelValues(msg.Topic).Inc()
		if !msg.Time.IsZero() {
			lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Time.Unix()))
		}
	}
}

// Close releases the reader and writer.
func (q *Queue) Close() error {
	return errors.Join(q.reader.Close(), q.writer.Close())
}

func decodeMessage(msg kafka.Message) (transport.Envelope, error) {
	_, payload, err := decodeWireFormat(msg.Value)
	if err != nil {
		return transport.Envelope{}, err
	}
	topic, ok := headerValue(msg, headerTopic)
	if !ok {
		topic = msg.Key
	}
	if len(topic) == 0 {
		return transport.Envelope{}, errors.New("missing message_topic header")
	}

	sentAt := msg.Time
	if raw, ok := headerValue(msg, headerSent); ok {
		if ts, err := time.Parse(time.RFC3339Nano, string(raw)); err == nil {
			sentAt = ts
		}
	}
	return transport.Envelope{Topic: string(topic), Payload: payload, SentAt: sentAt}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, h := range msg.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}
