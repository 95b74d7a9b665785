package kafkaqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitysync",
		Subsystem: "kafkaqueue",
		Name:      "messages_enqueued_total",
		Help:      "Number of messages written to the counterpart queue topic.",
	}, []string{"topic"})

	consumedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitysync",
		Subsystem: "kafkaqueue",
		Name:      "messages_consumed_total",
		Help:      "Number of queue messages handed to the receiver and committed.",
	}, []string{"topic"})

	frameErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activitysync",
		Subsystem: "kafkaqueue",
		Name:      "frame_errors_total",
		Help:      "Number of queue records dropped because their framing was invalid.",
	}, []string{"topic"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "activitysync",
		Subsystem: "kafkaqueue",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent consumed queue message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(enqueuedCounter, consumedCounter, frameErrorCounter, lastMessageGauge)
}
