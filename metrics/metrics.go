// Package metrics holds the Prometheus collectors for the event queues and
// the sender. The daemon exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue labels.
const (
	QueueLive  = "live"
	QueueDirty = "dirty"
)

// Drop reasons.
const (
	ReasonExpired     = "expired"
	ReasonMalformed   = "malformed"
	ReasonUndecodable = "undecodable"
)

var (
	// Buffer metrics
	EventsAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_telemetry_events_added_total",
			Help: "Total number of events added to the buffer",
		},
		[]string{"status"},
	)

	EventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_telemetry_events_sent_total",
			Help: "Total number of events delivered to the collector",
		},
		[]string{"queue"},
	)

	EventsDirtied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meeting_telemetry_events_dirtied_total",
			Help: "Total number of events moved to the dirty queue after a failed send",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_telemetry_events_dropped_total",
			Help: "Total number of events deleted without delivery",
		},
		[]string{"queue", "reason"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meeting_telemetry_queue_depth",
			Help: "Rows currently stored per queue",
		},
		[]string{"queue"},
	)

	// Sender metrics
	SendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_telemetry_send_attempts_total",
			Help: "Total number of POST attempts by outcome",
		},
		[]string{"outcome"},
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meeting_telemetry_send_duration_seconds",
			Help:    "Duration of a send including retries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Intake metrics
	IntakeRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_telemetry_intake_records_total",
			Help: "Total number of OTLP log records received",
		},
		[]string{"status"},
	)
)
