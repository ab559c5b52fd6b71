package server

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meeting-telemetry/ingestion/config"
	"meeting-telemetry/ingestion/event"
	"meeting-telemetry/ingestion/metrics"
)

// EventReporter queues an event and returns its id. A non-nil error means
// the event was not made durable.
type EventReporter interface {
	Report(ev event.Event) (string, error)
}

// QueueDepthFunc returns the live queue depth, or -1 if unknown.
type QueueDepthFunc func() int64

// OtelLogsService accepts OTLP log records and reports each as an event.
type OtelLogsService struct {
	collogspb.UnimplementedLogsServiceServer
	reporter    EventReporter
	eventLogger *BatchedEventLogger
	queueDepth  QueueDepthFunc

	// Backpressure configuration (from config)
	backpressureMaxEvents     int64
	backpressureCheckInterval time.Duration

	// Backpressure state (cached to avoid counting rows on every request)
	underPressure     atomic.Bool
	lastPressureCheck atomic.Int64 // Unix nano timestamp
}

// NewOtelLogsService creates a new logs service. queueDepth may be nil to
// disable backpressure.
func NewOtelLogsService(reporter EventReporter, eventLogger *BatchedEventLogger, queueDepth QueueDepthFunc) *OtelLogsService {
	cfg := config.Get().Server
	svc := &OtelLogsService{
		reporter:                  reporter,
		eventLogger:               eventLogger,
		queueDepth:                queueDepth,
		backpressureMaxEvents:     cfg.BackpressureMaxEvents,
		backpressureCheckInterval: cfg.BackpressureCheckInterval,
	}
	slog.Info("logs service initialized",
		slog.Int64("backpressure_max_events", svc.backpressureMaxEvents),
		slog.Duration("backpressure_check_interval", svc.backpressureCheckInterval))
	return svc
}

// checkBackpressure reports whether the live queue is too deep (cached check).
func (s *OtelLogsService) checkBackpressure() bool {
	if s.queueDepth == nil || s.backpressureMaxEvents <= 0 {
		return false
	}

	now := time.Now().UnixNano()
	lastCheck := s.lastPressureCheck.Load()

	// Only check periodically to avoid a COUNT(*) on every request
	if now-lastCheck < int64(s.backpressureCheckInterval) {
		return s.underPressure.Load()
	}

	if !s.lastPressureCheck.CompareAndSwap(lastCheck, now) {
		// Another goroutine is checking, use cached value
		return s.underPressure.Load()
	}

	depth := s.queueDepth()
	isUnderPressure := depth >= s.backpressureMaxEvents
	wasUnderPressure := s.underPressure.Swap(isUnderPressure)

	if isUnderPressure && !wasUnderPressure {
		slog.Warn("backpressure activated",
			slog.Int64("queue_depth", depth),
			slog.Int64("threshold", s.backpressureMaxEvents))
	} else if !isUnderPressure && wasUnderPressure {
		slog.Info("backpressure released",
			slog.Int64("queue_depth", depth),
			slog.Int64("threshold", s.backpressureMaxEvents))
	}

	return isUnderPressure
}

func (s *OtelLogsService) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	if s.checkBackpressure() {
		return nil, status.Error(codes.ResourceExhausted,
			"event queue is full, please retry later")
	}

	var (
		rejected int
		firstErr error
	)
	now := time.Now()

	for _, resourceLogs := range req.GetResourceLogs() {
		for _, scopeLogs := range resourceLogs.GetScopeLogs() {
			for _, rec := range scopeLogs.GetLogRecords() {
				ev, skipped, err := logRecordToEvent(rec, now)
				if err != nil {
					rejected++
					if firstErr == nil {
						firstErr = err
					}
					metrics.IntakeRecords.WithLabelValues("rejected").Inc()
					continue
				}
				if len(skipped) > 0 {
					slog.DebugContext(ctx, "unsupported attribute values skipped",
						slog.String("event", ev.Name),
						slog.Any("keys", skipped))
				}

				id, err := s.reporter.Report(ev)
				if err != nil {
					rejected++
					if firstErr == nil {
						firstErr = err
					}
					metrics.IntakeRecords.WithLabelValues("persist_failed").Inc()
					continue
				}
				meetingID, _ := ev.Attributes.GetString(event.AttrMeetingID)
				s.eventLogger.LogEvent(id, ev.Name, meetingID)
				metrics.IntakeRecords.WithLabelValues("accepted").Inc()
			}
		}
	}

	resp := &collogspb.ExportLogsServiceResponse{}
	if rejected > 0 {
		s.eventLogger.LogRejected(rejected)
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: int64(rejected),
			ErrorMessage:       rejectionMessage(rejected, firstErr),
		}
	}
	return resp, nil
}
