// Package sender delivers wire batches to the ingestion endpoint with
// bounded retry.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"meeting-telemetry/ingestion/config"
	"meeting-telemetry/ingestion/event"
	"meeting-telemetry/ingestion/metrics"
)

// Header names set on every POST.
const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderUserAgent     = "User-Agent"
	HeaderRequestID     = "X-Request-Id"
)

// EventSender posts wire batches and retries retryable statuses.
type EventSender struct {
	poster    Poster
	url       string
	token     string
	userAgent string
	maxRetry  int
	baseDelay time.Duration
	retryable map[int]struct{}

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEventSender builds a sender from the global configuration.
func NewEventSender(poster Poster) *EventSender {
	cfg := config.Get()
	ingestion := cfg.Ingestion
	ingestion.Normalize()
	return &EventSender{
		poster:    poster,
		url:       ingestion.URL,
		token:     cfg.Client.JoinToken,
		userAgent: fmt.Sprintf("%s/%s (%s)", cfg.Client.SDKName, cfg.Client.SDKVersion, runtime.GOOS),
		maxRetry:  ingestion.RetryCountLimit,
		baseDelay: ingestion.RetryBaseDelay,
		retryable: DefaultRetryableCodes,
		sleep:     sleepContext,
	}
}

// Send delivers record and reports whether the collector accepted it.
// Every attempt of one Send carries the same X-Request-Id. Transport
// errors are not retried. Send never returns an error: failures are logged.
func (s *EventSender) Send(ctx context.Context, record event.WireRecord) bool {
	if record.PayloadCount() == 0 {
		return true
	}

	body, err := json.Marshal(record)
	if err != nil {
		slog.Error("unable to serialize record", slog.Any("error", err))
		return false
	}

	requestID := uuid.NewString()
	headers := map[string]string{
		HeaderAuthorization: "Bearer " + s.token,
		HeaderContentType:   "application/json",
		HeaderUserAgent:     s.userAgent,
		HeaderRequestID:     requestID,
	}

	start := time.Now()
	defer func() {
		metrics.SendDuration.Observe(time.Since(start).Seconds())
	}()

	policy := NewBackoffPolicy(s.baseDelay, s.maxRetry, s.retryable)
	for {
		_, err := s.poster.Post(ctx, s.url, body, headers)
		if err == nil {
			metrics.SendAttempts.WithLabelValues("success").Inc()
			slog.Debug("record sent",
				slog.String("request_id", requestID),
				slog.Int("payloads", record.PayloadCount()),
				slog.Int("retries", policy.Count()))
			return true
		}

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			metrics.SendAttempts.WithLabelValues("transport_error").Inc()
			slog.Error("unable to send record",
				slog.String("request_id", requestID),
				slog.Any("error", err))
			return false
		}

		metrics.SendAttempts.WithLabelValues("http_error").Inc()
		if !policy.IsRetryable(httpErr.Code) {
			slog.Warn("record rejected",
				slog.String("request_id", requestID),
				slog.Int("status", httpErr.Code))
			return false
		}

		// Counting before the limit check allows maxRetry+1 attempts in
		// total: the first send plus maxRetry retries.
		policy.Increment()
		if policy.LimitReached() {
			slog.Warn("retry limit reached",
				slog.String("request_id", requestID),
				slog.Int("status", httpErr.Code),
				slog.Int("retries", policy.Count()-1))
			return false
		}

		delay := policy.NextDelay()
		slog.Debug("retrying record",
			slog.String("request_id", requestID),
			slog.Int("status", httpErr.Code),
			slog.Int("attempt", policy.Count()+1),
			slog.Duration("delay", delay))
		if err := s.sleep(ctx, delay); err != nil {
			slog.Warn("send cancelled", slog.String("request_id", requestID), slog.Any("error", err))
			return false
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
