package buffer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"meeting-telemetry/ingestion/config"
	"meeting-telemetry/ingestion/event"
)

// ErrNotRunning is returned by Flush when the reporter loop is not running.
var ErrNotRunning = errors.New("reporter not running")

// Reporter stamps events with the client's correlation ids and drives the
// buffer on a fixed interval.
type Reporter struct {
	buffer   *EventBuffer
	client   config.ClientConfig
	interval time.Duration
	disabled bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	// For manual flush requests
	flushCh chan chan struct{}
}

// NewReporter creates a Reporter from the global configuration.
func NewReporter(buffer *EventBuffer) *Reporter {
	cfg := config.Get()
	ingestion := cfg.Ingestion
	ingestion.Normalize()
	ctx, cancel := context.WithCancel(context.Background())

	return &Reporter{
		buffer:   buffer,
		client:   cfg.Client,
		interval: ingestion.FlushInterval,
		disabled: ingestion.Disabled,
		ctx:      ctx,
		cancel:   cancel,
		flushCh:  make(chan chan struct{}),
	}
}

// Report adds the client's meeting and attendee ids to ev and queues it.
// The ids are stored with the event so a later resend still carries them.
// The error is ErrNotPersisted when the event did not reach the live queue.
func (r *Reporter) Report(ev event.Event) (string, error) {
	var ids event.Attributes
	if r.client.MeetingID != "" {
		ids.Set(event.AttrMeetingID, event.String(r.client.MeetingID))
	}
	if r.client.AttendeeID != "" {
		ids.Set(event.AttrAttendeeID, event.String(r.client.AttendeeID))
	}
	if ids.Len() > 0 {
		ev = ev.With(ids)
	}
	return r.buffer.TryAdd(ev)
}

// Start runs one dirty-queue pass immediately, then processes both queues
// every interval. It does nothing when ingestion is disabled or the loop is
// already running.
func (r *Reporter) Start() {
	if r.disabled {
		slog.Info("event ingestion disabled, reporter not started")
		return
	}
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.run()
	slog.Info("reporter started", slog.Duration("interval", r.interval))
}

// Stop ends the loop and waits for the current cycle and any urgent sends.
func (r *Reporter) Stop() {
	slog.Info("stopping reporter")
	r.cancel()
	r.wg.Wait()
	r.buffer.Wait()
	slog.Info("reporter stopped")
}

// Flush runs one cycle on the loop goroutine and waits for it.
func (r *Reporter) Flush(ctx context.Context) error {
	if !r.started.Load() {
		return ErrNotRunning
	}
	done := make(chan struct{})
	select {
	case r.flushCh <- done:
	case <-r.ctx.Done():
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main loop for the reporter.
func (r *Reporter) run() {
	defer r.wg.Done()

	// Sends are not tied to r.ctx: a cycle in progress at Stop completes.
	sendCtx := context.Background()

	r.buffer.ProcessDirty(sendCtx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			r.cycle(sendCtx)

		case done := <-r.flushCh:
			r.cycle(sendCtx)
			close(done)
		}
	}
}

// cycle retries dirty events before sending new ones, so events dirtied in
// this cycle wait for the next tick.
func (r *Reporter) cycle(ctx context.Context) {
	r.buffer.ProcessDirty(ctx)
	r.buffer.Process(ctx)
}
