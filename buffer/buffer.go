// Package buffer decides when queued events are sent and what happens to
// them afterwards. Events are persisted to the live queue on Add, sent in
// batches by Process, and parked in the dirty queue with an expiry when a
// send fails. ProcessDirty retries parked events until they expire.
package buffer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	"meeting-telemetry/ingestion/config"
	"meeting-telemetry/ingestion/event"
	"meeting-telemetry/ingestion/metrics"
	"meeting-telemetry/ingestion/storage"
)

// inFlightExpiry bounds how long an urgent send can hide its live row
// from Process if the goroutine never clears its marker.
const inFlightExpiry = 5 * time.Minute

// LiveStore is the live queue.
type LiveStore interface {
	List(maxCount int) ([]storage.LiveEventItem, []string)
	DeleteByIDs(ids []string) int
	InsertBatch(items []storage.LiveEventItem) bool
	Count() int64
}

// DirtyStore is the queue of events whose first send failed.
type DirtyStore interface {
	List(maxCount int) ([]storage.DirtyEventItem, []string)
	DeleteByIDs(ids []string) int
	InsertBatch(items []storage.DirtyEventItem) bool
	Count() int64
}

// Sender delivers one wire record.
type Sender interface {
	Send(ctx context.Context, record event.WireRecord) bool
}

// Option configures an EventBuffer.
type Option func(*EventBuffer)

// WithUrgentFunc replaces the default urgent predicate.
func WithUrgentFunc(fn UrgentFunc) Option {
	return func(b *EventBuffer) { b.urgent = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *EventBuffer) { b.now = now }
}

// EventBuffer owns the live and dirty queues.
type EventBuffer struct {
	live      LiveStore
	dirty     DirtyStore
	sender    Sender
	converter event.WireConverter

	flushSize int
	dirtyTTL  time.Duration
	disabled  bool
	urgent    UrgentFunc
	now       func() time.Time

	// ids whose urgent send is outstanding
	inFlight *otter.Cache[string, struct{}]

	liveMu   sync.Mutex
	dirtyMu  sync.Mutex
	urgentWG sync.WaitGroup
}

// New creates an EventBuffer from the global configuration.
func New(live LiveStore, dirty DirtyStore, sender Sender, opts ...Option) *EventBuffer {
	cfg := config.Get()
	ingestion := cfg.Ingestion
	ingestion.Normalize()

	b := &EventBuffer{
		live:      live,
		dirty:     dirty,
		sender:    sender,
		converter: NewConverter(cfg.Client),
		flushSize: ingestion.FlushSize,
		dirtyTTL:  ingestion.DirtyTTL,
		disabled:  ingestion.Disabled,
		urgent:    IsMeetingFailure,
		now:       time.Now,
		inFlight: otter.Must(&otter.Options[string, struct{}]{
			MaximumSize:      10_000,
			ExpiryCalculator: otter.ExpiryWriting[string, struct{}](inFlightExpiry),
		}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ErrNotPersisted is returned by TryAdd when the live insert fails.
var ErrNotPersisted = errors.New("event not persisted")

// Add persists ev to the live queue and returns its id. Urgent events are
// also sent right away on a separate goroutine; Add does not wait for it.
// The buffer keeps its own copy of ev's attributes, so the caller may go
// on using ev.
func (b *EventBuffer) Add(ev event.Event) string {
	id, _ := b.TryAdd(ev)
	return id
}

// TryAdd is Add, but reports ErrNotPersisted when the event could not be
// written to the live queue. An urgent event is still sent in that case.
func (b *EventBuffer) TryAdd(ev event.Event) (string, error) {
	ev.Attributes = ev.Attributes.Clone()
	item := storage.LiveEventItem{ID: storage.NewID(), Data: ev}
	urgent := !b.disabled && b.urgent(ev)

	// Mark before the insert so a concurrent Process cannot pick the row up.
	if urgent {
		b.inFlight.Set(item.ID, struct{}{})
	}

	var err error
	if b.live.InsertBatch([]storage.LiveEventItem{item}) {
		metrics.EventsAdded.WithLabelValues("persisted").Inc()
	} else {
		err = ErrNotPersisted
		metrics.EventsAdded.WithLabelValues("persist_failed").Inc()
		slog.Error("unable to persist event", slog.String("id", item.ID), slog.String("name", ev.Name))
	}

	if urgent {
		b.urgentWG.Add(1)
		go func() {
			defer b.urgentWG.Done()
			defer b.inFlight.Invalidate(item.ID)
			b.sendUrgent(context.Background(), item)
		}()
	}
	return item.ID, err
}

func (b *EventBuffer) sendUrgent(ctx context.Context, item storage.LiveEventItem) {
	slog.Info("sending urgent event", slog.String("id", item.ID), slog.String("name", item.Data.Name))
	b.sendLive(ctx, []storage.LiveEventItem{item})
}

// Wait blocks until every urgent send started by Add has finished.
func (b *EventBuffer) Wait() {
	b.urgentWG.Wait()
}

// Process sends one batch from the live queue. Sent rows leave the live
// queue whatever the outcome; on failure they move to the dirty queue.
// A call made while another Process is running returns immediately.
func (b *EventBuffer) Process(ctx context.Context) {
	if b.disabled {
		return
	}
	if !b.liveMu.TryLock() {
		slog.Debug("live processing already running, skipping")
		return
	}
	defer b.liveMu.Unlock()
	defer b.updateQueueDepth()

	items, skipped := b.live.List(b.flushSize)
	if len(skipped) > 0 {
		b.drop(metrics.QueueLive, metrics.ReasonUndecodable, skipped, b.live.DeleteByIDs)
	}

	var malformed []string
	sendable := make([]storage.LiveEventItem, 0, len(items))
	for _, item := range items {
		if _, busy := b.inFlight.GetIfPresent(item.ID); busy {
			continue
		}
		if !item.Data.WellFormed() {
			malformed = append(malformed, item.ID)
			continue
		}
		sendable = append(sendable, item)
	}
	if len(malformed) > 0 {
		b.drop(metrics.QueueLive, metrics.ReasonMalformed, malformed, b.live.DeleteByIDs)
	}
	if len(sendable) == 0 {
		return
	}

	b.sendLive(ctx, sendable)
}

// sendLive sends items taken from the live queue and settles them.
func (b *EventBuffer) sendLive(ctx context.Context, items []storage.LiveEventItem) {
	ids := make([]string, len(items))
	wire := make([]event.WireItem, len(items))
	for i, item := range items {
		ids[i] = item.ID
		wire[i] = item.WireItem()
	}

	ok := b.sender.Send(ctx, b.converter.ToWireBatch(wire))

	if n := b.live.DeleteByIDs(ids); n < 0 {
		// Rows stay live and are sent again next cycle.
		slog.Error("unable to remove sent events from live queue", slog.Int("count", len(ids)), slog.Bool("sent", ok))
		return
	}

	if ok {
		metrics.EventsSent.WithLabelValues(metrics.QueueLive).Add(float64(len(items)))
		slog.Debug("live events sent", slog.Int("count", len(items)))
		return
	}

	ttl := b.now().Add(b.dirtyTTL).UnixMilli()
	dirtyItems := make([]storage.DirtyEventItem, len(items))
	for i, item := range items {
		dirtyItems[i] = item.ToDirty(ttl)
	}
	if !b.dirty.InsertBatch(dirtyItems) {
		metrics.EventsDropped.WithLabelValues(metrics.QueueLive, "dirty_insert_failed").Add(float64(len(items)))
		slog.Error("unable to move failed events to dirty queue, events lost", slog.Int("count", len(items)))
		return
	}
	metrics.EventsDirtied.Add(float64(len(items)))
	slog.Info("unable to publish events, moved to dirty queue", slog.Int("count", len(items)))
}

// ProcessDirty retries one batch from the dirty queue. Expired, malformed
// and undecodable rows are deleted without sending. Rows that fail to send
// again stay in place until their ttl passes.
func (b *EventBuffer) ProcessDirty(ctx context.Context) {
	if b.disabled {
		return
	}
	if !b.dirtyMu.TryLock() {
		slog.Debug("dirty processing already running, skipping")
		return
	}
	defer b.dirtyMu.Unlock()
	defer b.updateQueueDepth()

	items, skipped := b.dirty.List(b.flushSize)
	if len(skipped) > 0 {
		b.drop(metrics.QueueDirty, metrics.ReasonUndecodable, skipped, b.dirty.DeleteByIDs)
	}

	nowMs := b.now().UnixMilli()
	var expired, malformed []string
	sendable := make([]event.WireItem, 0, len(items))
	for _, item := range items {
		switch {
		case item.Expired(nowMs):
			expired = append(expired, item.ID)
		case !item.Data.WellFormed():
			malformed = append(malformed, item.ID)
		default:
			sendable = append(sendable, item.WireItem())
		}
	}
	if len(expired) > 0 {
		b.drop(metrics.QueueDirty, metrics.ReasonExpired, expired, b.dirty.DeleteByIDs)
	}
	if len(malformed) > 0 {
		b.drop(metrics.QueueDirty, metrics.ReasonMalformed, malformed, b.dirty.DeleteByIDs)
	}
	if len(sendable) == 0 {
		return
	}

	if !b.sender.Send(ctx, b.converter.ToWireBatch(sendable)) {
		slog.Info("unable to resend dirty events, keeping them", slog.Int("count", len(sendable)))
		return
	}

	ids := make([]string, len(sendable))
	for i, w := range sendable {
		ids[i] = w.ID
	}
	if n := b.dirty.DeleteByIDs(ids); n < 0 {
		slog.Error("unable to remove sent events from dirty queue", slog.Int("count", len(ids)))
	}
	metrics.EventsSent.WithLabelValues(metrics.QueueDirty).Add(float64(len(sendable)))
	slog.Debug("dirty events sent", slog.Int("count", len(sendable)))
}

func (b *EventBuffer) drop(queue, reason string, ids []string, deleteFn func([]string) int) {
	n := deleteFn(ids)
	if n < 0 {
		slog.Error("unable to drop events", slog.String("queue", queue), slog.String("reason", reason), slog.Int("count", len(ids)))
		return
	}
	metrics.EventsDropped.WithLabelValues(queue, reason).Add(float64(n))
	slog.Debug("dropped events", slog.String("queue", queue), slog.String("reason", reason), slog.Int("count", n))
}

func (b *EventBuffer) updateQueueDepth() {
	if n := b.live.Count(); n >= 0 {
		metrics.QueueDepth.WithLabelValues(metrics.QueueLive).Set(float64(n))
	}
	if n := b.dirty.Count(); n >= 0 {
		metrics.QueueDepth.WithLabelValues(metrics.QueueDirty).Set(float64(n))
	}
}
