package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"meeting-telemetry/ingestion/buffer"
)

// EventLogEntry represents a received event for batched logging.
type EventLogEntry struct {
	ID        string
	Name      string
	MeetingID string
}

// BatchedEventLogger accumulates event receipts and logs them periodically.
type BatchedEventLogger struct {
	mu       sync.Mutex
	entries  []EventLogEntry
	rejected int
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewBatchedEventLogger creates a logger that batches receipt logs.
// interval is how often to flush the batch to logs (e.g., 10*time.Second).
func NewBatchedEventLogger(interval time.Duration) *BatchedEventLogger {
	return &BatchedEventLogger{
		entries:  make([]EventLogEntry, 0, 100),
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background goroutine that flushes logs periodically.
func (b *BatchedEventLogger) Start() {
	go b.run()
}

// Stop signals the logger to stop and waits for it to finish.
func (b *BatchedEventLogger) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

// LogEvent records an accepted event to be logged in the next batch.
func (b *BatchedEventLogger) LogEvent(id, name, meetingID string) {
	b.mu.Lock()
	b.entries = append(b.entries, EventLogEntry{
		ID:        id,
		Name:      name,
		MeetingID: meetingID,
	})
	b.mu.Unlock()
}

// LogRejected counts log records that could not become events.
func (b *BatchedEventLogger) LogRejected(n int) {
	b.mu.Lock()
	b.rejected += n
	b.mu.Unlock()
}

func (b *BatchedEventLogger) run() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.stopCh:
			b.flush() // Final flush before stopping
			return
		}
	}
}

// meetingSummary counts the events received for one meeting by name.
type meetingSummary struct {
	MeetingID string
	Total     int
	ByName    map[string]int
	Failures  int
}

// summarize groups entries by meeting in order of first appearance.
// Entries without a meeting id share the "" group.
func summarize(entries []EventLogEntry) []meetingSummary {
	var out []meetingSummary
	index := make(map[string]int)
	for _, e := range entries {
		i, ok := index[e.MeetingID]
		if !ok {
			i = len(out)
			index[e.MeetingID] = i
			out = append(out, meetingSummary{MeetingID: e.MeetingID, ByName: make(map[string]int)})
		}
		out[i].Total++
		out[i].ByName[e.Name]++
		if e.Name == buffer.EventMeetingFailed {
			out[i].Failures++
		}
	}
	return out
}

func (b *BatchedEventLogger) flush() {
	b.mu.Lock()
	entries := b.entries
	rejected := b.rejected
	b.entries = make([]EventLogEntry, 0, 100)
	b.rejected = 0
	b.mu.Unlock()

	if len(entries) == 0 && rejected == 0 {
		return
	}

	meetings := summarize(entries)
	slog.Info("received events",
		slog.Int("count", len(entries)),
		slog.Int("meetings", len(meetings)),
		slog.Int("rejected", rejected),
	)

	for _, m := range meetings {
		attrs := []any{
			slog.String("meeting_id", m.MeetingID),
			slog.Int("count", m.Total),
			slog.Any("by_name", m.ByName),
		}
		if m.Failures > 0 {
			slog.Warn("meeting failures received", append(attrs, slog.Int("failures", m.Failures))...)
			continue
		}
		slog.Info("meeting events", attrs...)
	}

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		for _, e := range entries {
			slog.Debug("event received",
				slog.String("id", e.ID),
				slog.String("name", e.Name),
				slog.String("meeting_id", e.MeetingID),
			)
		}
	}
}
