package storage

import (
	"errors"
	"log/slog"

	"meeting-telemetry/ingestion/event"
	"meeting-telemetry/ingestion/logger"
)

// LiveEventDao persists events awaiting their first send.
type LiveEventDao struct {
	store TableStore
	log   *slog.Logger
}

// NewLiveEventDao creates the live table if needed.
func NewLiveEventDao(store TableStore) *LiveEventDao {
	d := &LiveEventDao{
		store: store,
		log:   logger.Component("live_events"),
	}
	if !store.CreateTable(liveSchema) {
		d.log.Warn("live table unavailable, operations will fail")
	}
	return d
}

// List returns up to maxCount items and the ids of rows whose data could
// not be decoded at all. Events that decode only partially are returned
// as-is and logged.
func (d *LiveEventDao) List(maxCount int) ([]LiveEventItem, []string) {
	rows := d.store.QueryLimited(LiveTable, maxCount)
	items := make([]LiveEventItem, 0, len(rows))
	var skipped []string
	for _, row := range rows {
		id, data, ok := rowIDAndData(row)
		if !ok {
			d.log.Error("unreadable live row", slog.String("id", id))
			if id != "" {
				skipped = append(skipped, id)
			}
			continue
		}
		ev, err := event.Decode(data)
		if errors.Is(err, event.ErrUndecodable) {
			d.log.Error("unable to decode live event", slog.String("id", id), slog.Any("error", err))
			skipped = append(skipped, id)
			continue
		}
		if err != nil {
			d.log.Warn("live event decoded with errors", slog.String("id", id), slog.Any("error", err))
		}
		items = append(items, LiveEventItem{ID: id, Data: ev})
	}
	return items, skipped
}

// DeleteByIDs returns the number of rows deleted, or -1 on failure.
func (d *LiveEventDao) DeleteByIDs(ids []string) int {
	return d.store.DeleteByKeyIn(LiveTable, ColumnID, ids)
}

// InsertBatch writes every item or none of them.
func (d *LiveEventDao) InsertBatch(items []LiveEventItem) bool {
	if len(items) == 0 {
		return true
	}
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		data, err := event.Encode(item.Data)
		if err != nil {
			d.log.Error("unable to encode live event", slog.String("id", item.ID), slog.Any("error", err))
			return false
		}
		rows = append(rows, Row{ColumnID: item.ID, ColumnData: data})
	}
	return d.store.InsertBatch(LiveTable, rows)
}

// Count returns the queue depth, or -1 on failure.
func (d *LiveEventDao) Count() int64 {
	return d.store.Count(LiveTable)
}

func rowIDAndData(row Row) (id, data string, ok bool) {
	id, idOK := row[ColumnID].(string)
	data, dataOK := row[ColumnData].(string)
	return id, data, idOK && dataOK
}
