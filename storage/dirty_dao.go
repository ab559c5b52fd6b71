package storage

import (
	"errors"
	"log/slog"

	"meeting-telemetry/ingestion/event"
	"meeting-telemetry/ingestion/logger"
)

// DirtyEventDao persists events whose first send failed, each with an
// absolute expiry.
type DirtyEventDao struct {
	store TableStore
	log   *slog.Logger
}

// NewDirtyEventDao creates the dirty table if needed.
func NewDirtyEventDao(store TableStore) *DirtyEventDao {
	d := &DirtyEventDao{
		store: store,
		log:   logger.Component("dirty_events"),
	}
	if !store.CreateTable(dirtySchema) {
		d.log.Warn("dirty table unavailable, operations will fail")
	}
	return d
}

// List returns up to maxCount items and the ids of rows that could not be
// decoded or carry no usable ttl.
func (d *DirtyEventDao) List(maxCount int) ([]DirtyEventItem, []string) {
	rows := d.store.QueryLimited(DirtyTable, maxCount)
	items := make([]DirtyEventItem, 0, len(rows))
	var skipped []string
	for _, row := range rows {
		id, data, ok := rowIDAndData(row)
		ttl, ttlOK := row[ColumnTTL].(int64)
		if !ok || !ttlOK {
			d.log.Error("unreadable dirty row", slog.String("id", id))
			if id != "" {
				skipped = append(skipped, id)
			}
			continue
		}
		ev, err := event.Decode(data)
		if errors.Is(err, event.ErrUndecodable) {
			d.log.Error("unable to decode dirty event", slog.String("id", id), slog.Any("error", err))
			skipped = append(skipped, id)
			continue
		}
		if err != nil {
			d.log.Warn("dirty event decoded with errors", slog.String("id", id), slog.Any("error", err))
		}
		items = append(items, DirtyEventItem{ID: id, Data: ev, TTL: ttl})
	}
	return items, skipped
}

// DeleteByIDs returns the number of rows deleted, or -1 on failure.
func (d *DirtyEventDao) DeleteByIDs(ids []string) int {
	return d.store.DeleteByKeyIn(DirtyTable, ColumnID, ids)
}

// InsertBatch writes every item or none of them.
func (d *DirtyEventDao) InsertBatch(items []DirtyEventItem) bool {
	if len(items) == 0 {
		return true
	}
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		data, err := event.Encode(item.Data)
		if err != nil {
			d.log.Error("unable to encode dirty event", slog.String("id", item.ID), slog.Any("error", err))
			return false
		}
		rows = append(rows, Row{ColumnID: item.ID, ColumnData: data, ColumnTTL: item.TTL})
	}
	return d.store.InsertBatch(DirtyTable, rows)
}

// Count returns the queue depth, or -1 on failure.
func (d *DirtyEventDao) Count() int64 {
	return d.store.Count(DirtyTable)
}
