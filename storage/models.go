package storage

import (
	"meeting-telemetry/ingestion/event"
)

// Table and column names of the two event queues.
const (
	LiveTable  = "Events"
	DirtyTable = "DirtyEvents"

	ColumnID   = "id"
	ColumnData = "data"
	ColumnTTL  = "ttl"
)

// LiveEventItem is an event waiting in the live queue.
type LiveEventItem struct {
	ID   string
	Data event.Event
}

// WireItem adapts the item for wire conversion.
func (i LiveEventItem) WireItem() event.WireItem {
	return event.WireItem{ID: i.ID, Data: i.Data}
}

// ToDirty moves the item to the dirty queue under the same id.
// ttl is an absolute expiry in epoch milliseconds.
func (i LiveEventItem) ToDirty(ttl int64) DirtyEventItem {
	return DirtyEventItem{ID: i.ID, Data: i.Data, TTL: ttl}
}

// DirtyEventItem is an event whose first delivery failed.
// TTL is fixed when the item is created and never extended.
type DirtyEventItem struct {
	ID   string
	Data event.Event
	TTL  int64
}

// WireItem adapts the item for wire conversion.
func (i DirtyEventItem) WireItem() event.WireItem {
	ttl := i.TTL
	return event.WireItem{ID: i.ID, Data: i.Data, TTL: &ttl}
}

// Expired reports whether the item's TTL is at or before nowMs.
func (i DirtyEventItem) Expired(nowMs int64) bool {
	return i.TTL <= nowMs
}

var liveSchema = TableSchema{
	Name:       LiveTable,
	PrimaryKey: Column{Name: ColumnID, Type: "TEXT"},
	Columns: []Column{
		{Name: ColumnData, Type: "TEXT NOT NULL"},
	},
}

var dirtySchema = TableSchema{
	Name:       DirtyTable,
	PrimaryKey: Column{Name: ColumnID, Type: "TEXT"},
	Columns: []Column{
		{Name: ColumnData, Type: "TEXT NOT NULL"},
		{Name: ColumnTTL, Type: "INTEGER NOT NULL"},
	},
}
