// Package event defines the telemetry Event, its attribute union, the storage
// codec and the conversion of queued events into the collector's wire batch.
package event

import "time"

// Well-known attribute names.
const (
	AttrTimestampMs   = "timestampMs"
	AttrMeetingID     = "meetingId"
	AttrAttendeeID    = "attendeeId"
	AttrMeetingStatus = "meetingStatus"
)

// Event is a named, timestamped attribute bag. Copies of an Event share
// their attribute map, so treat events as immutable once created: With
// returns an amended copy.
type Event struct {
	Name       string
	Attributes Attributes
}

// New creates an event stamped with the current time.
func New(name string, attrs Attributes) Event {
	return NewAt(name, time.Now(), attrs)
}

// NewAt creates an event whose timestampMs is at, unless attrs already carries one.
func NewAt(name string, at time.Time, attrs Attributes) Event {
	a := attrs.Clone()
	if _, ok := a.Get(AttrTimestampMs); !ok {
		a.Set(AttrTimestampMs, Int(at.UnixMilli()))
	}
	return Event{Name: name, Attributes: a}
}

// With returns a new Event whose attributes are e's merged with attrs.
func (e Event) With(attrs Attributes) Event {
	return Event{Name: e.Name, Attributes: e.Attributes.Merge(attrs)}
}

// TimestampMs returns the numeric timestampMs attribute.
func (e Event) TimestampMs() (int64, bool) {
	v, ok := e.Attributes.Get(AttrTimestampMs)
	if !ok {
		return 0, false
	}
	return v.AsInt64()
}

// WellFormed reports whether the event carries a numeric timestampMs.
// Events without one cannot be placed on the wire.
func (e Event) WellFormed() bool {
	_, ok := e.TimestampMs()
	return ok
}
