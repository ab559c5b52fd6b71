package buffer

import (
	"meeting-telemetry/ingestion/event"
)

// EventMeetingFailed is the terminal meeting failure event.
const EventMeetingFailed = "meetingFailed"

// UrgentFunc decides whether an event is sent as soon as it is added.
type UrgentFunc func(event.Event) bool

// audioFailureStatuses are the meeting status codes after which the host
// is likely to be torn down, keyed by name and by numeric code.
var audioFailureStatuses = map[string]int64{
	"AudioAuthenticationRejected": 4,
	"AudioInternalServerError":    7,
	"AudioServiceUnavailable":     8,
	"AudioDisconnected":           9,
}

// IsMeetingFailure is the default urgent predicate: a meetingFailed event
// whose meetingStatus is an audio failure, given either as the status name
// or its numeric code.
func IsMeetingFailure(e event.Event) bool {
	if e.Name != EventMeetingFailed {
		return false
	}
	v, ok := e.Attributes.Get(event.AttrMeetingStatus)
	if !ok {
		return false
	}
	if s, ok := v.AsString(); ok {
		_, found := audioFailureStatuses[s]
		return found
	}
	if n, ok := v.AsInt64(); ok {
		for _, code := range audioFailureStatuses {
			if code == n {
				return true
			}
		}
	}
	return false
}

// Never is an UrgentFunc that never short-circuits the batch path.
func Never(event.Event) bool { return false }
