package server

import (
	"errors"
	"fmt"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"meeting-telemetry/ingestion/event"
)

// AttrEventName is the semantic-convention attribute carrying the event
// name for senders that predate the LogRecord event_name field.
const AttrEventName = "event.name"

var errMissingEventName = errors.New("log record has no event name")

// logRecordToEvent converts an OTLP log record into an Event. Attributes
// with string, int, finite double or bool values are kept; other values
// are skipped and reported by name.
func logRecordToEvent(rec *logspb.LogRecord, now time.Time) (event.Event, []string, error) {
	name := rec.GetEventName()

	var (
		attrs   event.Attributes
		skipped []string
	)
	for _, kv := range rec.GetAttributes() {
		if kv.GetKey() == AttrEventName {
			if name == "" {
				name = kv.GetValue().GetStringValue()
			}
			continue
		}
		v, ok := toAttributeValue(kv.GetValue())
		if !ok {
			skipped = append(skipped, kv.GetKey())
			continue
		}
		attrs.Set(kv.GetKey(), v)
	}

	if name == "" {
		return event.Event{}, skipped, errMissingEventName
	}

	return event.NewAt(name, recordTime(rec, now), attrs), skipped, nil
}

func toAttributeValue(v *commonpb.AnyValue) (event.AttributeValue, bool) {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return event.String(x.StringValue), true
	case *commonpb.AnyValue_IntValue:
		return event.Int(x.IntValue), true
	case *commonpb.AnyValue_DoubleValue:
		v := event.Number(x.DoubleValue)
		return v, v.Valid()
	case *commonpb.AnyValue_BoolValue:
		return event.Bool(x.BoolValue), true
	default:
		return event.AttributeValue{}, false
	}
}

// recordTime prefers the event time, then the observed time.
func recordTime(rec *logspb.LogRecord, now time.Time) time.Time {
	if ts := rec.GetTimeUnixNano(); ts > 0 {
		return time.Unix(0, int64(ts))
	}
	if ts := rec.GetObservedTimeUnixNano(); ts > 0 {
		return time.Unix(0, int64(ts))
	}
	return now
}

func rejectionMessage(rejected int, firstErr error) string {
	return fmt.Sprintf("%d log records rejected: %v", rejected, firstErr)
}
