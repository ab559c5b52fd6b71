package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUndecodable means the stored data is not a JSON object at all.
	ErrUndecodable = errors.New("undecodable event data")
	// ErrMalformedEvent means decoding succeeded only partially.
	ErrMalformedEvent = errors.New("malformed event data")
)

// storedEvent is the persisted representation of an Event.
type storedEvent struct {
	Name            string     `json:"name"`
	EventAttributes Attributes `json:"eventAttributes"`
}

// Encode serializes an event to its storage form:
// {"name": ..., "eventAttributes": {...}}.
func Encode(e Event) (string, error) {
	data, err := json.Marshal(storedEvent{Name: e.Name, EventAttributes: e.Attributes})
	if err != nil {
		return "", fmt.Errorf("encode event %q: %w", e.Name, err)
	}
	return string(data), nil
}

// Decode parses the storage form. It never fails hard: a missing or mistyped
// name decodes as "", missing or mistyped attributes as an empty map, and
// unsupported attribute values are dropped. Any such anomaly is reported
// through the returned error (wrapping ErrMalformedEvent) alongside the
// best-effort Event. Input that is not a JSON object yields the zero Event
// and an error wrapping ErrUndecodable.
func Decode(data string) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if fields == nil {
		return Event{}, fmt.Errorf("%w: null document", ErrUndecodable)
	}

	var (
		e        Event
		problems []string
	)

	if raw, ok := fields["name"]; !ok {
		problems = append(problems, "name missing")
	} else if err := json.Unmarshal(raw, &e.Name); err != nil {
		problems = append(problems, "name is not a string")
	}

	if raw, ok := fields["eventAttributes"]; !ok {
		problems = append(problems, "eventAttributes missing")
	} else {
		attrs, rejected, err := decodeAttributes(raw)
		switch {
		case err != nil:
			problems = append(problems, "eventAttributes is not an object")
		case len(rejected) > 0:
			e.Attributes = attrs
			problems = append(problems, fmt.Sprintf("unsupported attribute values for %s", strings.Join(rejected, ",")))
		default:
			e.Attributes = attrs
		}
	}

	if len(problems) > 0 {
		return e, fmt.Errorf("%w: %s", ErrMalformedEvent, strings.Join(problems, "; "))
	}
	return e, nil
}
