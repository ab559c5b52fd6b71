package event

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// WireVersion is the "v" field of every WireEvent.
const WireVersion = 1

// Payload keys written by the converter. Attributes with the same name are
// not copied into the payload.
const (
	payloadName = "name"
	payloadTS   = "ts"
	payloadID   = "id"
	payloadTTL  = "ttl"
)

var reservedPayloadKeys = map[string]struct{}{
	payloadName: {}, payloadTS: {}, payloadID: {}, payloadTTL: {},
}

// WireRecord is the POST body sent to the collector.
type WireRecord struct {
	Metadata Attributes  `json:"metadata"`
	Events   []WireEvent `json:"events"`
}

// WireEvent groups payloads sharing one correlation key. Its metadata
// overrides the record-level metadata on the collector side.
type WireEvent struct {
	Type     string        `json:"type"`
	Version  int           `json:"v"`
	Metadata Attributes    `json:"metadata"`
	Payloads []WirePayload `json:"payloads"`
}

// WirePayload is one event on the wire.
type WirePayload struct {
	Name        string
	ID          string
	TimestampMs int64
	TTL         *int64 // set for payloads resent from the dirty queue
	Attributes  Attributes
}

// PayloadCount returns the number of payloads across all events.
func (r WireRecord) PayloadCount() int {
	n := 0
	for _, e := range r.Events {
		n += len(e.Payloads)
	}
	return n
}

func (r WireRecord) MarshalJSON() ([]byte, error) {
	events := r.Events
	if events == nil {
		events = []WireEvent{}
	}
	type record WireRecord
	return json.Marshal(record{Metadata: r.Metadata, Events: events})
}

func (e WireEvent) MarshalJSON() ([]byte, error) {
	payloads := e.Payloads
	if payloads == nil {
		payloads = []WirePayload{}
	}
	type wireEvent WireEvent
	return json.Marshal(wireEvent{Type: e.Type, Version: e.Version, Metadata: e.Metadata, Payloads: payloads})
}

// MarshalJSON flattens the payload: the fixed keys first, then the remaining
// attributes in insertion order.
func (p WirePayload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	name, err := json.Marshal(p.Name)
	if err != nil {
		return nil, err
	}
	id, err := json.Marshal(p.ID)
	if err != nil {
		return nil, err
	}

	buf.WriteString(`{"name":`)
	buf.Write(name)
	buf.WriteString(`,"ts":`)
	buf.WriteString(strconv.FormatInt(p.TimestampMs, 10))
	buf.WriteString(`,"id":`)
	buf.Write(id)
	if p.TTL != nil {
		buf.WriteString(`,"ttl":`)
		buf.WriteString(strconv.FormatInt(*p.TTL, 10))
	}
	if err := p.Attributes.writeEntries(&buf, reservedPayloadKeys, true); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// WireItem is a queued event ready for conversion. TTL is nil for events
// taken from the live queue.
type WireItem struct {
	ID   string
	Data Event
	TTL  *int64
}

// WireConverter turns queued events into a WireRecord.
type WireConverter struct {
	Type           string
	CorrelationKey string
	MetadataKeys   []string
	RootMetadata   Attributes
}

// ToWireBatch partitions items by the string value of the correlation key
// (missing or non-string values share the "" group) and builds one WireEvent
// per group, in order of first appearance. Each group's metadata is taken
// from its first item; metadata keys are left out of the payloads.
// An empty input produces an empty record with no root metadata.
func (c WireConverter) ToWireBatch(items []WireItem) WireRecord {
	if len(items) == 0 {
		return WireRecord{}
	}

	hoisted := make(map[string]struct{}, len(c.MetadataKeys))
	for _, k := range c.MetadataKeys {
		hoisted[k] = struct{}{}
	}

	groupIndex := make(map[string]int)
	var events []WireEvent
	for _, item := range items {
		key, _ := item.Data.Attributes.GetString(c.CorrelationKey)
		idx, ok := groupIndex[key]
		if !ok {
			idx = len(events)
			groupIndex[key] = idx
			events = append(events, WireEvent{
				Type:     c.Type,
				Version:  WireVersion,
				Metadata: c.metadataOf(item.Data),
			})
		}
		events[idx].Payloads = append(events[idx].Payloads, toPayload(item, hoisted))
	}

	return WireRecord{Metadata: c.RootMetadata.Clone(), Events: events}
}

func (c WireConverter) metadataOf(e Event) Attributes {
	var md Attributes
	for _, k := range c.MetadataKeys {
		if v, ok := e.Attributes.Get(k); ok {
			md.Set(k, v)
		}
	}
	return md
}

func toPayload(item WireItem, hoisted map[string]struct{}) WirePayload {
	ts, _ := item.Data.TimestampMs()
	var attrs Attributes
	item.Data.Attributes.Range(func(k string, v AttributeValue) bool {
		if _, skip := hoisted[k]; !skip {
			attrs.Set(k, v)
		}
		return true
	})
	p := WirePayload{
		Name:        item.Data.Name,
		ID:          item.ID,
		TimestampMs: ts,
		Attributes:  attrs,
	}
	if item.TTL != nil {
		ttl := *item.TTL
		p.TTL = &ttl
	}
	return p
}
