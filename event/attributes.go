package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which member of the AttributeValue union is set.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// ErrUnsupportedValue is returned when a JSON value is not a string, number or bool.
var ErrUnsupportedValue = errors.New("unsupported attribute value")

// AttributeValue is a tagged union of string, number and bool.
// The zero value is invalid and is never stored in Attributes.
type AttributeValue struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// String returns a string attribute value.
func String(s string) AttributeValue { return AttributeValue{kind: KindString, str: s} }

// Number returns a numeric attribute value. NaN and ±Inf have no JSON
// form, so they yield the invalid value and are never stored.
func Number(n float64) AttributeValue {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return AttributeValue{}
	}
	return AttributeValue{kind: KindNumber, num: n}
}

// Int returns a numeric attribute value holding i.
func Int(i int64) AttributeValue { return AttributeValue{kind: KindNumber, num: float64(i)} }

// Bool returns a boolean attribute value.
func Bool(b bool) AttributeValue { return AttributeValue{kind: KindBool, b: b} }

func (v AttributeValue) Kind() Kind   { return v.kind }
func (v AttributeValue) Valid() bool { return v.kind != 0 }

func (v AttributeValue) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v AttributeValue) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }
func (v AttributeValue) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }

// AsInt64 truncates a numeric value to an integer.
func (v AttributeValue) AsInt64() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return int64(v.num), true
}

// Equal reports whether both values have the same kind and content.
func (v AttributeValue) Equal(o AttributeValue) bool {
	return v == o
}

func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	default:
		return nil, fmt.Errorf("%w: empty value", ErrUnsupportedValue)
	}
}

func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", ErrUnsupportedValue)
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
	default:
		return fmt.Errorf("%w: %.20s", ErrUnsupportedValue, data)
	}
	return nil
}

// Attributes is an insertion-ordered map of attribute values.
// The zero value is an empty map ready to use.
type Attributes struct {
	keys   []string
	values map[string]AttributeValue
}

// NewAttributes builds Attributes from alternating key/value pairs.
func NewAttributes(pairs ...any) Attributes {
	var a Attributes
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		if v, ok := pairs[i+1].(AttributeValue); ok {
			a.Set(key, v)
		}
	}
	return a
}

// Set inserts or replaces key. Replacing keeps the original position.
// Invalid values are ignored.
func (a *Attributes) Set(key string, v AttributeValue) {
	if !v.Valid() {
		return
	}
	if a.values == nil {
		a.values = make(map[string]AttributeValue)
	}
	if _, exists := a.values[key]; !exists {
		a.keys = append(a.keys, key)
	}
	a.values[key] = v
}

func (a Attributes) Get(key string) (AttributeValue, bool) {
	v, ok := a.values[key]
	return v, ok
}

// GetString returns the value of key if it is a string attribute.
func (a Attributes) GetString(key string) (string, bool) {
	v, ok := a.values[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

func (a *Attributes) Delete(key string) {
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i:i], a.keys[i+1:]...)
			break
		}
	}
}

func (a Attributes) Len() int { return len(a.keys) }

// Keys returns the keys in insertion order.
func (a Attributes) Keys() []string {
	return append([]string(nil), a.keys...)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (a Attributes) Range(fn func(key string, v AttributeValue) bool) {
	for _, k := range a.keys {
		if !fn(k, a.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	var c Attributes
	a.Range(func(k string, v AttributeValue) bool {
		c.Set(k, v)
		return true
	})
	return c
}

// Merge returns a copy of a with every entry of other applied on top.
func (a Attributes) Merge(other Attributes) Attributes {
	c := a.Clone()
	other.Range(func(k string, v AttributeValue) bool {
		c.Set(k, v)
		return true
	})
	return c
}

// Equal reports whether both maps hold the same entries in the same order.
func (a Attributes) Equal(o Attributes) bool {
	if len(a.keys) != len(o.keys) {
		return false
	}
	for i, k := range a.keys {
		if o.keys[i] != k || !a.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}

func (a Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := a.writeEntries(&buf, nil, false); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writeEntries appends "key":value pairs to buf, skipping keys in skip.
// needComma reports whether buf already holds an entry.
func (a Attributes) writeEntries(buf *bytes.Buffer, skip map[string]struct{}, needComma bool) error {
	for _, k := range a.keys {
		if _, ok := skip[k]; ok {
			continue
		}
		if needComma {
			buf.WriteByte(',')
		}
		needComma = true
		key, err := json.Marshal(k)
		if err != nil {
			return err
		}
		val, err := a.values[k].MarshalJSON()
		if err != nil {
			return fmt.Errorf("attribute %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	return nil
}

// UnmarshalJSON is strict: any unsupported value fails the whole map.
// The codec uses decodeAttributes directly to keep the valid entries.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	attrs, rejected, err := decodeAttributes(data)
	if err != nil {
		return err
	}
	if len(rejected) > 0 {
		return fmt.Errorf("%w: keys %v", ErrUnsupportedValue, rejected)
	}
	*a = attrs
	return nil
}

// decodeAttributes parses a JSON object preserving key order. Entries whose
// value is not a string, number or bool are left out and reported in rejected.
func decodeAttributes(data []byte) (attrs Attributes, rejected []string, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return Attributes{}, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Attributes{}, nil, fmt.Errorf("expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Attributes{}, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return Attributes{}, nil, fmt.Errorf("expected object key, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Attributes{}, nil, err
		}

		var v AttributeValue
		if err := v.UnmarshalJSON(raw); err != nil {
			rejected = append(rejected, key)
			continue
		}
		attrs.Set(key, v)
	}

	if _, err := dec.Token(); err != nil {
		return Attributes{}, nil, err
	}
	return attrs, rejected, nil
}
