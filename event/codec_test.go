package event

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	attrs := NewAttributes(
		AttrMeetingID, String("m1"),
		"retryCount", Int(3),
		"poorConnection", Bool(true),
		"maxVideoTileCount", Number(2.5),
	)
	e := NewAt("meetingStartSucceeded", time.UnixMilli(1700000000123), attrs)

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.HasPrefix(data, `{"name":"meetingStartSucceeded","eventAttributes":{"meetingId":"m1"`) {
		t.Errorf("unexpected encoding: %s", data)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Name != e.Name {
		t.Errorf("Name = %q, want %q", got.Name, e.Name)
	}
	if !got.Attributes.Equal(e.Attributes) {
		t.Errorf("attributes differ: got %v, want %v", got.Attributes.Keys(), e.Attributes.Keys())
	}

	v, _ := got.Attributes.Get("poorConnection")
	if v.Kind() != KindBool {
		t.Errorf("poorConnection kind = %v, want bool", v.Kind())
	}
	ts, ok := got.TimestampMs()
	if !ok || ts != 1700000000123 {
		t.Errorf("TimestampMs = %d, %v", ts, ok)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantName  string
		wantAttrs int
		wantErr   error
	}{
		{"missing name", `{"eventAttributes":{"a":"b"}}`, "", 1, ErrMalformedEvent},
		{"name wrong type", `{"name":42,"eventAttributes":{}}`, "", 0, ErrMalformedEvent},
		{"missing attributes", `{"name":"x"}`, "x", 0, ErrMalformedEvent},
		{"attributes wrong type", `{"name":"x","eventAttributes":[1,2]}`, "x", 0, ErrMalformedEvent},
		{"unsupported value kept others", `{"name":"x","eventAttributes":{"a":null,"b":"c","d":{"e":1}}}`, "x", 1, ErrMalformedEvent},
		{"not json", `not-json`, "", 0, ErrUndecodable},
		{"json array", `[]`, "", 0, ErrUndecodable},
		{"json null", `null`, "", 0, ErrUndecodable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if got.Attributes.Len() != tt.wantAttrs {
				t.Errorf("attribute count = %d, want %d", got.Attributes.Len(), tt.wantAttrs)
			}
		})
	}
}

func TestWellFormed(t *testing.T) {
	if !New("ok", Attributes{}).WellFormed() {
		t.Error("New should stamp timestampMs")
	}
	missing := Event{Name: "bad", Attributes: NewAttributes("a", String("b"))}
	if missing.WellFormed() {
		t.Error("event without timestampMs should not be well formed")
	}
	wrongType := Event{Name: "bad", Attributes: NewAttributes(AttrTimestampMs, String("yesterday"))}
	if wrongType.WellFormed() {
		t.Error("string timestampMs should not be well formed")
	}
}

func TestWithDoesNotMutateOriginal(t *testing.T) {
	base := NewAt("e", time.UnixMilli(1), NewAttributes("a", String("1")))
	amended := base.With(NewAttributes("a", String("2"), "b", Bool(false)))

	if v, _ := base.Attributes.GetString("a"); v != "1" {
		t.Errorf("original mutated: a = %q", v)
	}
	if v, _ := amended.Attributes.GetString("a"); v != "2" {
		t.Errorf("amended a = %q, want 2", v)
	}
	if amended.Attributes.Len() != 3 {
		t.Errorf("amended len = %d, want 3", amended.Attributes.Len())
	}
	if keys := amended.Attributes.Keys(); keys[0] != "a" {
		t.Errorf("replacing a key should keep its position, keys = %v", keys)
	}
}

func TestAttributesDelete(t *testing.T) {
	a := NewAttributes("x", Int(1), "y", Int(2), "z", Int(3))
	a.Delete("y")
	a.Delete("missing")

	if got := strings.Join(a.Keys(), ","); got != "x,z" {
		t.Errorf("keys = %s, want x,z", got)
	}
	if _, ok := a.Get("y"); ok {
		t.Error("y should be gone")
	}
}

func TestAttributesStrictUnmarshal(t *testing.T) {
	var a Attributes
	if err := a.UnmarshalJSON([]byte(`{"a":[1]}`)); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("err = %v, want ErrUnsupportedValue", err)
	}
	if err := a.UnmarshalJSON([]byte(`{"b":"c","a":1}`)); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if got := strings.Join(a.Keys(), ","); got != "b,a" {
		t.Errorf("keys = %s, want b,a", got)
	}
}

func TestNonFiniteNumbersNotStored(t *testing.T) {
	for _, n := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if Number(n).Valid() {
			t.Errorf("Number(%v) is valid", n)
		}
	}

	attrs := NewAttributes("jitter", Number(math.NaN()), "bitrate", Number(1200))
	attrs.Set("loss", Number(math.Inf(1)))
	e := NewAt("videoStats", time.UnixMilli(1700000000000), attrs)

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := got.Attributes.Get("jitter"); ok {
		t.Error("NaN attribute was stored")
	}
	if _, ok := got.Attributes.Get("loss"); ok {
		t.Error("+Inf attribute was stored")
	}
	if v, _ := got.Attributes.Get("bitrate"); !v.Equal(Number(1200)) {
		t.Errorf("bitrate = %v, want 1200", v)
	}
}
