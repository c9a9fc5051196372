package runtime

import (
	"encoding/json"
	"testing"
)

func TestStoredValuesKeepTheirKinds(t *testing.T) {
	original := NewMap().
		With("balance", Int(100)).
		With("rate", Float(2.5)).
		With("owner", HandleValue{Type: HandleService, ID: "Bank#42", Name: "Bank"}).
		With("history", NewList(Null, Bool(true), RangeValue{Start: 1, End: 3, Inclusive: true}))

	data, err := EncodeJSON(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !Equal(original, decoded) {
		t.Fatalf("round trip changed value: %s vs %s", Format(original), Format(decoded))
	}
	rate, _ := decoded.(MapValue).Get("rate")
	if rate.Kind() != KindFloat {
		t.Fatalf("float should stay a float, got %s", rate.Kind())
	}
	if got := decoded.(MapValue).Keys(); got[0] != "balance" || got[3] != "history" {
		t.Fatalf("key order not preserved: %v", got)
	}

	if _, err := EncodeJSON(&FunctionValue{Name: "f"}); err == nil {
		t.Fatalf("functions should not be storable")
	}
	if _, err := DecodeJSON([]byte(`{"t":"socket"}`)); err == nil {
		t.Fatalf("unknown tag should fail")
	}
}

func TestParseJSONValueNormalisesNumbers(t *testing.T) {
	v, err := ParseJSONValue([]byte(`{"n": 3, "f": 1.25, "big": 9007199254740993, "items": ["a", null]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m := v.(MapValue)
	if n, _ := m.Get("n"); n != Int(3) {
		t.Fatalf("expected int 3, got %#v", n)
	}
	if f, _ := m.Get("f"); f != Float(1.25) {
		t.Fatalf("expected float 1.25, got %#v", f)
	}
	if big, _ := m.Get("big"); big != Int(9007199254740993) {
		t.Fatalf("large integers must not lose precision, got %#v", big)
	}
	if items, _ := m.Get("items"); !Equal(items, NewList(String("a"), Null)) {
		t.Fatalf("unexpected items %s", Format(items))
	}

	native, err := json.Marshal(ToNative(v))
	if err != nil {
		t.Fatalf("marshal native: %v", err)
	}
	if string(native) != `{"big":9007199254740993,"f":1.25,"items":["a",null],"n":3}` {
		t.Fatalf("unexpected native json %s", native)
	}
}
