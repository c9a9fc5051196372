package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// wireValue is the tagged JSON form used by durable storage.
type wireValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

type wireMapEntry struct {
	K string    `json:"k"`
	V wireValue `json:"v"`
}

type wireHandle struct {
	Type HandleType `json:"type"`
	ID   string     `json:"id"`
	Name string     `json:"name,omitempty"`
}

// EncodeJSON serializes a storable value. Functions are rejected.
func EncodeJSON(v Value) ([]byte, error) {
	w, err := toWire(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// DecodeJSON is the inverse of EncodeJSON.
func DecodeJSON(data []byte) (Value, error) {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return fromWire(w)
}

func toWire(v Value) (wireValue, error) {
	raw := func(x any) (json.RawMessage, error) { return json.Marshal(x) }
	var (
		data json.RawMessage
		err  error
		tag  = v.Kind().String()
	)
	switch val := v.(type) {
	case NullValue:
		return wireValue{T: tag}, nil
	case BoolValue:
		data, err = raw(val.Val)
	case IntValue:
		data, err = raw(val.Val)
	case FloatValue:
		data, err = raw(val.Val)
	case StringValue:
		data, err = raw(val.Val)
	case ListValue:
		items := make([]wireValue, 0, val.Len())
		for _, el := range val.elements {
			w, err := toWire(el)
			if err != nil {
				return wireValue{}, err
			}
			items = append(items, w)
		}
		data, err = raw(items)
	case MapValue:
		entries := make([]wireMapEntry, 0, val.Len())
		for _, k := range val.keys {
			w, err := toWire(val.vals[k])
			if err != nil {
				return wireValue{}, err
			}
			entries = append(entries, wireMapEntry{K: k, V: w})
		}
		data, err = raw(entries)
	case HandleValue:
		data, err = raw(wireHandle{Type: val.Type, ID: val.ID, Name: val.Name})
	case RangeValue:
		data, err = raw([]any{val.Start, val.End, val.Inclusive})
	default:
		return wireValue{}, fmt.Errorf("value of kind %s cannot be stored", v.Kind())
	}
	if err != nil {
		return wireValue{}, err
	}
	return wireValue{T: tag, V: data}, nil
}

func fromWire(w wireValue) (Value, error) {
	switch w.T {
	case "null":
		return Null, nil
	case "bool":
		var b bool
		err := json.Unmarshal(w.V, &b)
		return BoolValue{Val: b}, err
	case "int":
		var n int64
		err := json.Unmarshal(w.V, &n)
		return IntValue{Val: n}, err
	case "float":
		var f float64
		err := json.Unmarshal(w.V, &f)
		return FloatValue{Val: f}, err
	case "string":
		var s string
		err := json.Unmarshal(w.V, &s)
		return StringValue{Val: s}, err
	case "list":
		var items []wireValue
		if err := json.Unmarshal(w.V, &items); err != nil {
			return nil, err
		}
		out := make([]Value, 0, len(items))
		for _, item := range items {
			v, err := fromWire(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return ListValue{elements: out}, nil
	case "map":
		var entries []wireMapEntry
		if err := json.Unmarshal(w.V, &entries); err != nil {
			return nil, err
		}
		m := NewMap()
		for _, e := range entries {
			v, err := fromWire(e.V)
			if err != nil {
				return nil, err
			}
			m = m.With(e.K, v)
		}
		return m, nil
	case "handle":
		var h wireHandle
		err := json.Unmarshal(w.V, &h)
		return HandleValue{Type: h.Type, ID: h.ID, Name: h.Name}, err
	case "range":
		var parts []json.RawMessage
		if err := json.Unmarshal(w.V, &parts); err != nil || len(parts) != 3 {
			return nil, fmt.Errorf("decode range: malformed payload")
		}
		var r RangeValue
		if err := json.Unmarshal(parts[0], &r.Start); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(parts[1], &r.End); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(parts[2], &r.Inclusive); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("decode value: unknown tag %q", w.T)
	}
}

// FromNative converts decoded JSON (or plain Go data) into a Value. Whole
// numbers become Int.
func FromNative(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null, nil
	case Value:
		return v, nil
	case bool:
		return BoolValue{Val: v}, nil
	case int:
		return IntValue{Val: int64(v)}, nil
	case int64:
		return IntValue{Val: v}, nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return IntValue{Val: int64(v)}, nil
		}
		return FloatValue{Val: v}, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return IntValue{Val: n}, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return FloatValue{Val: f}, nil
	case string:
		return StringValue{Val: v}, nil
	case []any:
		out := make([]Value, 0, len(v))
		for _, item := range v {
			conv, err := FromNative(item)
			if err != nil {
				return nil, err
			}
			out = append(out, conv)
		}
		return ListValue{elements: out}, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			conv, err := FromNative(v[k])
			if err != nil {
				return nil, err
			}
			m = m.With(k, conv)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported native value %T", x)
	}
}

// ToNative converts a value into plain Go data suitable for json.Marshal.
func ToNative(v Value) any {
	switch val := v.(type) {
	case NullValue, nil:
		return nil
	case BoolValue:
		return val.Val
	case IntValue:
		return val.Val
	case FloatValue:
		return val.Val
	case StringValue:
		return val.Val
	case ListValue:
		out := make([]any, 0, val.Len())
		for _, el := range val.elements {
			out = append(out, ToNative(el))
		}
		return out
	case MapValue:
		out := make(map[string]any, val.Len())
		for _, k := range val.keys {
			out[k] = ToNative(val.vals[k])
		}
		return out
	default:
		return Format(v)
	}
}

// ParseJSONValue decodes plain JSON text into a Value.
func ParseJSONValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return nil, err
	}
	return FromNative(x)
}
