package runtime

import (
	"fmt"

	"dal/runtime-go/pkg/ast"
)

// Kind identifies the runtime value category.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindHandle
	KindFunction
	KindRange
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindHandle:
		return "handle"
	case KindFunction:
		return "function"
	case KindRange:
		return "range"
	case AnyKind:
		return "any"
	default:
		return fmt.Sprintf("unknown_kind_%d", int(k))
	}
}

// Value is the shared behaviour for all runtime values. Values are immutable
// once produced; containers expose copy-on-write helpers.
type Value interface {
	Kind() Kind
}

//-----------------------------------------------------------------------------
// Scalars
//-----------------------------------------------------------------------------

type NullValue struct{}

func (NullValue) Kind() Kind { return KindNull }

type BoolValue struct {
	Val bool
}

func (v BoolValue) Kind() Kind { return KindBool }

type IntValue struct {
	Val int64
}

func (v IntValue) Kind() Kind { return KindInt }

type FloatValue struct {
	Val float64
}

func (v FloatValue) Kind() Kind { return KindFloat }

type StringValue struct {
	Val string
}

func (v StringValue) Kind() Kind { return KindString }

// Null is the shared null value.
var Null Value = NullValue{}

func Int(v int64) IntValue       { return IntValue{Val: v} }
func Float(v float64) FloatValue { return FloatValue{Val: v} }
func String(v string) StringValue {
	return StringValue{Val: v}
}
func Bool(v bool) BoolValue { return BoolValue{Val: v} }

//-----------------------------------------------------------------------------
// Containers
//-----------------------------------------------------------------------------

// ListValue is an ordered sequence of values.
type ListValue struct {
	elements []Value
}

func (ListValue) Kind() Kind { return KindList }

// NewList copies elems into a new list.
func NewList(elems ...Value) ListValue {
	out := make([]Value, len(elems))
	copy(out, elems)
	return ListValue{elements: out}
}

func (l ListValue) Len() int { return len(l.elements) }

func (l ListValue) At(i int) Value { return l.elements[i] }

// Elements returns a copy of the list contents.
func (l ListValue) Elements() []Value {
	out := make([]Value, len(l.elements))
	copy(out, l.elements)
	return out
}

// Append returns a new list with vals added at the end.
func (l ListValue) Append(vals ...Value) ListValue {
	out := make([]Value, 0, len(l.elements)+len(vals))
	out = append(out, l.elements...)
	out = append(out, vals...)
	return ListValue{elements: out}
}

// With returns a copy with index i replaced.
func (l ListValue) With(i int, v Value) ListValue {
	out := l.Elements()
	out[i] = v
	return ListValue{elements: out}
}

// MapValue is a string-keyed map preserving insertion order.
type MapValue struct {
	keys []string
	vals map[string]Value
}

func (MapValue) Kind() Kind { return KindMap }

func NewMap() MapValue {
	return MapValue{vals: map[string]Value{}}
}

// MapFrom builds a map whose iteration order follows keys.
func MapFrom(keys []string, vals map[string]Value) MapValue {
	m := NewMap()
	for _, k := range keys {
		m = m.With(k, vals[k])
	}
	return m
}

func (m MapValue) Len() int { return len(m.keys) }

func (m MapValue) Get(key string) (Value, bool) {
	if m.vals == nil {
		return nil, false
	}
	v, ok := m.vals[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (m MapValue) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// With returns a copy of the map with key bound to v.
func (m MapValue) With(key string, v Value) MapValue {
	vals := make(map[string]Value, len(m.keys)+1)
	for k, existing := range m.vals {
		vals[k] = existing
	}
	keys := make([]string, len(m.keys), len(m.keys)+1)
	copy(keys, m.keys)
	if _, ok := vals[key]; !ok {
		keys = append(keys, key)
	}
	vals[key] = v
	return MapValue{keys: keys, vals: vals}
}

// Without returns a copy of the map with key removed.
func (m MapValue) Without(key string) MapValue {
	if _, ok := m.vals[key]; !ok {
		return m
	}
	out := NewMap()
	for _, k := range m.keys {
		if k != key {
			out = out.With(k, m.vals[k])
		}
	}
	return out
}

type RangeValue struct {
	Start     int64
	End       int64
	Inclusive bool
}

func (RangeValue) Kind() Kind { return KindRange }

// Items expands the range into its integers.
func (r RangeValue) Items() []Value {
	last := r.End
	if !r.Inclusive {
		last--
	}
	if last < r.Start {
		return nil
	}
	out := make([]Value, 0, last-r.Start+1)
	for i := r.Start; i <= last; i++ {
		out = append(out, IntValue{Val: i})
	}
	return out
}

//-----------------------------------------------------------------------------
// Handles and callables
//-----------------------------------------------------------------------------

type HandleType string

const (
	HandleService HandleType = "service"
	HandleAgent   HandleType = "agent"
)

// HandleValue refers to engine-owned state (a service instance or an agent task).
type HandleValue struct {
	Type HandleType
	ID   string
	Name string
}

func (HandleValue) Kind() Kind { return KindHandle }

// FunctionValue is a lambda closure. The closure is a flattened snapshot of the
// bindings visible at creation so it never references a live frame scope.
type FunctionValue struct {
	Name    string
	Params  []string
	Body    *ast.BlockStatement
	Closure *Environment
}

func (*FunctionValue) Kind() Kind { return KindFunction }

// FunctionRefValue names a dispatch-table entry, optionally bound to a service instance.
type FunctionRefValue struct {
	Name     string
	Receiver *HandleValue
}

func (FunctionRefValue) Kind() Kind { return KindFunction }
