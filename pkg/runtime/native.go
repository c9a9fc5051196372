package runtime

import (
	"context"
	"time"
)

// AnyKind accepts any argument kind in Builtin.Params.
const AnyKind Kind = -1

// NativeCall is passed to every built-in invocation.
type NativeCall struct {
	Context   context.Context
	Name      string
	Principal string
}

type NativeFunc func(call *NativeCall, args []Value) (Value, error)

// Builtin describes one function of a namespace provider.
type Builtin struct {
	Name string
	// MinArgs and MaxArgs bound the argument count; MaxArgs < 0 means variadic.
	MinArgs int
	MaxArgs int
	// Params optionally constrains the kind of each leading argument.
	Params []Kind
	// Timeout bounds one invocation; zero means the caller's context only.
	Timeout time.Duration
	Fn      NativeFunc
}

// Fixed is a helper for builtins taking exactly n arguments.
func Fixed(name string, n int, fn NativeFunc, params ...Kind) Builtin {
	return Builtin{Name: name, MinArgs: n, MaxArgs: n, Params: params, Fn: fn}
}

// Provider is a pluggable namespace of built-ins, e.g. oracle or chain.
type Provider interface {
	Namespace() string
	Builtins() []Builtin
}

// StaticProvider is a Provider backed by a fixed list.
type StaticProvider struct {
	Name  string
	Funcs []Builtin
}

func (p StaticProvider) Namespace() string   { return p.Name }
func (p StaticProvider) Builtins() []Builtin { return p.Funcs }
