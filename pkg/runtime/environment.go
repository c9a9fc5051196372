package runtime

import (
	"sort"
	"sync"
)

// Environment provides lexical scoping for runtime values. Lookups read
// through to the parent; writes only touch the scope that owns the name.
type Environment struct {
	mu     sync.RWMutex
	values map[string]Value
	parent *Environment
}

// NewEnvironment creates a new environment, optionally nested under a parent.
func NewEnvironment(parent *Environment) *Environment {
	return &Environment{
		values: make(map[string]Value),
		parent: parent,
	}
}

// Parent exposes the lexical parent (nil when global).
func (e *Environment) Parent() *Environment {
	return e.parent
}

// Push opens a child scope.
func (e *Environment) Push() *Environment {
	return NewEnvironment(e)
}

// Pop returns the parent scope, discarding this one.
func (e *Environment) Pop() *Environment {
	return e.parent
}

// Define binds name in the current scope, shadowing outer bindings.
func (e *Environment) Define(name string, value Value) {
	e.mu.Lock()
	e.values[name] = value
	e.mu.Unlock()
}

// Assign updates an existing binding in the first scope where it appears.
func (e *Environment) Assign(name string, value Value) error {
	for env := e; env != nil; env = env.parent {
		env.mu.Lock()
		if _, ok := env.values[name]; ok {
			env.values[name] = value
			env.mu.Unlock()
			return nil
		}
		env.mu.Unlock()
	}
	return NewError(NameError, "cannot assign to undeclared name '%s'", name)
}

// Get retrieves a binding, searching outward through the scope chain.
func (e *Environment) Get(name string) (Value, error) {
	if v, ok := e.Lookup(name); ok {
		return v, nil
	}
	return nil, NewError(NameError, "undefined name '%s'", name)
}

// Lookup is Get without an error value.
func (e *Environment) Lookup(name string) (Value, bool) {
	for env := e; env != nil; env = env.parent {
		env.mu.RLock()
		v, ok := env.values[name]
		env.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Keys returns the bindings of this scope in sorted order.
func (e *Environment) Keys() []string {
	e.mu.RLock()
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	e.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Flatten copies every visible binding into a new root scope. Inner bindings
// win over outer ones.
func (e *Environment) Flatten() *Environment {
	out := NewEnvironment(nil)
	var chain []*Environment
	for env := e; env != nil; env = env.parent {
		chain = append(chain, env)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		env := chain[i]
		env.mu.RLock()
		for k, v := range env.values {
			out.values[k] = v
		}
		env.mu.RUnlock()
	}
	return out
}
