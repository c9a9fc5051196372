package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"dal/runtime-go/pkg/runtime"
)

// Callable is anything the evaluator can invoke: user functions, service
// methods and constructors, lambdas and built-ins.
type Callable interface {
	Name() string
	// Arity bounds the argument count; max < 0 means variadic.
	Arity() (min, max int)
	Invoke(ec *ExecutionContext, receiver *runtime.HandleValue, args []runtime.Value) (runtime.Value, error)
}

// DispatchTable maps names to callables. Provider namespaces are validated
// when registered so a call never resolves by ad hoc string matching.
type DispatchTable struct {
	mu         sync.RWMutex
	functions  map[string]*userFunction
	services   map[string]*serviceType
	builtins   map[string]*nativeFunction
	namespaces map[string]bool
}

func newDispatchTable() *DispatchTable {
	return &DispatchTable{
		functions:  make(map[string]*userFunction),
		services:   make(map[string]*serviceType),
		builtins:   make(map[string]*nativeFunction),
		namespaces: make(map[string]bool),
	}
}

// RegisterProvider adds every built-in of p under its namespace. Either all
// functions are registered or none.
func (d *DispatchTable) RegisterProvider(p runtime.Provider) error {
	if p == nil {
		return errors.New("dispatch: nil provider")
	}
	ns := p.Namespace()
	if ns == "" || strings.Contains(ns, "::") {
		return fmt.Errorf("dispatch: invalid namespace %q", ns)
	}
	staged := make(map[string]*nativeFunction)
	for _, b := range p.Builtins() {
		if b.Name == "" || strings.Contains(b.Name, "::") {
			return fmt.Errorf("dispatch: %s: invalid function name %q", ns, b.Name)
		}
		qualified := ns + "::" + b.Name
		if b.Fn == nil {
			return fmt.Errorf("dispatch: %s has no implementation", qualified)
		}
		if b.MinArgs < 0 || (b.MaxArgs >= 0 && b.MaxArgs < b.MinArgs) {
			return fmt.Errorf("dispatch: %s: invalid arity %d..%d", qualified, b.MinArgs, b.MaxArgs)
		}
		if b.MaxArgs >= 0 && len(b.Params) > b.MaxArgs {
			return fmt.Errorf("dispatch: %s: %d parameter kinds for %d arguments", qualified, len(b.Params), b.MaxArgs)
		}
		if _, dup := staged[qualified]; dup {
			return fmt.Errorf("dispatch: %s registered twice", qualified)
		}
		staged[qualified] = &nativeFunction{qualified: qualified, builtin: b}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.namespaces[ns] {
		return fmt.Errorf("dispatch: namespace %q already registered", ns)
	}
	d.namespaces[ns] = true
	for name, fn := range staged {
		d.builtins[name] = fn
	}
	Logger().Debug("provider registered", zap.String("namespace", ns), zap.Int("functions", len(staged)))
	return nil
}

// Resolve finds a callable by plain or namespace-qualified name. Plain names
// check user functions, then services, then the core namespace.
func (d *DispatchTable) Resolve(name string) (Callable, error) {
	if ns, fn, ok := strings.Cut(name, "::"); ok {
		return d.ResolveScoped(ns, fn)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if f, ok := d.functions[name]; ok {
		return f, nil
	}
	if s, ok := d.services[name]; ok {
		return s, nil
	}
	if b, ok := d.builtins["core::"+name]; ok {
		return b, nil
	}
	return nil, runtime.NewError(runtime.FunctionNotFound, "function %q not found", name)
}

func (d *DispatchTable) ResolveScoped(namespace, name string) (Callable, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if b, ok := d.builtins[namespace+"::"+name]; ok {
		return b, nil
	}
	if !d.namespaces[namespace] {
		return nil, runtime.NewError(runtime.FunctionNotFound, "unknown namespace %q in %s::%s", namespace, namespace, name)
	}
	return nil, runtime.NewError(runtime.FunctionNotFound, "function %s::%s not found", namespace, name)
}

func (d *DispatchTable) has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, fn := d.functions[name]
	_, svc := d.services[name]
	return fn || svc
}

func (d *DispatchTable) service(name string) (*serviceType, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.services[name]
	return s, ok
}

// define installs a loaded program's declarations, replacing earlier ones
// with the same name.
func (d *DispatchTable) define(functions map[string]*userFunction, services map[string]*serviceType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name := range functions {
		if _, clash := d.services[name]; clash {
			return runtime.NewError(runtime.LoadError, "%s is already declared as a service", name)
		}
	}
	for name := range services {
		if _, clash := d.functions[name]; clash {
			return runtime.NewError(runtime.LoadError, "%s is already declared as a function", name)
		}
	}
	for name, f := range functions {
		d.functions[name] = f
	}
	for name, s := range services {
		d.services[name] = s
	}
	return nil
}

// Functions lists user function and service names.
func (d *DispatchTable) Functions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.functions)+len(d.services))
	for name := range d.functions {
		out = append(out, name)
	}
	for name := range d.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Namespaces lists registered provider namespaces.
func (d *DispatchTable) Namespaces() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.namespaces))
	for ns := range d.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func checkArity(c Callable, got int) error {
	min, max := c.Arity()
	if got >= min && (max < 0 || got <= max) {
		return nil
	}
	var want string
	switch {
	case max < 0:
		want = fmt.Sprintf("at least %d", min)
	case min == max:
		want = fmt.Sprintf("%d", min)
	default:
		want = fmt.Sprintf("%d to %d", min, max)
	}
	return runtime.NewError(runtime.ArgumentCountMismatch, "%s expects %s arguments, got %d", c.Name(), want, got)
}

// nativeFunction adapts a provider Builtin to Callable.
type nativeFunction struct {
	qualified string
	builtin   runtime.Builtin
}

func (n *nativeFunction) Name() string { return n.qualified }

func (n *nativeFunction) Arity() (int, int) { return n.builtin.MinArgs, n.builtin.MaxArgs }

func (n *nativeFunction) Invoke(ec *ExecutionContext, _ *runtime.HandleValue, args []runtime.Value) (runtime.Value, error) {
	for i, kind := range n.builtin.Params {
		if i >= len(args) {
			break
		}
		if kind != runtime.AnyKind && args[i].Kind() != kind {
			return nil, typeMismatch("%s argument %d: expected %s, got %s", n.qualified, i+1, kind, args[i].Kind())
		}
	}
	ctx := ec.ctx
	if n.builtin.Timeout <= 0 {
		call := &runtime.NativeCall{Context: contextWithExec(ctx, ec), Name: n.qualified, Principal: ec.principal.ID}
		return n.result(n.run(call, args))
	}

	ctx, cancel := context.WithTimeout(ctx, n.builtin.Timeout)
	defer cancel()
	call := &runtime.NativeCall{Context: contextWithExec(ctx, ec), Name: n.qualified, Principal: ec.principal.ID}
	type outcome struct {
		val runtime.Value
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := n.run(call, args)
		done <- outcome{val, err}
	}()
	select {
	case out := <-done:
		return n.result(out.val, out.err)
	case <-ctx.Done():
		return n.result(nil, ctx.Err())
	}
}

func (n *nativeFunction) run(call *runtime.NativeCall, args []runtime.Value) (val runtime.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = runtime.NewError(runtime.ProviderError, "%s panicked: %v", n.qualified, r)
		}
	}()
	return n.builtin.Fn(call, args)
}

func (n *nativeFunction) result(val runtime.Value, err error) (runtime.Value, error) {
	if err != nil {
		var rtErr *runtime.Error
		switch {
		case errors.As(err, &rtErr):
			return nil, rtErr
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return nil, runtime.WrapError(runtime.Timeout, err, "%s: %v", n.qualified, err)
		default:
			return nil, runtime.WrapError(runtime.ProviderError, err, "%s: %v", n.qualified, err)
		}
	}
	if val == nil {
		return runtime.Null, nil
	}
	return val, nil
}
