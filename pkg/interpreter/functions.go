package interpreter

import (
	"dal/runtime-go/pkg/ast"
	"dal/runtime-go/pkg/runtime"
)

type invokeFunc func(ec *ExecutionContext, receiver *runtime.HandleValue, args []runtime.Value) (runtime.Value, error)

// userFunction is a declared function or service method with its enforcement
// wrapper already composed.
type userFunction struct {
	name    string
	service *serviceType
	def     *ast.FunctionDefinition
	params  []string
	attrs   []Attribute
	policy  policy
	invoke  invokeFunc
}

func (f *userFunction) Name() string {
	if f.service != nil {
		return f.service.name + "::" + f.name
	}
	return f.name
}

func (f *userFunction) Arity() (int, int) { return len(f.params), len(f.params) }

// Attributes returns the compiled attributes declared on the function itself.
func (f *userFunction) Attributes() []Attribute {
	out := make([]Attribute, len(f.attrs))
	copy(out, f.attrs)
	return out
}

func (f *userFunction) Invoke(ec *ExecutionContext, receiver *runtime.HandleValue, args []runtime.Value) (runtime.Value, error) {
	if f.service != nil && receiver == nil {
		return nil, typeMismatch("method %s called without an instance", f.Name())
	}
	return f.invoke(ec, receiver, args)
}

func (f *userFunction) runBody(ec *ExecutionContext, receiver *runtime.HandleValue, args []runtime.Value) (runtime.Value, error) {
	instanceID := ""
	if receiver != nil {
		instanceID = receiver.ID
	}
	frame, err := ec.stack.Push(f.Name(), instanceID, ec.engine.global)
	if err != nil {
		return nil, err
	}
	defer ec.stack.Pop()
	for i, name := range f.params {
		frame.Scope.Define(name, args[i])
	}
	if receiver != nil {
		frame.Scope.Define("self", *receiver)
	}
	return settle(ec.evaluateBlockIn(f.def.Body, frame.Scope))
}

func newUserFunction(e *Engine, def *ast.FunctionDefinition, svc *serviceType) (*userFunction, error) {
	owner := def.Name
	var serviceAttrs []Attribute
	if svc != nil {
		owner = svc.name + "::" + def.Name
		serviceAttrs = svc.attrs
	}
	if def.Body == nil {
		return nil, runtime.NewError(runtime.LoadError, "%s has no body", owner)
	}
	attrs, err := compileAttributes(owner, def.Attributes)
	if err != nil {
		return nil, err
	}
	params := make([]string, 0, len(def.Params))
	seen := make(map[string]bool, len(def.Params))
	for _, p := range def.Params {
		if seen[p.Name] {
			return nil, runtime.NewError(runtime.LoadError, "%s: duplicate parameter %q", owner, p.Name)
		}
		seen[p.Name] = true
		params = append(params, p.Name)
	}
	f := &userFunction{
		name:    def.Name,
		service: svc,
		def:     def,
		params:  params,
		attrs:   attrs,
		policy:  resolvePolicy(serviceAttrs, attrs),
	}
	f.invoke = e.enforce(f)
	return f, nil
}

// lambda adapts a closure value to Callable.
type lambda struct {
	fn *runtime.FunctionValue
}

func (l lambda) Name() string {
	if l.fn.Name != "" {
		return l.fn.Name
	}
	return "<lambda>"
}

func (l lambda) Arity() (int, int) { return len(l.fn.Params), len(l.fn.Params) }

func (l lambda) Invoke(ec *ExecutionContext, _ *runtime.HandleValue, args []runtime.Value) (runtime.Value, error) {
	frame, err := ec.stack.Push(l.Name(), "", l.fn.Closure)
	if err != nil {
		return nil, err
	}
	defer ec.stack.Pop()
	for i, name := range l.fn.Params {
		frame.Scope.Define(name, args[i])
	}
	return settle(ec.evaluateBlockIn(l.fn.Body, frame.Scope))
}

// callableFromValue turns a function value into something invokable, along
// with the receiver bound to it.
func (e *Engine) callableFromValue(v runtime.Value) (Callable, *runtime.HandleValue, error) {
	switch fn := v.(type) {
	case *runtime.FunctionValue:
		return lambda{fn: fn}, nil, nil
	case runtime.FunctionRefValue:
		if fn.Receiver != nil {
			m, err := e.method(*fn.Receiver, fn.Name)
			if err != nil {
				return nil, nil, err
			}
			recv := *fn.Receiver
			return m, &recv, nil
		}
		c, err := e.dispatch.Resolve(fn.Name)
		return c, nil, err
	default:
		return nil, nil, typeMismatch("%s is not callable", describe(v))
	}
}

func isCallable(v runtime.Value) bool {
	switch v.(type) {
	case *runtime.FunctionValue, runtime.FunctionRefValue:
		return true
	}
	return false
}
