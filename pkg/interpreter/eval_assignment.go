package interpreter

import (
	"strings"

	"dal/runtime-go/pkg/ast"
	"dal/runtime-go/pkg/runtime"
)

var compoundOperators = map[string]string{
	"+=": "+",
	"-=": "-",
	"*=": "*",
	"/=": "/",
	"%=": "%",
}

// evaluateAssignment resolves the target location first, then the value, so
// a compound update reads and writes the same slot.
func (ec *ExecutionContext) evaluateAssignment(n *ast.AssignmentExpression, env *runtime.Environment) (runtime.Value, error) {
	binary := ""
	if op := strings.TrimSpace(n.Operator); op != "" && op != "=" {
		var ok bool
		if binary, ok = compoundOperators[op]; !ok {
			return nil, typeMismatch("unsupported assignment operator %q", op)
		}
	}
	loc, err := ec.resolveLocation(n.Target, env)
	if err != nil {
		return nil, err
	}
	val, err := ec.evaluateExpression(n.Value, env)
	if err != nil {
		return nil, err
	}
	if binary != "" {
		current, err := loc.load()
		if err != nil {
			return nil, err
		}
		if val, err = runtime.BinaryOp(binary, current, val); err != nil {
			return nil, err
		}
	}
	if err := loc.store(val); err != nil {
		return nil, err
	}
	return val, nil
}

// location is an assignment target whose object and index have already been
// evaluated.
type location struct {
	load  func() (runtime.Value, error)
	store func(runtime.Value) error
}

// resolveLocation evaluates the parts of target once, left to right.
// Containers are immutable values, so storing into a map field or list slot
// rebuilds the container and stores it into the enclosing location. Service
// fields are written through state.
func (ec *ExecutionContext) resolveLocation(target ast.AssignmentTarget, env *runtime.Environment) (location, error) {
	switch t := target.(type) {
	case *ast.Identifier:
		return location{
			load:  func() (runtime.Value, error) { return ec.evaluateIdentifier(t, env) },
			store: func(v runtime.Value) error { return env.Assign(t.Name, v) },
		}, nil
	case *ast.MemberAccessExpression:
		obj, storeObj, err := ec.container(t.Object, env)
		if err != nil {
			return location{}, err
		}
		switch o := obj.(type) {
		case runtime.HandleValue:
			if o.Type != runtime.HandleService {
				return location{}, typeMismatch("cannot assign to member %q of an agent handle", t.Member)
			}
			return location{
				load:  func() (runtime.Value, error) { return ec.readMember(o, t.Member) },
				store: func(v runtime.Value) error { return ec.writeMember(o, t.Member, v) },
			}, nil
		case runtime.MapValue:
			if storeObj == nil {
				return location{}, typeMismatch("cannot assign into a temporary %T", t.Object)
			}
			return location{
				load:  func() (runtime.Value, error) { return ec.memberOf(o, t.Member) },
				store: func(v runtime.Value) error { return storeObj(o.With(t.Member, v)) },
			}, nil
		default:
			return location{}, typeMismatch("cannot assign member %q of %s", t.Member, describe(obj))
		}
	case *ast.IndexExpression:
		obj, storeObj, err := ec.container(t.Object, env)
		if err != nil {
			return location{}, err
		}
		idx, err := ec.evaluateExpression(t.Index, env)
		if err != nil {
			return location{}, err
		}
		if storeObj == nil {
			return location{}, typeMismatch("cannot assign into a temporary %T", t.Object)
		}
		switch o := obj.(type) {
		case runtime.ListValue:
			i, err := listIndex(idx, o.Len())
			if err != nil {
				return location{}, err
			}
			return location{
				load:  func() (runtime.Value, error) { return o.At(i), nil },
				store: func(v runtime.Value) error { return storeObj(o.With(i, v)) },
			}, nil
		case runtime.MapValue:
			key, ok := idx.(runtime.StringValue)
			if !ok {
				return location{}, typeMismatch("map keys are strings, got %s", idx.Kind())
			}
			return location{
				load:  func() (runtime.Value, error) { return indexOf(o, key) },
				store: func(v runtime.Value) error { return storeObj(o.With(key.Val, v)) },
			}, nil
		default:
			return location{}, typeMismatch("cannot assign index of %s", describe(obj))
		}
	default:
		return location{}, typeMismatch("invalid assignment target %T", target)
	}
}

// container evaluates the object of a member or index target. The returned
// store is nil when the object is a temporary rather than a location.
func (ec *ExecutionContext) container(object ast.Expression, env *runtime.Environment) (runtime.Value, func(runtime.Value) error, error) {
	parent, ok := object.(ast.AssignmentTarget)
	if !ok {
		v, err := ec.evaluateExpression(object, env)
		return v, nil, err
	}
	loc, err := ec.resolveLocation(parent, env)
	if err != nil {
		return nil, nil, err
	}
	v, err := loc.load()
	if err != nil {
		return nil, nil, err
	}
	return v, loc.store, nil
}
