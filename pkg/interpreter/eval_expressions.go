package interpreter

import (
	"dal/runtime-go/pkg/ast"
	"dal/runtime-go/pkg/runtime"
)

func (ec *ExecutionContext) evaluateExpression(expr ast.Expression, env *runtime.Environment) (runtime.Value, error) {
	switch n := expr.(type) {
	case *ast.StringLiteral:
		return runtime.String(n.Value), nil
	case *ast.IntegerLiteral:
		return runtime.Int(n.Value), nil
	case *ast.FloatLiteral:
		return runtime.Float(n.Value), nil
	case *ast.BooleanLiteral:
		return runtime.Bool(n.Value), nil
	case *ast.NullLiteral:
		return runtime.Null, nil
	case *ast.ListLiteral:
		elems, err := ec.evaluateArgs(n.Elements, env)
		if err != nil {
			return nil, err
		}
		return runtime.NewList(elems...), nil
	case *ast.MapLiteral:
		m := runtime.NewMap()
		for _, entry := range n.Entries {
			v, err := ec.evaluateExpression(entry.Value, env)
			if err != nil {
				return nil, err
			}
			m = m.With(entry.Key, v)
		}
		return m, nil
	case *ast.Identifier:
		return ec.evaluateIdentifier(n, env)
	case *ast.ScopedIdentifier:
		if _, err := ec.engine.dispatch.ResolveScoped(n.Namespace, n.Name); err != nil {
			return nil, err
		}
		return runtime.FunctionRefValue{Name: n.Qualified()}, nil
	case *ast.UnaryExpression:
		operand, err := ec.evaluateExpression(n.Operand, env)
		if err != nil {
			return nil, err
		}
		return runtime.UnaryOp(n.Operator, operand)
	case *ast.BinaryExpression:
		return ec.evaluateBinary(n, env)
	case *ast.RangeExpression:
		return ec.evaluateRange(n, env)
	case *ast.FunctionCall:
		return ec.evaluateCall(n, env)
	case *ast.MemberAccessExpression:
		obj, err := ec.evaluateExpression(n.Object, env)
		if err != nil {
			return nil, err
		}
		return ec.memberOf(obj, n.Member)
	case *ast.IndexExpression:
		obj, err := ec.evaluateExpression(n.Object, env)
		if err != nil {
			return nil, err
		}
		idx, err := ec.evaluateExpression(n.Index, env)
		if err != nil {
			return nil, err
		}
		return indexOf(obj, idx)
	case *ast.AssignmentExpression:
		return ec.evaluateAssignment(n, env)
	case *ast.LambdaExpression:
		params := make([]string, len(n.Params))
		for i, p := range n.Params {
			params[i] = p.Name
		}
		return &runtime.FunctionValue{Params: params, Body: n.Body, Closure: env.Flatten()}, nil
	case *ast.SpawnExpression:
		return ec.evaluateSpawn(n, env)
	case *ast.AwaitExpression:
		target, err := ec.evaluateExpression(n.Expression, env)
		if err != nil {
			return nil, err
		}
		a, err := ec.engine.agentOf(target)
		if err != nil {
			return nil, err
		}
		return a.await(ec.ctx, 0)
	default:
		return nil, typeMismatch("unsupported expression %T", expr)
	}
}

// evaluateIdentifier reads a binding, falling back to a reference to a
// declared function or service of that name.
func (ec *ExecutionContext) evaluateIdentifier(n *ast.Identifier, env *runtime.Environment) (runtime.Value, error) {
	if v, ok := env.Lookup(n.Name); ok {
		return v, nil
	}
	if ec.engine.dispatch.has(n.Name) {
		return runtime.FunctionRefValue{Name: n.Name}, nil
	}
	return env.Get(n.Name)
}

func (ec *ExecutionContext) evaluateArgs(exprs []ast.Expression, env *runtime.Environment) ([]runtime.Value, error) {
	out := make([]runtime.Value, 0, len(exprs))
	for _, e := range exprs {
		v, err := ec.evaluateExpression(e, env)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (ec *ExecutionContext) evaluateBinary(n *ast.BinaryExpression, env *runtime.Environment) (runtime.Value, error) {
	left, err := ec.evaluateExpression(n.Left, env)
	if err != nil {
		return nil, err
	}
	if n.Operator == "&&" || n.Operator == "||" {
		l, ok := left.(runtime.BoolValue)
		if !ok {
			return nil, typeMismatch("%s expects bool operands, got %s", n.Operator, describe(left))
		}
		if (n.Operator == "&&" && !l.Val) || (n.Operator == "||" && l.Val) {
			return l, nil
		}
		right, err := ec.evaluateExpression(n.Right, env)
		if err != nil {
			return nil, err
		}
		r, ok := right.(runtime.BoolValue)
		if !ok {
			return nil, typeMismatch("%s expects bool operands, got %s", n.Operator, describe(right))
		}
		return r, nil
	}
	right, err := ec.evaluateExpression(n.Right, env)
	if err != nil {
		return nil, err
	}
	return runtime.BinaryOp(n.Operator, left, right)
}

func (ec *ExecutionContext) evaluateRange(n *ast.RangeExpression, env *runtime.Environment) (runtime.Value, error) {
	start, err := ec.evaluateExpression(n.Start, env)
	if err != nil {
		return nil, err
	}
	end, err := ec.evaluateExpression(n.End, env)
	if err != nil {
		return nil, err
	}
	s, ok1 := start.(runtime.IntValue)
	e, ok2 := end.(runtime.IntValue)
	if !ok1 || !ok2 {
		return nil, typeMismatch("range bounds must be int, got %s and %s", start.Kind(), end.Kind())
	}
	return runtime.RangeValue{Start: s.Val, End: e.Val, Inclusive: n.Inclusive}, nil
}

func (ec *ExecutionContext) evaluateCall(n *ast.FunctionCall, env *runtime.Environment) (runtime.Value, error) {
	callee, receiver, err := ec.resolveCallee(n.Callee, env)
	if err != nil {
		return nil, err
	}
	args, err := ec.evaluateArgs(n.Arguments, env)
	if err != nil {
		return nil, err
	}
	return ec.call(callee, receiver, args)
}

// resolveCallee finds what a call expression invokes: a callable binding in
// scope, then a user function or service, then a core built-in.
func (ec *ExecutionContext) resolveCallee(expr ast.Expression, env *runtime.Environment) (Callable, *runtime.HandleValue, error) {
	e := ec.engine
	switch c := expr.(type) {
	case *ast.Identifier:
		if v, ok := env.Lookup(c.Name); ok && isCallable(v) {
			return e.callableFromValue(v)
		}
		callee, err := e.dispatch.Resolve(c.Name)
		return callee, nil, err
	case *ast.ScopedIdentifier:
		callee, err := e.dispatch.ResolveScoped(c.Namespace, c.Name)
		return callee, nil, err
	case *ast.MemberAccessExpression:
		obj, err := ec.evaluateExpression(c.Object, env)
		if err != nil {
			return nil, nil, err
		}
		switch o := obj.(type) {
		case runtime.HandleValue:
			m, err := e.method(o, c.Member)
			if err != nil {
				return nil, nil, err
			}
			return m, &o, nil
		case runtime.MapValue:
			if v, ok := o.Get(c.Member); ok {
				return e.callableFromValue(v)
			}
		}
		return nil, nil, typeMismatch("%s has no callable member %q", describe(obj), c.Member)
	default:
		v, err := ec.evaluateExpression(expr, env)
		if err != nil {
			return nil, nil, err
		}
		return e.callableFromValue(v)
	}
}

// call checks arity and cancellation, then invokes callee.
func (ec *ExecutionContext) call(callee Callable, receiver *runtime.HandleValue, args []runtime.Value) (runtime.Value, error) {
	if err := ec.checkCancelled(); err != nil {
		return nil, err
	}
	if err := checkArity(callee, len(args)); err != nil {
		return nil, err
	}
	return callee.Invoke(ec, receiver, args)
}

// callValue invokes a function value, as used by higher-order built-ins.
func (ec *ExecutionContext) callValue(fn runtime.Value, args ...runtime.Value) (runtime.Value, error) {
	callee, receiver, err := ec.engine.callableFromValue(fn)
	if err != nil {
		return nil, err
	}
	return ec.call(callee, receiver, args)
}

func (ec *ExecutionContext) memberOf(obj runtime.Value, member string) (runtime.Value, error) {
	switch o := obj.(type) {
	case runtime.HandleValue:
		if o.Type == runtime.HandleAgent {
			switch member {
			case "id":
				return runtime.String(o.ID), nil
			case "name":
				return runtime.String(o.Name), nil
			}
			return nil, runtime.NewError(runtime.NameError, "agent handle has no member %q", member)
		}
		return ec.readMember(o, member)
	case runtime.MapValue:
		if v, ok := o.Get(member); ok {
			return v, nil
		}
		return runtime.Null, nil
	default:
		return nil, typeMismatch("cannot read member %q of %s", member, describe(obj))
	}
}

func indexOf(obj, idx runtime.Value) (runtime.Value, error) {
	switch o := obj.(type) {
	case runtime.ListValue:
		i, err := listIndex(idx, o.Len())
		if err != nil {
			return nil, err
		}
		return o.At(i), nil
	case runtime.MapValue:
		key, ok := idx.(runtime.StringValue)
		if !ok {
			return nil, typeMismatch("map keys are strings, got %s", idx.Kind())
		}
		if v, ok := o.Get(key.Val); ok {
			return v, nil
		}
		return runtime.Null, nil
	case runtime.StringValue:
		runes := []rune(o.Val)
		i, err := listIndex(idx, len(runes))
		if err != nil {
			return nil, err
		}
		return runtime.String(string(runes[i])), nil
	default:
		return nil, typeMismatch("cannot index %s", describe(obj))
	}
}

func listIndex(idx runtime.Value, length int) (int, error) {
	i, ok := idx.(runtime.IntValue)
	if !ok {
		return 0, typeMismatch("index must be int, got %s", idx.Kind())
	}
	if i.Val < 0 || i.Val >= int64(length) {
		return 0, runtime.NewError(runtime.IndexOutOfRange, "index %d out of range for length %d", i.Val, length)
	}
	return int(i.Val), nil
}

func (ec *ExecutionContext) evaluateSpawn(n *ast.SpawnExpression, env *runtime.Environment) (runtime.Value, error) {
	call, ok := n.Call.(*ast.FunctionCall)
	if !ok {
		return nil, typeMismatch("spawn expects a call, got %T", n.Call)
	}
	callee, receiver, err := ec.resolveCallee(call.Callee, env)
	if err != nil {
		return nil, err
	}
	args, err := ec.evaluateArgs(call.Arguments, env)
	if err != nil {
		return nil, err
	}
	return ec.engine.spawn(ec, callee, receiver, args)
}
