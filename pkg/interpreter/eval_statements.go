package interpreter

import (
	"dal/runtime-go/pkg/ast"
	"dal/runtime-go/pkg/runtime"
)

func (ec *ExecutionContext) evaluateStatement(stmt ast.Statement, env *runtime.Environment) (runtime.Value, error) {
	switch n := stmt.(type) {
	case *ast.LetStatement:
		var val runtime.Value = runtime.Null
		if n.Value != nil {
			v, err := ec.evaluateExpression(n.Value, env)
			if err != nil {
				return nil, err
			}
			val = v
		}
		env.Define(n.Name, val)
		return val, nil
	case *ast.ReturnStatement:
		var val runtime.Value = runtime.Null
		if n.Argument != nil {
			v, err := ec.evaluateExpression(n.Argument, env)
			if err != nil {
				return nil, err
			}
			val = v
		}
		return nil, returnSignal{value: val}
	case *ast.BlockStatement:
		return ec.evaluateBlock(n, env)
	case *ast.IfStatement:
		return ec.evaluateIf(n, env)
	case *ast.WhileLoop:
		return ec.evaluateWhile(n, env)
	case *ast.ForInLoop:
		return ec.evaluateForIn(n, env)
	case *ast.LoopStatement:
		return ec.evaluateLoop(n, env)
	case *ast.BreakStatement:
		var val runtime.Value = runtime.Null
		if n.Value != nil {
			v, err := ec.evaluateExpression(n.Value, env)
			if err != nil {
				return nil, err
			}
			val = v
		}
		return nil, breakSignal{value: val}
	case *ast.ContinueStatement:
		return nil, continueSignal{}
	case *ast.TryStatement:
		return ec.evaluateTry(n, env)
	case *ast.ThrowStatement:
		val, err := ec.evaluateExpression(n.Expression, env)
		if err != nil {
			return nil, err
		}
		return nil, throwValue(val)
	case *ast.MatchStatement:
		return ec.evaluateMatch(n, env)
	case *ast.FunctionDefinition:
		return ec.defineLocalFunction(n, env)
	case *ast.ServiceDefinition:
		return nil, runtime.NewError(runtime.LoadError, "service %s must be declared at the top level", n.Name)
	case ast.Expression:
		return ec.evaluateExpression(n, env)
	default:
		return nil, typeMismatch("unsupported statement %T", stmt)
	}
}

// evaluateBlock runs block in a fresh child scope of env.
func (ec *ExecutionContext) evaluateBlock(block *ast.BlockStatement, env *runtime.Environment) (runtime.Value, error) {
	if block == nil {
		return runtime.Null, nil
	}
	return ec.evaluateBlockIn(block, env.Push())
}

// evaluateBlockIn runs block directly in scope.
func (ec *ExecutionContext) evaluateBlockIn(block *ast.BlockStatement, scope *runtime.Environment) (runtime.Value, error) {
	var result runtime.Value = runtime.Null
	if block == nil {
		return result, nil
	}
	for _, stmt := range block.Body {
		val, err := ec.evaluateStatement(stmt, scope)
		if err != nil {
			return nil, err
		}
		result = val
	}
	return result, nil
}

func (ec *ExecutionContext) condition(expr ast.Expression, env *runtime.Environment, what string) (bool, error) {
	val, err := ec.evaluateExpression(expr, env)
	if err != nil {
		return false, err
	}
	b, ok := val.(runtime.BoolValue)
	if !ok {
		return false, typeMismatch("%s condition must be bool, got %s", what, describe(val))
	}
	return b.Val, nil
}

func (ec *ExecutionContext) evaluateIf(n *ast.IfStatement, env *runtime.Environment) (runtime.Value, error) {
	ok, err := ec.condition(n.Condition, env, "if")
	if err != nil {
		return nil, err
	}
	if ok {
		return ec.evaluateBlock(n.Consequence, env)
	}
	if n.Alternative == nil {
		return runtime.Null, nil
	}
	return ec.evaluateStatement(n.Alternative, env)
}

// loopOutcome interprets the error of one loop iteration.
func loopOutcome(err error) (done bool, val runtime.Value, out error) {
	switch sig := err.(type) {
	case nil:
		return false, nil, nil
	case continueSignal:
		return false, nil, nil
	case breakSignal:
		if sig.value == nil {
			return true, runtime.Null, nil
		}
		return true, sig.value, nil
	default:
		return true, nil, err
	}
}

func (ec *ExecutionContext) evaluateWhile(n *ast.WhileLoop, env *runtime.Environment) (runtime.Value, error) {
	for {
		if err := ec.checkCancelled(); err != nil {
			return nil, err
		}
		ok, err := ec.condition(n.Condition, env, "while")
		if err != nil {
			return nil, err
		}
		if !ok {
			return runtime.Null, nil
		}
		_, err = ec.evaluateBlock(n.Body, env)
		if done, val, err := loopOutcome(err); done {
			return val, err
		}
	}
}

func (ec *ExecutionContext) evaluateLoop(n *ast.LoopStatement, env *runtime.Environment) (runtime.Value, error) {
	for {
		if err := ec.checkCancelled(); err != nil {
			return nil, err
		}
		_, err := ec.evaluateBlock(n.Body, env)
		if done, val, err := loopOutcome(err); done {
			return val, err
		}
	}
}

func (ec *ExecutionContext) evaluateForIn(n *ast.ForInLoop, env *runtime.Environment) (runtime.Value, error) {
	iterable, err := ec.evaluateExpression(n.Iterable, env)
	if err != nil {
		return nil, err
	}
	items, err := iterationItems(iterable)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := ec.checkCancelled(); err != nil {
			return nil, err
		}
		scope := env.Push()
		scope.Define(n.Variable, item)
		_, err := ec.evaluateBlockIn(n.Body, scope)
		if done, val, err := loopOutcome(err); done {
			return val, err
		}
	}
	return runtime.Null, nil
}

func iterationItems(v runtime.Value) ([]runtime.Value, error) {
	switch it := v.(type) {
	case runtime.ListValue:
		return it.Elements(), nil
	case runtime.MapValue:
		keys := it.Keys()
		out := make([]runtime.Value, len(keys))
		for i, k := range keys {
			out[i] = runtime.String(k)
		}
		return out, nil
	case runtime.RangeValue:
		return it.Items(), nil
	case runtime.StringValue:
		out := make([]runtime.Value, 0, len(it.Val))
		for _, r := range it.Val {
			out = append(out, runtime.String(string(r)))
		}
		return out, nil
	default:
		return nil, typeMismatch("cannot iterate over %s", describe(v))
	}
}

// evaluateTry catches Throw signals only; return, break and continue pass
// through. Finally always runs and its own failure replaces the outcome.
func (ec *ExecutionContext) evaluateTry(n *ast.TryStatement, env *runtime.Environment) (runtime.Value, error) {
	val, err := ec.evaluateBlock(n.Body, env)
	if err != nil {
		if thrown, ok := asThrow(err); ok {
			if clause := matchCatch(n.Catches, thrown); clause != nil {
				scope := env.Push()
				if clause.Binding != "" {
					scope.Define(clause.Binding, thrown.Payload())
				}
				val, err = ec.evaluateBlockIn(clause.Body, scope)
			}
		}
	}
	if n.Finally != nil {
		if _, ferr := ec.evaluateBlock(n.Finally, env); ferr != nil {
			return nil, ferr
		}
	}
	return val, err
}

func matchCatch(clauses []*ast.CatchClause, thrown *runtime.Error) *ast.CatchClause {
	for _, c := range clauses {
		switch c.ErrorType {
		case "", "*", "Error":
			return c
		case thrown.Kind.String():
			return c
		}
		if m, ok := thrown.Value.(runtime.MapValue); ok {
			if t, ok := m.Get("type"); ok {
				if s, ok := t.(runtime.StringValue); ok && s.Val == c.ErrorType {
					return c
				}
			}
		}
	}
	return nil
}

// throwValue builds the error for a throw statement. Rethrowing a caught
// payload preserves its original kind.
func throwValue(v runtime.Value) *runtime.Error {
	m, ok := v.(runtime.MapValue)
	if !ok {
		return runtime.Thrown(v)
	}
	kindVal, ok := m.Get("kind")
	if !ok {
		return runtime.Thrown(v)
	}
	name, ok := kindVal.(runtime.StringValue)
	if !ok {
		return runtime.Thrown(v)
	}
	kind, ok := runtime.ParseErrorKind(name.Val)
	if !ok {
		return runtime.Thrown(v)
	}
	inner, _ := m.Get("value")
	if kind == runtime.UserThrown && inner != nil && inner.Kind() != runtime.KindNull {
		return runtime.Thrown(inner)
	}
	msg := ""
	if s, ok := m.Get("message"); ok {
		if str, ok := s.(runtime.StringValue); ok {
			msg = str.Val
		}
	}
	if inner != nil && inner.Kind() == runtime.KindNull {
		inner = nil
	}
	return &runtime.Error{Kind: kind, Message: msg, Value: inner}
}

func (ec *ExecutionContext) evaluateMatch(n *ast.MatchStatement, env *runtime.Environment) (runtime.Value, error) {
	subject, err := ec.evaluateExpression(n.Subject, env)
	if err != nil {
		return nil, err
	}
	for _, c := range n.Cases {
		if c.Pattern != nil {
			pattern, err := ec.evaluateExpression(c.Pattern, env)
			if err != nil {
				return nil, err
			}
			if !runtime.Equal(subject, pattern) {
				continue
			}
		}
		scope := env.Push()
		if c.Binding != "" {
			scope.Define(c.Binding, subject)
		}
		return ec.evaluateBlockIn(c.Body, scope)
	}
	return runtime.Null, nil
}

// defineLocalFunction binds a nested function declaration as a closure.
func (ec *ExecutionContext) defineLocalFunction(n *ast.FunctionDefinition, env *runtime.Environment) (runtime.Value, error) {
	if len(n.Attributes) > 0 {
		return nil, runtime.NewError(runtime.LoadError, "%s: attributes are only allowed on top-level functions and methods", n.Name)
	}
	params := make([]string, len(n.Params))
	for i, p := range n.Params {
		params[i] = p.Name
	}
	fn := &runtime.FunctionValue{Name: n.Name, Params: params, Body: n.Body, Closure: env.Flatten()}
	fn.Closure.Define(n.Name, fn)
	env.Define(n.Name, fn)
	return fn, nil
}
