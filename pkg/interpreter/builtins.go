package interpreter

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dal/runtime-go/pkg/runtime"
	"dal/runtime-go/pkg/security"
)

type hostFunc func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error)

// host adapts engine-owned built-ins, which need the calling ExecutionContext.
func host(fn hostFunc) runtime.NativeFunc {
	return func(call *runtime.NativeCall, args []runtime.Value) (runtime.Value, error) {
		ec := execFromContext(call.Context)
		if ec == nil {
			return nil, runtime.NewError(runtime.ProviderError, "%s called outside the engine", call.Name)
		}
		return fn(ec, args)
	}
}

func builtin(name string, min, max int, fn hostFunc, params ...runtime.Kind) runtime.Builtin {
	return runtime.Builtin{Name: name, MinArgs: min, MaxArgs: max, Params: params, Fn: host(fn)}
}

func (e *Engine) hostProviders() []runtime.Provider {
	return []runtime.Provider{
		coreProvider(e.opts.Output),
		stateProvider(),
		authProvider(e.registry),
		agentProvider(e),
		logProvider(e.auditor),
	}
}

//-----------------------------------------------------------------------------
// core
//-----------------------------------------------------------------------------

func coreProvider(out io.Writer) runtime.Provider {
	anyKind := runtime.AnyKind
	return runtime.StaticProvider{Name: "core", Funcs: []runtime.Builtin{
		builtin("print", 0, -1, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = runtime.Format(a)
			}
			if _, err := fmt.Fprintln(out, strings.Join(parts, " ")); err != nil {
				return nil, err
			}
			return runtime.Null, nil
		}),
		builtin("len", 1, 1, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			switch v := args[0].(type) {
			case runtime.StringValue:
				return runtime.Int(int64(len([]rune(v.Val)))), nil
			case runtime.ListValue:
				return runtime.Int(int64(v.Len())), nil
			case runtime.MapValue:
				return runtime.Int(int64(v.Len())), nil
			case runtime.RangeValue:
				return runtime.Int(int64(len(v.Items()))), nil
			}
			return nil, typeMismatch("len of %s", args[0].Kind())
		}),
		builtin("str", 1, 1, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			return runtime.String(runtime.Format(args[0])), nil
		}),
		builtin("int", 1, 1, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			return toInt(args[0])
		}),
		builtin("float", 1, 1, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			return toFloat(args[0])
		}),
		builtin("type_of", 1, 1, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			if h, ok := args[0].(runtime.HandleValue); ok {
				return runtime.String(string(h.Type)), nil
			}
			return runtime.String(args[0].Kind().String()), nil
		}),
		builtin("push", 2, 2, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			return args[0].(runtime.ListValue).Append(args[1]), nil
		}, runtime.KindList, anyKind),
		builtin("keys", 1, 1, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			keys := args[0].(runtime.MapValue).Keys()
			out := make([]runtime.Value, len(keys))
			for i, k := range keys {
				out[i] = runtime.String(k)
			}
			return runtime.NewList(out...), nil
		}, runtime.KindMap),
		builtin("contains", 2, 2, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			switch c := args[0].(type) {
			case runtime.ListValue:
				for _, el := range c.Elements() {
					if runtime.Equal(el, args[1]) {
						return runtime.Bool(true), nil
					}
				}
				return runtime.Bool(false), nil
			case runtime.MapValue:
				key, ok := args[1].(runtime.StringValue)
				if !ok {
					return runtime.Bool(false), nil
				}
				_, found := c.Get(key.Val)
				return runtime.Bool(found), nil
			case runtime.StringValue:
				sub, ok := args[1].(runtime.StringValue)
				if !ok {
					return nil, typeMismatch("contains on string expects a string, got %s", args[1].Kind())
				}
				return runtime.Bool(strings.Contains(c.Val, sub.Val)), nil
			}
			return nil, typeMismatch("contains on %s", args[0].Kind())
		}),
		builtin("map", 2, 2, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			elems := args[0].(runtime.ListValue).Elements()
			for i, el := range elems {
				v, err := ec.callValue(args[1], el)
				if err != nil {
					return nil, err
				}
				elems[i] = v
			}
			return runtime.NewList(elems...), nil
		}, runtime.KindList, runtime.KindFunction),
		builtin("filter", 2, 2, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			var kept []runtime.Value
			for _, el := range args[0].(runtime.ListValue).Elements() {
				v, err := ec.callValue(args[1], el)
				if err != nil {
					return nil, err
				}
				b, ok := v.(runtime.BoolValue)
				if !ok {
					return nil, typeMismatch("filter predicate returned %s", v.Kind())
				}
				if b.Val {
					kept = append(kept, el)
				}
			}
			return runtime.NewList(kept...), nil
		}, runtime.KindList, runtime.KindFunction),
	}}
}

func toInt(v runtime.Value) (runtime.Value, error) {
	switch x := v.(type) {
	case runtime.IntValue:
		return x, nil
	case runtime.FloatValue:
		return runtime.Int(int64(x.Val)), nil
	case runtime.BoolValue:
		if x.Val {
			return runtime.Int(1), nil
		}
		return runtime.Int(0), nil
	case runtime.StringValue:
		n, err := strconv.ParseInt(strings.TrimSpace(x.Val), 10, 64)
		if err != nil {
			return nil, typeMismatch("cannot convert %q to int", x.Val)
		}
		return runtime.Int(n), nil
	}
	return nil, typeMismatch("cannot convert %s to int", v.Kind())
}

func toFloat(v runtime.Value) (runtime.Value, error) {
	switch x := v.(type) {
	case runtime.FloatValue:
		return x, nil
	case runtime.IntValue:
		return runtime.Float(float64(x.Val)), nil
	case runtime.StringValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(x.Val), 64)
		if err != nil {
			return nil, typeMismatch("cannot convert %q to float", x.Val)
		}
		return runtime.Float(f), nil
	}
	return nil, typeMismatch("cannot convert %s to float", v.Kind())
}

//-----------------------------------------------------------------------------
// state
//-----------------------------------------------------------------------------

func stateProvider() runtime.Provider {
	str := runtime.KindString
	return runtime.StaticProvider{Name: "state", Funcs: []runtime.Builtin{
		builtin("get", 1, 2, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			v, ok, err := ec.readState(args[0].(runtime.StringValue).Val)
			if err != nil {
				return nil, err
			}
			if !ok {
				if len(args) == 2 {
					return args[1], nil
				}
				return runtime.Null, nil
			}
			return v, nil
		}, str, runtime.AnyKind),
		builtin("set", 2, 2, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			if args[1].Kind() == runtime.KindFunction {
				return nil, typeMismatch("functions cannot be stored in state")
			}
			if err := ec.writeState(args[0].(runtime.StringValue).Val, args[1]); err != nil {
				return nil, err
			}
			return args[1], nil
		}, str, runtime.AnyKind),
		builtin("has", 1, 1, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			_, ok, err := ec.readState(args[0].(runtime.StringValue).Val)
			if err != nil {
				return nil, err
			}
			return runtime.Bool(ok), nil
		}, str),
		builtin("delete", 1, 1, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			return runtime.Null, ec.deleteState(args[0].(runtime.StringValue).Val)
		}, str),
	}}
}

//-----------------------------------------------------------------------------
// auth
//-----------------------------------------------------------------------------

func authProvider(reg *security.Registry) runtime.Provider {
	str := runtime.KindString
	return runtime.StaticProvider{Name: "auth", Funcs: []runtime.Builtin{
		builtin("caller", 0, 0, func(ec *ExecutionContext, _ []runtime.Value) (runtime.Value, error) {
			if ec.principal.IsDefault() {
				return runtime.Null, nil
			}
			return runtime.String(ec.principal.ID), nil
		}),
		builtin("has_role", 1, 1, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			return runtime.Bool(ec.principal.HasRole(args[0].(runtime.StringValue).Val)), nil
		}, str),
		builtin("check", 2, 2, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			resource := args[0].(runtime.StringValue).Val
			op := args[1].(runtime.StringValue).Val
			return runtime.Bool(reg.Check(ec.principal, resource, op)), nil
		}, str, str),
	}}
}

//-----------------------------------------------------------------------------
// agent
//-----------------------------------------------------------------------------

func agentProvider(e *Engine) runtime.Provider {
	handle := runtime.KindHandle
	return runtime.StaticProvider{Name: "agent", Funcs: []runtime.Builtin{
		builtin("send", 2, 2, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			a, err := e.agentOf(args[0])
			if err != nil {
				return nil, err
			}
			from := ""
			if ec.agent != nil {
				from = ec.agent.handle.ID
			}
			return runtime.Bool(a.mailbox.push(message{from: from, value: args[1]})), nil
		}, handle, runtime.AnyKind),
		builtin("receive", 0, 1, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			if ec.agent == nil {
				return nil, runtime.NewError(runtime.ProviderError, "agent::receive called outside an agent")
			}
			timeout := e.opts.ReceiveTimeout
			if len(args) == 1 {
				timeout = time.Duration(args[0].(runtime.IntValue).Val) * time.Millisecond
			}
			msg, err := ec.agent.mailbox.pop(ec.ctx, timeout)
			if err != nil {
				return nil, err
			}
			return msg.value, nil
		}, runtime.KindInt),
		builtin("self", 0, 0, func(ec *ExecutionContext, _ []runtime.Value) (runtime.Value, error) {
			if ec.agent == nil {
				return runtime.Null, nil
			}
			return ec.agent.handle, nil
		}),
		builtin("await", 1, 2, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			a, err := e.agentOf(args[0])
			if err != nil {
				return nil, err
			}
			var timeout time.Duration
			if len(args) == 2 {
				timeout = time.Duration(args[1].(runtime.IntValue).Val) * time.Millisecond
			}
			return a.await(ec.ctx, timeout)
		}, handle, runtime.KindInt),
		builtin("stop", 1, 1, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			a, err := e.agentOf(args[0])
			if err != nil {
				return nil, err
			}
			running := a.Status() == AgentRunning
			a.cancel()
			return runtime.Bool(running), nil
		}, handle),
		builtin("status", 1, 1, func(_ *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			a, err := e.agentOf(args[0])
			if err != nil {
				return nil, err
			}
			return runtime.String(a.Status().String()), nil
		}, handle),
		builtin("pending", 0, 0, func(ec *ExecutionContext, _ []runtime.Value) (runtime.Value, error) {
			if ec.agent == nil {
				return runtime.Int(0), nil
			}
			return runtime.Int(int64(ec.agent.mailbox.len())), nil
		}),
	}}
}

//-----------------------------------------------------------------------------
// log
//-----------------------------------------------------------------------------

func logProvider(auditor *security.Auditor) runtime.Provider {
	str := runtime.KindString
	emit := func(level func(string, ...zap.Field)) hostFunc {
		return func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = runtime.Format(a)
			}
			fields := []zap.Field{zap.String("principal", ec.principal.ID)}
			if top := ec.stack.Top(); top != nil {
				fields = append(fields, zap.String("function", top.Function))
			}
			if id := ec.TransactionID(); id != "" {
				fields = append(fields, zap.String("tx", id))
			}
			level(strings.Join(parts, " "), fields...)
			return runtime.Null, nil
		}
	}
	return runtime.StaticProvider{Name: "log", Funcs: []runtime.Builtin{
		builtin("info", 1, -1, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			return emit(Logger().Info)(ec, args)
		}),
		builtin("warn", 1, -1, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			return emit(Logger().Warn)(ec, args)
		}),
		builtin("error", 1, -1, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			return emit(Logger().Error)(ec, args)
		}),
		builtin("audit", 2, 3, func(ec *ExecutionContext, args []runtime.Value) (runtime.Value, error) {
			decision := security.Decision(args[1].(runtime.StringValue).Val)
			if decision != security.Allow && decision != security.Deny {
				return nil, typeMismatch("audit decision must be %q or %q, got %q", security.Allow, security.Deny, decision)
			}
			reason := ""
			if len(args) == 3 {
				reason = args[2].(runtime.StringValue).Val
			}
			rec := auditor.Record(ec.principal.ID, args[0].(runtime.StringValue).Val, decision, reason)
			return runtime.String(rec.ID), nil
		}, str, str, str),
	}}
}
