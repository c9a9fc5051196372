package providers

import "dal/runtime-go/pkg/runtime"

func str(args []runtime.Value, i int) string {
	if i >= len(args) {
		return ""
	}
	if s, ok := args[i].(runtime.StringValue); ok {
		return s.Val
	}
	return runtime.Format(args[i])
}

func integer(args []runtime.Value, i int) int64 {
	if i >= len(args) {
		return 0
	}
	switch v := args[i].(type) {
	case runtime.IntValue:
		return v.Val
	case runtime.FloatValue:
		return int64(v.Val)
	}
	return 0
}

func number(v runtime.Value) (float64, error) {
	switch n := v.(type) {
	case runtime.IntValue:
		return float64(n.Val), nil
	case runtime.FloatValue:
		return n.Val, nil
	}
	return 0, runtime.NewError(runtime.TypeMismatch, "expected a number, got %s", v.Kind())
}

func stringElems(v runtime.ListValue) ([]string, error) {
	out := make([]string, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		s, ok := v.At(i).(runtime.StringValue)
		if !ok {
			return nil, runtime.NewError(runtime.TypeMismatch, "element %d: expected string, got %s", i, v.At(i).Kind())
		}
		out = append(out, s.Val)
	}
	return out, nil
}

func providerError(ns, fn string, err error) error {
	return runtime.WrapError(runtime.ProviderError, err, "%s::%s: %v", ns, fn, err)
}

func stringList(items []string) runtime.ListValue {
	vals := make([]runtime.Value, len(items))
	for i, s := range items {
		vals[i] = runtime.String(s)
	}
	return runtime.NewList(vals...)
}
