package interpreter

import (
	"fmt"

	"dal/runtime-go/pkg/runtime"
)

// Non-local control flow travels through the evaluator as error values.
// Throws are *runtime.Error; the signals below are never visible to hosts.

type breakSignal struct {
	value runtime.Value
}

func (b breakSignal) Error() string { return "break" }

type continueSignal struct{}

func (continueSignal) Error() string { return "continue" }

type returnSignal struct {
	value runtime.Value
}

func (returnSignal) Error() string { return "return" }

// settle converts the outcome of a function or program body into a plain
// result. A pending return yields its value; a stray break or continue is a
// load error.
func settle(val runtime.Value, err error) (runtime.Value, error) {
	if err == nil {
		if val == nil {
			return runtime.Null, nil
		}
		return val, nil
	}
	switch sig := err.(type) {
	case returnSignal:
		if sig.value == nil {
			return runtime.Null, nil
		}
		return sig.value, nil
	case breakSignal, continueSignal:
		return nil, runtime.NewError(runtime.LoadError, "%s outside of loop", sig.Error())
	}
	return nil, err
}

// asThrow extracts a catchable error from err.
func asThrow(err error) (*runtime.Error, bool) {
	rtErr, ok := err.(*runtime.Error)
	return rtErr, ok
}

func typeMismatch(format string, args ...any) *runtime.Error {
	return runtime.NewError(runtime.TypeMismatch, format, args...)
}

func describe(v runtime.Value) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%s %s", v.Kind(), runtime.Format(v))
}
