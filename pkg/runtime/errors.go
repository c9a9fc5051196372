package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies runtime failures surfaced to DSL code and hosts.
type ErrorKind int

const (
	NameError ErrorKind = iota + 1
	TypeMismatch
	DivisionByZero
	FunctionNotFound
	ArgumentCountMismatch
	AccessDenied
	ReentrancyViolation
	ResourceLimitExceeded
	TransactionConflict
	TransactionExpired
	ProviderError
	UserThrown
	LoadError
	Overflow
	Timeout
	IndexOutOfRange
)

var errorKindNames = map[ErrorKind]string{
	NameError:             "NameError",
	TypeMismatch:          "TypeMismatch",
	DivisionByZero:        "DivisionByZero",
	FunctionNotFound:      "FunctionNotFound",
	ArgumentCountMismatch: "ArgumentCountMismatch",
	AccessDenied:          "AccessDenied",
	ReentrancyViolation:   "ReentrancyViolation",
	ResourceLimitExceeded: "ResourceLimitExceeded",
	TransactionConflict:   "TransactionConflict",
	TransactionExpired:    "TransactionExpired",
	ProviderError:         "ProviderError",
	UserThrown:            "UserThrown",
	LoadError:             "LoadError",
	Overflow:              "Overflow",
	Timeout:               "Timeout",
	IndexOutOfRange:       "IndexOutOfRange",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ParseErrorKind resolves a kind by its name, as written in catch clauses.
func ParseErrorKind(name string) (ErrorKind, bool) {
	for kind, n := range errorKindNames {
		if n == name {
			return kind, true
		}
	}
	return 0, false
}

// Error is the structured failure carried by Throw signals.
type Error struct {
	Kind    ErrorKind
	Message string
	// Value is the thrown payload for UserThrown errors.
	Value Value
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind carrying no message, so
// errors.Is(err, &runtime.Error{Kind: runtime.AccessDenied}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Payload renders the error as the map bound by catch clauses.
func (e *Error) Payload() MapValue {
	m := NewMap().
		With("kind", StringValue{Val: e.Kind.String()}).
		With("message", StringValue{Val: e.Message})
	if e.Value != nil {
		m = m.With("value", e.Value)
	} else {
		m = m.With("value", Null)
	}
	return m
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Thrown builds the error raised by a throw statement.
func Thrown(v Value) *Error {
	if m, ok := v.(MapValue); ok {
		if msg, ok := m.Get("message"); ok {
			if s, ok := msg.(StringValue); ok {
				return &Error{Kind: UserThrown, Message: s.Val, Value: v}
			}
		}
	}
	return &Error{Kind: UserThrown, Message: Format(v), Value: v}
}

// KindOf reports the structured kind of err, if it carries one.
func KindOf(err error) (ErrorKind, bool) {
	var rtErr *Error
	if errors.As(err, &rtErr) {
		return rtErr.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
