package runtime

import (
	"errors"
	"strings"
	"testing"
)

func TestEnvironmentScoping(t *testing.T) {
	global := NewEnvironment(nil)
	global.Define("x", Int(1))
	inner := global.Push()
	inner.Define("y", Int(2))

	if err := inner.Assign("x", Int(10)); err != nil {
		t.Fatalf("assign through scope chain: %v", err)
	}
	if v, _ := global.Get("x"); v != Int(10) {
		t.Fatalf("outer binding not updated, got %#v", v)
	}
	inner.Define("x", Int(99))
	if v, _ := global.Get("x"); v != Int(10) {
		t.Fatalf("shadowing leaked to outer scope, got %#v", v)
	}

	if inner.Pop() != global {
		t.Fatalf("pop should return the parent")
	}
	if _, err := global.Get("y"); !IsKind(err, NameError) {
		t.Fatalf("expected NameError for popped binding, got %v", err)
	}
	if err := global.Assign("nope", Int(1)); !IsKind(err, NameError) {
		t.Fatalf("expected NameError assigning undeclared name, got %v", err)
	}

	flat := inner.Flatten()
	if flat.Parent() != nil {
		t.Fatalf("flattened scope should be a root")
	}
	if got := strings.Join(flat.Keys(), ","); got != "x,y" {
		t.Fatalf("unexpected flattened keys %s", got)
	}
	if v, _ := flat.Get("x"); v != Int(99) {
		t.Fatalf("inner binding should win, got %#v", v)
	}
	inner.Define("y", Int(3))
	if v, _ := flat.Get("y"); v != Int(2) {
		t.Fatalf("snapshot should not observe later writes, got %#v", v)
	}
}

func TestCallStackDepth(t *testing.T) {
	stack := NewCallStack(2)
	global := NewEnvironment(nil)
	if _, err := stack.Push("outer", "", global); err != nil {
		t.Fatalf("push: %v", err)
	}
	frame, err := stack.Push("method", "Bank#1", global)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if frame.Scope.Parent() != global {
		t.Fatalf("frame scope should be a child of the given parent")
	}
	if _, err := stack.Push("third", "", global); !IsKind(err, ResourceLimitExceeded) {
		t.Fatalf("expected ResourceLimitExceeded, got %v", err)
	}
	if got := strings.Join(stack.Trace(), " < "); got != "method@Bank#1 < outer" {
		t.Fatalf("unexpected trace %q", got)
	}

	popped := stack.Pop()
	if popped.Scope != nil {
		t.Fatalf("popped frame should drop its scope")
	}
	stack.Pop()
	if stack.Depth() != 0 || stack.Top() != nil || stack.Pop() != nil {
		t.Fatalf("stack should be empty")
	}
}

func TestErrorsCarryKindAndPayload(t *testing.T) {
	cause := errors.New("socket closed")
	err := WrapError(ProviderError, cause, "oracle unreachable")
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped cause should be reachable")
	}
	kind, ok := KindOf(err)
	if !ok || kind != ProviderError {
		t.Fatalf("unexpected kind %v", kind)
	}
	payload := err.Payload()
	if v, _ := payload.Get("kind"); v != String("ProviderError") {
		t.Fatalf("unexpected payload kind %s", Format(v))
	}
	if v, _ := payload.Get("message"); v != String("oracle unreachable") {
		t.Fatalf("unexpected payload message %s", Format(v))
	}

	for name := range map[string]ErrorKind{"AccessDenied": AccessDenied, "Timeout": Timeout} {
		if k, ok := ParseErrorKind(name); !ok || k.String() != name {
			t.Fatalf("ParseErrorKind(%q) = %v, %v", name, k, ok)
		}
	}
	if _, ok := ParseErrorKind("Bogus"); ok {
		t.Fatalf("unknown kind should not parse")
	}
}
