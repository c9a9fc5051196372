package runtime

import (
	"math"
	"testing"
)

func mustOp(t *testing.T, op string, l, r Value) Value {
	t.Helper()
	v, err := BinaryOp(op, l, r)
	if err != nil {
		t.Fatalf("%s %s %s: %v", Format(l), op, Format(r), err)
	}
	return v
}

func expectOpError(t *testing.T, kind ErrorKind, op string, l, r Value) {
	t.Helper()
	_, err := BinaryOp(op, l, r)
	if !IsKind(err, kind) {
		t.Fatalf("%s %s %s: expected %s, got %v", Format(l), op, Format(r), kind, err)
	}
}

func TestArithmeticPromotesToFloat(t *testing.T) {
	if got := mustOp(t, "+", Int(2), Int(3)); got != Int(5) {
		t.Fatalf("expected 5, got %#v", got)
	}
	if got := mustOp(t, "/", Int(7), Int(2)); got != Int(3) {
		t.Fatalf("integer division should truncate, got %#v", got)
	}
	if got := mustOp(t, "*", Int(2), Float(1.5)); got != Float(3) {
		t.Fatalf("expected float 3, got %#v", got)
	}
	if got := mustOp(t, "%", Float(5.5), Int(2)); got != Float(1.5) {
		t.Fatalf("expected 1.5, got %#v", got)
	}
}

func TestArithmeticErrors(t *testing.T) {
	expectOpError(t, DivisionByZero, "/", Int(1), Int(0))
	expectOpError(t, DivisionByZero, "%", Float(1), Float(0))
	expectOpError(t, Overflow, "+", Int(math.MaxInt64), Int(1))
	expectOpError(t, Overflow, "-", Int(math.MinInt64), Int(1))
	expectOpError(t, Overflow, "*", Int(math.MaxInt64/2+1), Int(2))
	expectOpError(t, Overflow, "/", Int(math.MinInt64), Int(-1))
	expectOpError(t, TypeMismatch, "+", String("a"), Int(1))
	expectOpError(t, TypeMismatch, "-", Bool(true), Int(1))
	expectOpError(t, TypeMismatch, "**", Int(1), Int(1))

	if _, err := UnaryOp("-", Int(math.MinInt64)); !IsKind(err, Overflow) {
		t.Fatalf("expected overflow on negation, got %v", err)
	}
	if _, err := UnaryOp("!", Int(0)); !IsKind(err, TypeMismatch) {
		t.Fatalf("expected ! to require a bool, got %v", err)
	}
}

func TestConcatenation(t *testing.T) {
	if got := mustOp(t, "+", String("ab"), String("cd")); got != String("abcd") {
		t.Fatalf("expected abcd, got %#v", got)
	}
	left := NewList(Int(1))
	joined := mustOp(t, "+", left, NewList(Int(2), Int(3)))
	if !Equal(joined, NewList(Int(1), Int(2), Int(3))) {
		t.Fatalf("unexpected list %s", Format(joined))
	}
	if left.Len() != 1 {
		t.Fatalf("concatenation mutated its operand")
	}
}

func TestComparisonAndEquality(t *testing.T) {
	cases := []struct {
		op   string
		l, r Value
		want bool
	}{
		{"<", Int(1), Int(2), true},
		{">=", Int(2), Float(2), true},
		{"<", String("apple"), String("banana"), true},
		{"==", Int(1), Float(1), true},
		{"==", Int(1), String("1"), false},
		{"!=", Null, Bool(false), true},
		{"==", NewMap().With("a", Int(1)).With("b", Int(2)), NewMap().With("b", Int(2)).With("a", Int(1)), true},
		{"==", NewList(Int(1)), NewList(Int(1), Int(2)), false},
	}
	for _, tc := range cases {
		got := mustOp(t, tc.op, tc.l, tc.r)
		if got != Bool(tc.want) {
			t.Fatalf("%s %s %s: expected %v, got %s", Format(tc.l), tc.op, Format(tc.r), tc.want, Format(got))
		}
	}
	expectOpError(t, TypeMismatch, "<", String("a"), Int(1))
}

func TestRangeItems(t *testing.T) {
	r := RangeValue{Start: 1, End: 4}
	if got := NewList(r.Items()...); !Equal(got, NewList(Int(1), Int(2), Int(3))) {
		t.Fatalf("exclusive range: %s", Format(got))
	}
	r.Inclusive = true
	if n := len(r.Items()); n != 4 {
		t.Fatalf("inclusive range: expected 4 items, got %d", n)
	}
	if items := (RangeValue{Start: 3, End: 1}).Items(); len(items) != 0 {
		t.Fatalf("descending range should be empty, got %d items", len(items))
	}
}
