package runtime

import (
	"math"
	"strings"
)

// BinaryOp applies a non-short-circuit binary operator.
func BinaryOp(op string, left, right Value) (Value, error) {
	switch op {
	case "+":
		return add(left, right)
	case "-", "*", "/", "%":
		return arithmetic(op, left, right)
	case "<", "<=", ">", ">=":
		return compare(op, left, right)
	case "==":
		return BoolValue{Val: Equal(left, right)}, nil
	case "!=":
		return BoolValue{Val: !Equal(left, right)}, nil
	default:
		return nil, NewError(TypeMismatch, "unsupported operator %s", op)
	}
}

// UnaryOp applies - or !.
func UnaryOp(op string, operand Value) (Value, error) {
	switch op {
	case "-":
		switch v := operand.(type) {
		case IntValue:
			if v.Val == math.MinInt64 {
				return nil, NewError(Overflow, "integer negation overflows")
			}
			return IntValue{Val: -v.Val}, nil
		case FloatValue:
			return FloatValue{Val: -v.Val}, nil
		}
		return nil, NewError(TypeMismatch, "unary - requires a number, got %s", operand.Kind())
	case "!":
		b, ok := operand.(BoolValue)
		if !ok {
			return nil, NewError(TypeMismatch, "unary ! requires a bool, got %s", operand.Kind())
		}
		return BoolValue{Val: !b.Val}, nil
	default:
		return nil, NewError(TypeMismatch, "unsupported unary operator %s", op)
	}
}

func add(left, right Value) (Value, error) {
	switch l := left.(type) {
	case StringValue:
		r, ok := right.(StringValue)
		if !ok {
			return nil, mismatch("+", left, right)
		}
		return StringValue{Val: l.Val + r.Val}, nil
	case ListValue:
		r, ok := right.(ListValue)
		if !ok {
			return nil, mismatch("+", left, right)
		}
		return l.Append(r.elements...), nil
	}
	return arithmetic("+", left, right)
}

func arithmetic(op string, left, right Value) (Value, error) {
	li, lInt := left.(IntValue)
	ri, rInt := right.(IntValue)
	if lInt && rInt {
		return intArithmetic(op, li.Val, ri.Val)
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, mismatch(op, left, right)
	}
	switch op {
	case "+":
		return FloatValue{Val: lf + rf}, nil
	case "-":
		return FloatValue{Val: lf - rf}, nil
	case "*":
		return FloatValue{Val: lf * rf}, nil
	case "/":
		if rf == 0 {
			return nil, NewError(DivisionByZero, "division by zero")
		}
		return FloatValue{Val: lf / rf}, nil
	case "%":
		if rf == 0 {
			return nil, NewError(DivisionByZero, "modulo by zero")
		}
		return FloatValue{Val: math.Mod(lf, rf)}, nil
	}
	return nil, mismatch(op, left, right)
}

func intArithmetic(op string, a, b int64) (Value, error) {
	switch op {
	case "+":
		c := a + b
		if (c > a) != (b > 0) {
			return nil, NewError(Overflow, "integer overflow in %d + %d", a, b)
		}
		return IntValue{Val: c}, nil
	case "-":
		c := a - b
		if (c < a) != (b > 0) {
			return nil, NewError(Overflow, "integer overflow in %d - %d", a, b)
		}
		return IntValue{Val: c}, nil
	case "*":
		if a == 0 || b == 0 {
			return IntValue{Val: 0}, nil
		}
		c := a * b
		if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return nil, NewError(Overflow, "integer overflow in %d * %d", a, b)
		}
		return IntValue{Val: c}, nil
	case "/":
		if b == 0 {
			return nil, NewError(DivisionByZero, "division by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return nil, NewError(Overflow, "integer overflow in %d / %d", a, b)
		}
		return IntValue{Val: a / b}, nil
	case "%":
		if b == 0 {
			return nil, NewError(DivisionByZero, "modulo by zero")
		}
		if b == -1 {
			return IntValue{Val: 0}, nil
		}
		return IntValue{Val: a % b}, nil
	}
	return nil, NewError(TypeMismatch, "unsupported operator %s", op)
}

func compare(op string, left, right Value) (Value, error) {
	var cmp int
	switch l := left.(type) {
	case StringValue:
		r, ok := right.(StringValue)
		if !ok {
			return nil, mismatch(op, left, right)
		}
		cmp = strings.Compare(l.Val, r.Val)
	default:
		if li, ok := left.(IntValue); ok {
			if ri, ok := right.(IntValue); ok {
				switch {
				case li.Val < ri.Val:
					cmp = -1
				case li.Val > ri.Val:
					cmp = 1
				}
				break
			}
		}
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return nil, mismatch(op, left, right)
		}
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	}
	switch op {
	case "<":
		return BoolValue{Val: cmp < 0}, nil
	case "<=":
		return BoolValue{Val: cmp <= 0}, nil
	case ">":
		return BoolValue{Val: cmp > 0}, nil
	default:
		return BoolValue{Val: cmp >= 0}, nil
	}
}

func toFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case IntValue:
		return float64(n.Val), true
	case FloatValue:
		return n.Val, true
	}
	return 0, false
}

func mismatch(op string, left, right Value) *Error {
	return NewError(TypeMismatch, "operator %s not defined for %s and %s", op, left.Kind(), right.Kind())
}

// Equal is structural equality. Int and Float compare numerically; other
// mixed kinds are unequal.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case NullValue:
		_, ok := b.(NullValue)
		return ok
	case BoolValue:
		bv, ok := b.(BoolValue)
		return ok && av.Val == bv.Val
	case IntValue, FloatValue:
		af, _ := toFloat(a)
		bf, ok := toFloat(b)
		if ai, ok := a.(IntValue); ok {
			if bi, ok := b.(IntValue); ok {
				return ai.Val == bi.Val
			}
		}
		return ok && af == bf
	case StringValue:
		bv, ok := b.(StringValue)
		return ok && av.Val == bv.Val
	case ListValue:
		bv, ok := b.(ListValue)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for i := range av.elements {
			if !Equal(av.elements[i], bv.elements[i]) {
				return false
			}
		}
		return true
	case MapValue:
		bv, ok := b.(MapValue)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for _, k := range av.keys {
			other, ok := bv.Get(k)
			if !ok || !Equal(av.vals[k], other) {
				return false
			}
		}
		return true
	case HandleValue:
		bv, ok := b.(HandleValue)
		return ok && av.Type == bv.Type && av.ID == bv.ID
	case RangeValue:
		bv, ok := b.(RangeValue)
		return ok && av == bv
	case FunctionRefValue:
		bv, ok := b.(FunctionRefValue)
		if !ok || av.Name != bv.Name {
			return false
		}
		if av.Receiver == nil || bv.Receiver == nil {
			return av.Receiver == bv.Receiver
		}
		return av.Receiver.ID == bv.Receiver.ID
	case *FunctionValue:
		bv, ok := b.(*FunctionValue)
		return ok && av == bv
	}
	return false
}
