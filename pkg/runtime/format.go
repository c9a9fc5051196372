package runtime

import (
	"strconv"
	"strings"
)

// Format renders a value the way print and string conversion show it.
func Format(v Value) string {
	var b strings.Builder
	writeValue(&b, v, false)
	return b.String()
}

func writeValue(b *strings.Builder, v Value, quoted bool) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case NullValue:
		b.WriteString("null")
	case BoolValue:
		b.WriteString(strconv.FormatBool(val.Val))
	case IntValue:
		b.WriteString(strconv.FormatInt(val.Val, 10))
	case FloatValue:
		b.WriteString(strconv.FormatFloat(val.Val, 'g', -1, 64))
	case StringValue:
		if quoted {
			b.WriteString(strconv.Quote(val.Val))
			return
		}
		b.WriteString(val.Val)
	case ListValue:
		b.WriteByte('[')
		for i, el := range val.elements {
			if i > 0 {
				b.WriteString(", ")
			}
			writeValue(b, el, true)
		}
		b.WriteByte(']')
	case MapValue:
		b.WriteByte('{')
		for i, k := range val.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(": ")
			writeValue(b, val.vals[k], true)
		}
		b.WriteByte('}')
	case HandleValue:
		b.WriteString("<")
		b.WriteString(string(val.Type))
		b.WriteString(" ")
		if val.Name != "" {
			b.WriteString(val.Name)
			b.WriteString(" ")
		}
		b.WriteString(val.ID)
		b.WriteString(">")
	case RangeValue:
		b.WriteString(strconv.FormatInt(val.Start, 10))
		if val.Inclusive {
			b.WriteString("..=")
		} else {
			b.WriteString("..")
		}
		b.WriteString(strconv.FormatInt(val.End, 10))
	case *FunctionValue:
		b.WriteString("<fn ")
		if val.Name == "" {
			b.WriteString("lambda")
		} else {
			b.WriteString(val.Name)
		}
		b.WriteString(">")
	case FunctionRefValue:
		b.WriteString("<fn ")
		b.WriteString(val.Name)
		b.WriteString(">")
	default:
		b.WriteString("<")
		b.WriteString(v.Kind().String())
		b.WriteString(">")
	}
}
