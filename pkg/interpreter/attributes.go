package interpreter

import (
	"fmt"
	"strings"
	"time"

	"dal/runtime-go/pkg/ast"
	"dal/runtime-go/pkg/runtime"
	"dal/runtime-go/pkg/txn"
)

// AttributeKind is the closed set of attributes the engine understands.
// Anything else compiles to AttrMarker and is carried for hosts only.
type AttributeKind int

const (
	AttrSecure AttributeKind = iota
	AttrPublic
	AttrTxn
	AttrLimit
	AttrMarker
)

func (k AttributeKind) String() string {
	switch k {
	case AttrSecure:
		return "secure"
	case AttrPublic:
		return "public"
	case AttrTxn:
		return "txn"
	case AttrLimit:
		return "limit"
	default:
		return "marker"
	}
}

// Attribute is one compiled attribute. Only the fields of its Kind are set.
type Attribute struct {
	Kind       AttributeKind
	Name       string
	Permission string
	Isolation  txn.Isolation
	Timeout    time.Duration
	Limit      int64
}

// compileAttributes validates raw attributes of one declaration.
func compileAttributes(owner string, raw []*ast.Attribute) ([]Attribute, error) {
	out := make([]Attribute, 0, len(raw))
	seen := make(map[AttributeKind]bool)
	for _, a := range raw {
		if a == nil {
			continue
		}
		attr, err := compileAttribute(owner, a)
		if err != nil {
			return nil, err
		}
		if attr.Kind != AttrMarker {
			if seen[attr.Kind] {
				return nil, runtime.NewError(runtime.LoadError, "%s: duplicate @%s", owner, attr.Kind)
			}
			seen[attr.Kind] = true
		}
		out = append(out, attr)
	}
	if seen[AttrSecure] && seen[AttrPublic] {
		return nil, runtime.NewError(runtime.LoadError, "%s: @secure and @public are mutually exclusive", owner)
	}
	return out, nil
}

func compileAttribute(owner string, a *ast.Attribute) (Attribute, error) {
	name := strings.TrimPrefix(a.Name, "@")
	params := make([]runtime.Value, 0, len(a.Parameters))
	for i, p := range a.Parameters {
		v, err := literalValue(p)
		if err != nil {
			return Attribute{}, runtime.NewError(runtime.LoadError, "%s: @%s parameter %d: %v", owner, name, i+1, err)
		}
		params = append(params, v)
	}
	bad := func(format string, args ...any) (Attribute, error) {
		return Attribute{}, runtime.NewError(runtime.LoadError, "%s: @%s %s", owner, name, fmt.Sprintf(format, args...))
	}

	switch name {
	case "secure":
		attr := Attribute{Kind: AttrSecure, Name: name}
		switch len(params) {
		case 0:
		case 1:
			s, ok := params[0].(runtime.StringValue)
			if !ok {
				return bad("expects a permission string, got %s", params[0].Kind())
			}
			attr.Permission = s.Val
		default:
			return bad("takes at most one parameter")
		}
		return attr, nil
	case "public":
		if len(params) > 0 {
			return bad("takes no parameters")
		}
		return Attribute{Kind: AttrPublic, Name: name}, nil
	case "txn":
		attr := Attribute{Kind: AttrTxn, Name: name, Isolation: txn.ReadCommitted}
		if len(params) > 2 {
			return bad("takes at most two parameters")
		}
		for _, p := range params {
			switch v := p.(type) {
			case runtime.StringValue:
				iso, err := txn.ParseIsolation(v.Val)
				if err != nil {
					return bad("%v", err)
				}
				attr.Isolation = iso
			case runtime.IntValue:
				if v.Val <= 0 {
					return bad("timeout must be positive, got %d", v.Val)
				}
				attr.Timeout = time.Duration(v.Val) * time.Millisecond
			default:
				return bad("unexpected %s parameter", p.Kind())
			}
		}
		return attr, nil
	case "limit":
		if len(params) != 1 {
			return bad("expects exactly one parameter")
		}
		n, ok := params[0].(runtime.IntValue)
		if !ok || n.Val <= 0 {
			return bad("expects a positive integer, got %s", runtime.Format(params[0]))
		}
		return Attribute{Kind: AttrLimit, Name: name, Limit: n.Val}, nil
	default:
		return Attribute{Kind: AttrMarker, Name: name}, nil
	}
}

// literalValue evaluates an attribute parameter, which must be a literal.
func literalValue(expr ast.Expression) (runtime.Value, error) {
	switch n := expr.(type) {
	case *ast.StringLiteral:
		return runtime.String(n.Value), nil
	case *ast.IntegerLiteral:
		return runtime.Int(n.Value), nil
	case *ast.FloatLiteral:
		return runtime.Float(n.Value), nil
	case *ast.BooleanLiteral:
		return runtime.Bool(n.Value), nil
	case *ast.Identifier:
		// Bare words such as @txn(serializable).
		return runtime.String(n.Name), nil
	case *ast.UnaryExpression:
		if n.Operator == "-" {
			if lit, ok := n.Operand.(*ast.IntegerLiteral); ok {
				return runtime.Int(-lit.Value), nil
			}
		}
	}
	return nil, fmt.Errorf("attribute parameters must be literals")
}

type authMode int

const (
	authNone authMode = iota
	authSecure
	authPublic
)

// policy is the effective enforcement of one callable after merging service
// and function attributes. Function attributes override service ones of the
// same kind; @secure and @public override each other.
type policy struct {
	auth       authMode
	permission string
	txn        *Attribute
	limit      int64
	markers    []string
}

func resolvePolicy(service, function []Attribute) policy {
	var p policy
	apply := func(attrs []Attribute) {
		for i := range attrs {
			a := attrs[i]
			switch a.Kind {
			case AttrSecure:
				p.auth = authSecure
				p.permission = a.Permission
			case AttrPublic:
				p.auth = authPublic
				p.permission = ""
			case AttrTxn:
				p.txn = &a
			case AttrLimit:
				p.limit = a.Limit
			case AttrMarker:
				p.markers = append(p.markers, a.Name)
			}
		}
	}
	apply(service)
	apply(function)
	return p
}

func (p policy) enforced() bool {
	return p.auth == authSecure || p.txn != nil || p.limit > 0
}
