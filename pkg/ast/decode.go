package ast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// DecodeProgram parses the JSON AST emitted by the external parser.
func DecodeProgram(data []byte) (*Program, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("ast: parse json: %w", err)
	}
	node, err := DecodeNode(raw)
	if err != nil {
		return nil, err
	}
	prog, ok := node.(*Program)
	if !ok {
		return nil, fmt.Errorf("ast: root node is %s, want Program", node.NodeType())
	}
	return prog, nil
}

// DecodeNode converts one decoded JSON object into its node.
func DecodeNode(node map[string]any) (Node, error) {
	typ, _ := node["type"].(string)
	switch NodeType(typ) {
	case NodeProgram:
		body, err := decodeStatements(node["body"])
		if err != nil {
			return nil, err
		}
		return NewProgram(body), nil
	case NodeIdentifier:
		name, _ := node["name"].(string)
		return NewIdentifier(name), nil
	case NodeScopedIdentifier:
		ns, _ := node["namespace"].(string)
		name, _ := node["name"].(string)
		return NewScopedIdentifier(ns, name), nil
	case NodeStringLiteral:
		val, _ := node["value"].(string)
		return NewStringLiteral(val), nil
	case NodeIntegerLiteral:
		n, err := decodeInt(node["value"])
		if err != nil {
			return nil, err
		}
		return NewIntegerLiteral(n), nil
	case NodeFloatLiteral:
		f, err := decodeFloat(node["value"])
		if err != nil {
			return nil, err
		}
		return NewFloatLiteral(f), nil
	case NodeBooleanLiteral:
		val, _ := node["value"].(bool)
		return NewBooleanLiteral(val), nil
	case NodeNullLiteral:
		return NewNullLiteral(), nil
	case NodeListLiteral:
		elems, err := decodeExpressions(node["elements"])
		if err != nil {
			return nil, err
		}
		return NewListLiteral(elems), nil
	case NodeMapLiteral:
		rawEntries, _ := node["entries"].([]any)
		entries := make([]*MapEntry, 0, len(rawEntries))
		for _, raw := range rawEntries {
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("ast: invalid map entry %T", raw)
			}
			key, _ := obj["key"].(string)
			val, err := decodeExpression(obj["value"])
			if err != nil {
				return nil, err
			}
			entries = append(entries, NewMapEntry(key, val))
		}
		return NewMapLiteral(entries), nil
	case NodeUnaryExpression:
		op, _ := node["operator"].(string)
		operand, err := decodeExpression(node["operand"])
		if err != nil {
			return nil, err
		}
		return NewUnaryExpression(op, operand), nil
	case NodeBinaryExpression:
		op, _ := node["operator"].(string)
		left, err := decodeExpression(node["left"])
		if err != nil {
			return nil, err
		}
		right, err := decodeExpression(node["right"])
		if err != nil {
			return nil, err
		}
		return NewBinaryExpression(op, left, right), nil
	case NodeRangeExpression:
		start, err := decodeExpression(node["start"])
		if err != nil {
			return nil, err
		}
		end, err := decodeExpression(node["end"])
		if err != nil {
			return nil, err
		}
		inclusive, _ := node["inclusive"].(bool)
		return NewRangeExpression(start, end, inclusive), nil
	case NodeFunctionCall:
		callee, err := decodeExpression(node["callee"])
		if err != nil {
			return nil, err
		}
		args, err := decodeExpressions(node["arguments"])
		if err != nil {
			return nil, err
		}
		return NewFunctionCall(callee, args), nil
	case NodeMemberAccessExpression:
		obj, err := decodeExpression(node["object"])
		if err != nil {
			return nil, err
		}
		member, _ := node["member"].(string)
		return NewMemberAccessExpression(obj, member), nil
	case NodeIndexExpression:
		obj, err := decodeExpression(node["object"])
		if err != nil {
			return nil, err
		}
		idx, err := decodeExpression(node["index"])
		if err != nil {
			return nil, err
		}
		return NewIndexExpression(obj, idx), nil
	case NodeAssignmentExpression:
		op, _ := node["operator"].(string)
		if op == "" {
			op = "="
		}
		targetExpr, err := decodeExpression(node["target"])
		if err != nil {
			return nil, err
		}
		target, ok := targetExpr.(AssignmentTarget)
		if !ok {
			return nil, fmt.Errorf("ast: %s is not assignable", targetExpr.NodeType())
		}
		val, err := decodeExpression(node["value"])
		if err != nil {
			return nil, err
		}
		return NewAssignmentExpression(op, target, val), nil
	case NodeLambdaExpression:
		params, err := decodeParams(node["params"])
		if err != nil {
			return nil, err
		}
		body, err := decodeBlock(node["body"])
		if err != nil {
			return nil, err
		}
		return NewLambdaExpression(params, body), nil
	case NodeSpawnExpression:
		call, err := decodeExpression(node["call"])
		if err != nil {
			return nil, err
		}
		return NewSpawnExpression(call), nil
	case NodeAwaitExpression:
		expr, err := decodeExpression(node["expression"])
		if err != nil {
			return nil, err
		}
		return NewAwaitExpression(expr), nil
	case NodeLetStatement:
		name, _ := node["name"].(string)
		val, err := decodeOptionalExpression(node["value"])
		if err != nil {
			return nil, err
		}
		return NewLetStatement(name, val), nil
	case NodeReturnStatement:
		arg, err := decodeOptionalExpression(node["argument"])
		if err != nil {
			return nil, err
		}
		return NewReturnStatement(arg), nil
	case NodeBlockStatement:
		body, err := decodeStatements(node["body"])
		if err != nil {
			return nil, err
		}
		return NewBlockStatement(body), nil
	case NodeIfStatement:
		cond, err := decodeExpression(node["condition"])
		if err != nil {
			return nil, err
		}
		cons, err := decodeBlock(node["consequence"])
		if err != nil {
			return nil, err
		}
		var alt Statement
		if raw, ok := node["alternative"].(map[string]any); ok {
			decoded, err := DecodeNode(raw)
			if err != nil {
				return nil, err
			}
			switch decoded.(type) {
			case *BlockStatement, *IfStatement:
				alt = decoded.(Statement)
			default:
				return nil, fmt.Errorf("ast: invalid if alternative %s", decoded.NodeType())
			}
		}
		return NewIfStatement(cond, cons, alt), nil
	case NodeWhileLoop:
		cond, err := decodeExpression(node["condition"])
		if err != nil {
			return nil, err
		}
		body, err := decodeBlock(node["body"])
		if err != nil {
			return nil, err
		}
		return NewWhileLoop(cond, body), nil
	case NodeForInLoop:
		variable, _ := node["variable"].(string)
		iterable, err := decodeExpression(node["iterable"])
		if err != nil {
			return nil, err
		}
		body, err := decodeBlock(node["body"])
		if err != nil {
			return nil, err
		}
		return NewForInLoop(variable, iterable, body), nil
	case NodeLoopStatement:
		body, err := decodeBlock(node["body"])
		if err != nil {
			return nil, err
		}
		return NewLoopStatement(body), nil
	case NodeBreakStatement:
		val, err := decodeOptionalExpression(node["value"])
		if err != nil {
			return nil, err
		}
		return NewBreakStatement(val), nil
	case NodeContinueStatement:
		return NewContinueStatement(), nil
	case NodeTryStatement:
		body, err := decodeBlock(node["body"])
		if err != nil {
			return nil, err
		}
		rawCatches, _ := node["catches"].([]any)
		catches := make([]*CatchClause, 0, len(rawCatches))
		for _, raw := range rawCatches {
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("ast: invalid catch clause %T", raw)
			}
			errType, _ := obj["errorType"].(string)
			binding, _ := obj["binding"].(string)
			catchBody, err := decodeBlock(obj["body"])
			if err != nil {
				return nil, err
			}
			catches = append(catches, NewCatchClause(errType, binding, catchBody))
		}
		var finally *BlockStatement
		if node["finally"] != nil {
			finally, err = decodeBlock(node["finally"])
			if err != nil {
				return nil, err
			}
		}
		return NewTryStatement(body, catches, finally), nil
	case NodeThrowStatement:
		expr, err := decodeExpression(node["expression"])
		if err != nil {
			return nil, err
		}
		return NewThrowStatement(expr), nil
	case NodeMatchStatement:
		subject, err := decodeExpression(node["subject"])
		if err != nil {
			return nil, err
		}
		rawCases, _ := node["cases"].([]any)
		cases := make([]*MatchCase, 0, len(rawCases))
		for _, raw := range rawCases {
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("ast: invalid match case %T", raw)
			}
			pattern, err := decodeOptionalExpression(obj["pattern"])
			if err != nil {
				return nil, err
			}
			binding, _ := obj["binding"].(string)
			body, err := decodeBlock(obj["body"])
			if err != nil {
				return nil, err
			}
			cases = append(cases, NewMatchCase(pattern, binding, body))
		}
		return NewMatchStatement(subject, cases), nil
	case NodeFunctionDefinition:
		return decodeFunction(node)
	case NodeServiceDefinition:
		name, _ := node["name"].(string)
		attrs, err := decodeAttributes(node["attributes"])
		if err != nil {
			return nil, err
		}
		rawFields, _ := node["fields"].([]any)
		fields := make([]*ServiceField, 0, len(rawFields))
		for _, raw := range rawFields {
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("ast: invalid service field %T", raw)
			}
			fieldName, _ := obj["name"].(string)
			val, err := decodeOptionalExpression(obj["value"])
			if err != nil {
				return nil, err
			}
			field := NewServiceField(fieldName, val)
			field.Type, _ = obj["fieldType"].(string)
			fields = append(fields, field)
		}
		rawMethods, _ := node["methods"].([]any)
		methods := make([]*FunctionDefinition, 0, len(rawMethods))
		for _, raw := range rawMethods {
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("ast: invalid service method %T", raw)
			}
			fn, err := decodeFunction(obj)
			if err != nil {
				return nil, err
			}
			methods = append(methods, fn)
		}
		return NewServiceDefinition(name, attrs, fields, methods), nil
	default:
		return nil, fmt.Errorf("ast: unsupported node type %q", typ)
	}
}

func decodeFunction(node map[string]any) (*FunctionDefinition, error) {
	name, _ := node["name"].(string)
	params, err := decodeParams(node["params"])
	if err != nil {
		return nil, err
	}
	body, err := decodeBlock(node["body"])
	if err != nil {
		return nil, err
	}
	attrs, err := decodeAttributes(node["attributes"])
	if err != nil {
		return nil, err
	}
	fn := NewFunctionDefinition(name, params, body, attrs)
	fn.IsAsync, _ = node["isAsync"].(bool)
	return fn, nil
}

func decodeParams(raw any) ([]*FunctionParameter, error) {
	list, _ := raw.([]any)
	params := make([]*FunctionParameter, 0, len(list))
	for _, item := range list {
		switch p := item.(type) {
		case string:
			params = append(params, NewFunctionParameter(p, ""))
		case map[string]any:
			name, _ := p["name"].(string)
			typ, _ := p["paramType"].(string)
			params = append(params, NewFunctionParameter(name, typ))
		default:
			return nil, fmt.Errorf("ast: invalid parameter %T", item)
		}
	}
	return params, nil
}

func decodeAttributes(raw any) ([]*Attribute, error) {
	list, _ := raw.([]any)
	attrs := make([]*Attribute, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("ast: invalid attribute %T", item)
		}
		name, _ := obj["name"].(string)
		params, err := decodeExpressions(obj["parameters"])
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, NewAttribute(name, params))
	}
	return attrs, nil
}

func decodeBlock(raw any) (*BlockStatement, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("ast: expected block, got %T", raw)
	}
	node, err := DecodeNode(obj)
	if err != nil {
		return nil, err
	}
	block, ok := node.(*BlockStatement)
	if !ok {
		return nil, fmt.Errorf("ast: expected block, got %s", node.NodeType())
	}
	return block, nil
}

func decodeStatements(raw any) ([]Statement, error) {
	list, _ := raw.([]any)
	stmts := make([]Statement, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("ast: invalid statement %T", item)
		}
		node, err := DecodeNode(obj)
		if err != nil {
			return nil, err
		}
		stmt, ok := node.(Statement)
		if !ok {
			return nil, fmt.Errorf("ast: %s is not a statement", node.NodeType())
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func decodeExpressions(raw any) ([]Expression, error) {
	list, _ := raw.([]any)
	exprs := make([]Expression, 0, len(list))
	for _, item := range list {
		expr, err := decodeExpression(item)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

func decodeOptionalExpression(raw any) (Expression, error) {
	if raw == nil {
		return nil, nil
	}
	return decodeExpression(raw)
}

func decodeExpression(raw any) (Expression, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("ast: expected expression, got %T", raw)
	}
	node, err := DecodeNode(obj)
	if err != nil {
		return nil, err
	}
	expr, ok := node.(Expression)
	if !ok {
		return nil, fmt.Errorf("ast: %s is not an expression", node.NodeType())
	}
	return expr, nil
}

func decodeInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Int64()
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("ast: integer literal %v has a fraction", v)
		}
		return int64(v), nil
	case string:
		return json.Number(v).Int64()
	default:
		return 0, fmt.Errorf("ast: invalid integer literal %T", raw)
	}
}

func decodeFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("ast: invalid float literal %T", raw)
	}
}
