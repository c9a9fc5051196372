package ast

// Identifier and literal helpers.

func ID(name string) *Identifier {
	return NewIdentifier(name)
}

func Scoped(namespace, name string) *ScopedIdentifier {
	return NewScopedIdentifier(namespace, name)
}

func Str(value string) *StringLiteral {
	return NewStringLiteral(value)
}

func Int(value int64) *IntegerLiteral {
	return NewIntegerLiteral(value)
}

func Flt(value float64) *FloatLiteral {
	return NewFloatLiteral(value)
}

func Bool(value bool) *BooleanLiteral {
	return NewBooleanLiteral(value)
}

func Null() *NullLiteral {
	return NewNullLiteral()
}

func List(elements ...Expression) *ListLiteral {
	return NewListLiteral(elements)
}

func Entry(key string, value Expression) *MapEntry {
	return NewMapEntry(key, value)
}

func Map(entries ...*MapEntry) *MapLiteral {
	return NewMapLiteral(entries)
}

// Expression helpers.

func Bin(op string, left, right Expression) *BinaryExpression {
	return NewBinaryExpression(op, left, right)
}

func Un(op string, operand Expression) *UnaryExpression {
	return NewUnaryExpression(op, operand)
}

func Call(callee Expression, args ...Expression) *FunctionCall {
	return NewFunctionCall(callee, args)
}

// CallName calls a plain function by name.
func CallName(name string, args ...Expression) *FunctionCall {
	return NewFunctionCall(ID(name), args)
}

// CallNS calls a namespaced built-in.
func CallNS(namespace, name string, args ...Expression) *FunctionCall {
	return NewFunctionCall(Scoped(namespace, name), args)
}

func Member(object Expression, member string) *MemberAccessExpression {
	return NewMemberAccessExpression(object, member)
}

func Index(object, index Expression) *IndexExpression {
	return NewIndexExpression(object, index)
}

func Assign(target AssignmentTarget, value Expression) *AssignmentExpression {
	return NewAssignmentExpression("=", target, value)
}

func AssignOp(op string, target AssignmentTarget, value Expression) *AssignmentExpression {
	return NewAssignmentExpression(op, target, value)
}

func Lambda(params []*FunctionParameter, body ...Statement) *LambdaExpression {
	return NewLambdaExpression(params, Block(body...))
}

func Range(start, end Expression, inclusive bool) *RangeExpression {
	return NewRangeExpression(start, end, inclusive)
}

func Spawn(call Expression) *SpawnExpression {
	return NewSpawnExpression(call)
}

func Await(expr Expression) *AwaitExpression {
	return NewAwaitExpression(expr)
}

// Statement helpers.

func Let(name string, value Expression) *LetStatement {
	return NewLetStatement(name, value)
}

func Ret(value Expression) *ReturnStatement {
	return NewReturnStatement(value)
}

func Block(body ...Statement) *BlockStatement {
	return NewBlockStatement(body)
}

func If(cond Expression, then *BlockStatement, otherwise Statement) *IfStatement {
	return NewIfStatement(cond, then, otherwise)
}

func While(cond Expression, body ...Statement) *WhileLoop {
	return NewWhileLoop(cond, Block(body...))
}

func ForIn(variable string, iterable Expression, body ...Statement) *ForInLoop {
	return NewForInLoop(variable, iterable, Block(body...))
}

func Loop(body ...Statement) *LoopStatement {
	return NewLoopStatement(Block(body...))
}

func Brk(value Expression) *BreakStatement {
	return NewBreakStatement(value)
}

func Cont() *ContinueStatement {
	return NewContinueStatement()
}

func Try(body *BlockStatement, finally *BlockStatement, catches ...*CatchClause) *TryStatement {
	return NewTryStatement(body, catches, finally)
}

func Catch(errorType, binding string, body ...Statement) *CatchClause {
	return NewCatchClause(errorType, binding, Block(body...))
}

func Throw(expr Expression) *ThrowStatement {
	return NewThrowStatement(expr)
}

func Match(subject Expression, cases ...*MatchCase) *MatchStatement {
	return NewMatchStatement(subject, cases)
}

func Case(pattern Expression, binding string, body ...Statement) *MatchCase {
	return NewMatchCase(pattern, binding, Block(body...))
}

// Declaration helpers.

func Params(names ...string) []*FunctionParameter {
	out := make([]*FunctionParameter, 0, len(names))
	for _, n := range names {
		out = append(out, NewFunctionParameter(n, ""))
	}
	return out
}

func Attr(name string, params ...Expression) *Attribute {
	return NewAttribute(name, params)
}

func Fn(name string, params []*FunctionParameter, attrs []*Attribute, body ...Statement) *FunctionDefinition {
	return NewFunctionDefinition(name, params, Block(body...), attrs)
}

func Field(name string, value Expression) *ServiceField {
	return NewServiceField(name, value)
}

func Service(name string, attrs []*Attribute, fields []*ServiceField, methods ...*FunctionDefinition) *ServiceDefinition {
	return NewServiceDefinition(name, attrs, fields, methods)
}

func Prog(body ...Statement) *Program {
	return NewProgram(body)
}
