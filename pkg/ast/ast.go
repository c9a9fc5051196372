package ast

type NodeType string

const (
	NodeProgram                NodeType = "Program"
	NodeIdentifier             NodeType = "Identifier"
	NodeScopedIdentifier       NodeType = "ScopedIdentifier"
	NodeStringLiteral          NodeType = "StringLiteral"
	NodeIntegerLiteral         NodeType = "IntegerLiteral"
	NodeFloatLiteral           NodeType = "FloatLiteral"
	NodeBooleanLiteral         NodeType = "BooleanLiteral"
	NodeNullLiteral            NodeType = "NullLiteral"
	NodeListLiteral            NodeType = "ListLiteral"
	NodeMapLiteral             NodeType = "MapLiteral"
	NodeMapEntry               NodeType = "MapEntry"
	NodeUnaryExpression        NodeType = "UnaryExpression"
	NodeBinaryExpression       NodeType = "BinaryExpression"
	NodeFunctionCall           NodeType = "FunctionCall"
	NodeMemberAccessExpression NodeType = "MemberAccessExpression"
	NodeIndexExpression        NodeType = "IndexExpression"
	NodeAssignmentExpression   NodeType = "AssignmentExpression"
	NodeLambdaExpression       NodeType = "LambdaExpression"
	NodeRangeExpression        NodeType = "RangeExpression"
	NodeSpawnExpression        NodeType = "SpawnExpression"
	NodeAwaitExpression        NodeType = "AwaitExpression"
	NodeLetStatement           NodeType = "LetStatement"
	NodeReturnStatement        NodeType = "ReturnStatement"
	NodeBlockStatement         NodeType = "BlockStatement"
	NodeIfStatement            NodeType = "IfStatement"
	NodeWhileLoop              NodeType = "WhileLoop"
	NodeForInLoop              NodeType = "ForInLoop"
	NodeLoopStatement          NodeType = "LoopStatement"
	NodeBreakStatement         NodeType = "BreakStatement"
	NodeContinueStatement      NodeType = "ContinueStatement"
	NodeTryStatement           NodeType = "TryStatement"
	NodeCatchClause            NodeType = "CatchClause"
	NodeThrowStatement         NodeType = "ThrowStatement"
	NodeMatchStatement         NodeType = "MatchStatement"
	NodeMatchCase              NodeType = "MatchCase"
	NodeFunctionDefinition     NodeType = "FunctionDefinition"
	NodeFunctionParameter      NodeType = "FunctionParameter"
	NodeServiceDefinition      NodeType = "ServiceDefinition"
	NodeServiceField           NodeType = "ServiceField"
	NodeAttribute              NodeType = "Attribute"
)

type Node interface {
	NodeType() NodeType
	isNode()
}

type nodeImpl struct {
	Type NodeType `json:"type"`
}

func newNodeImpl(kind NodeType) nodeImpl {
	return nodeImpl{Type: kind}
}

func (n nodeImpl) NodeType() NodeType { return n.Type }
func (nodeImpl) isNode()              {}

// Marker interfaces.

type Expression interface {
	Node
	expressionNode()
	statementNode()
}

type expressionMarker struct{}

func (expressionMarker) expressionNode() {}

type Statement interface {
	Node
	statementNode()
}

type statementMarker struct{}

func (statementMarker) statementNode() {}

// AssignmentTarget is implemented by expressions that may appear on the left of =.
type AssignmentTarget interface {
	Expression
	assignmentTargetNode()
}

type assignmentTargetMarker struct{}

func (assignmentTargetMarker) assignmentTargetNode() {}

// Program is the root produced by the parser.

type Program struct {
	nodeImpl

	Body []Statement `json:"body"`
}

func NewProgram(body []Statement) *Program {
	return &Program{nodeImpl: newNodeImpl(NodeProgram), Body: body}
}

// Identifiers

type Identifier struct {
	nodeImpl
	expressionMarker
	statementMarker
	assignmentTargetMarker

	Name string `json:"name"`
}

func NewIdentifier(name string) *Identifier {
	return &Identifier{nodeImpl: newNodeImpl(NodeIdentifier), Name: name}
}

// ScopedIdentifier names a namespaced built-in such as oracle::fetch.
type ScopedIdentifier struct {
	nodeImpl
	expressionMarker
	statementMarker

	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func NewScopedIdentifier(namespace, name string) *ScopedIdentifier {
	return &ScopedIdentifier{nodeImpl: newNodeImpl(NodeScopedIdentifier), Namespace: namespace, Name: name}
}

// Qualified returns namespace::name.
func (s *ScopedIdentifier) Qualified() string {
	return s.Namespace + "::" + s.Name
}

// Literals

type StringLiteral struct {
	nodeImpl
	expressionMarker
	statementMarker

	Value string `json:"value"`
}

func NewStringLiteral(value string) *StringLiteral {
	return &StringLiteral{nodeImpl: newNodeImpl(NodeStringLiteral), Value: value}
}

type IntegerLiteral struct {
	nodeImpl
	expressionMarker
	statementMarker

	Value int64 `json:"value"`
}

func NewIntegerLiteral(value int64) *IntegerLiteral {
	return &IntegerLiteral{nodeImpl: newNodeImpl(NodeIntegerLiteral), Value: value}
}

type FloatLiteral struct {
	nodeImpl
	expressionMarker
	statementMarker

	Value float64 `json:"value"`
}

func NewFloatLiteral(value float64) *FloatLiteral {
	return &FloatLiteral{nodeImpl: newNodeImpl(NodeFloatLiteral), Value: value}
}

type BooleanLiteral struct {
	nodeImpl
	expressionMarker
	statementMarker

	Value bool `json:"value"`
}

func NewBooleanLiteral(value bool) *BooleanLiteral {
	return &BooleanLiteral{nodeImpl: newNodeImpl(NodeBooleanLiteral), Value: value}
}

type NullLiteral struct {
	nodeImpl
	expressionMarker
	statementMarker
}

func NewNullLiteral() *NullLiteral {
	return &NullLiteral{nodeImpl: newNodeImpl(NodeNullLiteral)}
}

type ListLiteral struct {
	nodeImpl
	expressionMarker
	statementMarker

	Elements []Expression `json:"elements"`
}

func NewListLiteral(elements []Expression) *ListLiteral {
	return &ListLiteral{nodeImpl: newNodeImpl(NodeListLiteral), Elements: elements}
}

type MapEntry struct {
	nodeImpl

	Key   string     `json:"key"`
	Value Expression `json:"value"`
}

func NewMapEntry(key string, value Expression) *MapEntry {
	return &MapEntry{nodeImpl: newNodeImpl(NodeMapEntry), Key: key, Value: value}
}

type MapLiteral struct {
	nodeImpl
	expressionMarker
	statementMarker

	Entries []*MapEntry `json:"entries"`
}

func NewMapLiteral(entries []*MapEntry) *MapLiteral {
	return &MapLiteral{nodeImpl: newNodeImpl(NodeMapLiteral), Entries: entries}
}

// Operators

type UnaryExpression struct {
	nodeImpl
	expressionMarker
	statementMarker

	Operator string     `json:"operator"`
	Operand  Expression `json:"operand"`
}

func NewUnaryExpression(operator string, operand Expression) *UnaryExpression {
	return &UnaryExpression{nodeImpl: newNodeImpl(NodeUnaryExpression), Operator: operator, Operand: operand}
}

type BinaryExpression struct {
	nodeImpl
	expressionMarker
	statementMarker

	Operator string     `json:"operator"`
	Left     Expression `json:"left"`
	Right    Expression `json:"right"`
}

func NewBinaryExpression(operator string, left, right Expression) *BinaryExpression {
	return &BinaryExpression{nodeImpl: newNodeImpl(NodeBinaryExpression), Operator: operator, Left: left, Right: right}
}

type RangeExpression struct {
	nodeImpl
	expressionMarker
	statementMarker

	Start     Expression `json:"start"`
	End       Expression `json:"end"`
	Inclusive bool       `json:"inclusive"`
}

func NewRangeExpression(start, end Expression, inclusive bool) *RangeExpression {
	return &RangeExpression{nodeImpl: newNodeImpl(NodeRangeExpression), Start: start, End: end, Inclusive: inclusive}
}

// Calls and access

type FunctionCall struct {
	nodeImpl
	expressionMarker
	statementMarker

	Callee    Expression   `json:"callee"`
	Arguments []Expression `json:"arguments"`
}

func NewFunctionCall(callee Expression, args []Expression) *FunctionCall {
	return &FunctionCall{nodeImpl: newNodeImpl(NodeFunctionCall), Callee: callee, Arguments: args}
}

type MemberAccessExpression struct {
	nodeImpl
	expressionMarker
	statementMarker
	assignmentTargetMarker

	Object Expression `json:"object"`
	Member string     `json:"member"`
}

func NewMemberAccessExpression(object Expression, member string) *MemberAccessExpression {
	return &MemberAccessExpression{nodeImpl: newNodeImpl(NodeMemberAccessExpression), Object: object, Member: member}
}

type IndexExpression struct {
	nodeImpl
	expressionMarker
	statementMarker
	assignmentTargetMarker

	Object Expression `json:"object"`
	Index  Expression `json:"index"`
}

func NewIndexExpression(object, index Expression) *IndexExpression {
	return &IndexExpression{nodeImpl: newNodeImpl(NodeIndexExpression), Object: object, Index: index}
}

type AssignmentExpression struct {
	nodeImpl
	expressionMarker
	statementMarker

	Operator string           `json:"operator"`
	Target   AssignmentTarget `json:"target"`
	Value    Expression       `json:"value"`
}

func NewAssignmentExpression(operator string, target AssignmentTarget, value Expression) *AssignmentExpression {
	return &AssignmentExpression{nodeImpl: newNodeImpl(NodeAssignmentExpression), Operator: operator, Target: target, Value: value}
}

type LambdaExpression struct {
	nodeImpl
	expressionMarker
	statementMarker

	Params []*FunctionParameter `json:"params"`
	Body   *BlockStatement      `json:"body"`
}

func NewLambdaExpression(params []*FunctionParameter, body *BlockStatement) *LambdaExpression {
	return &LambdaExpression{nodeImpl: newNodeImpl(NodeLambdaExpression), Params: params, Body: body}
}

// SpawnExpression starts Call as an independent agent task.
type SpawnExpression struct {
	nodeImpl
	expressionMarker
	statementMarker

	Call Expression `json:"call"`
}

func NewSpawnExpression(call Expression) *SpawnExpression {
	return &SpawnExpression{nodeImpl: newNodeImpl(NodeSpawnExpression), Call: call}
}

type AwaitExpression struct {
	nodeImpl
	expressionMarker
	statementMarker

	Expression Expression `json:"expression"`
}

func NewAwaitExpression(expr Expression) *AwaitExpression {
	return &AwaitExpression{nodeImpl: newNodeImpl(NodeAwaitExpression), Expression: expr}
}

// Statements

type LetStatement struct {
	nodeImpl
	statementMarker

	Name  string     `json:"name"`
	Value Expression `json:"value,omitempty"`
}

func NewLetStatement(name string, value Expression) *LetStatement {
	return &LetStatement{nodeImpl: newNodeImpl(NodeLetStatement), Name: name, Value: value}
}

type ReturnStatement struct {
	nodeImpl
	statementMarker

	Argument Expression `json:"argument,omitempty"`
}

func NewReturnStatement(argument Expression) *ReturnStatement {
	return &ReturnStatement{nodeImpl: newNodeImpl(NodeReturnStatement), Argument: argument}
}

type BlockStatement struct {
	nodeImpl
	statementMarker

	Body []Statement `json:"body"`
}

func NewBlockStatement(body []Statement) *BlockStatement {
	return &BlockStatement{nodeImpl: newNodeImpl(NodeBlockStatement), Body: body}
}

type IfStatement struct {
	nodeImpl
	statementMarker

	Condition   Expression      `json:"condition"`
	Consequence *BlockStatement `json:"consequence"`
	// Alternative is a *BlockStatement or a chained *IfStatement.
	Alternative Statement `json:"alternative,omitempty"`
}

func NewIfStatement(condition Expression, consequence *BlockStatement, alternative Statement) *IfStatement {
	return &IfStatement{nodeImpl: newNodeImpl(NodeIfStatement), Condition: condition, Consequence: consequence, Alternative: alternative}
}

type WhileLoop struct {
	nodeImpl
	statementMarker

	Condition Expression      `json:"condition"`
	Body      *BlockStatement `json:"body"`
}

func NewWhileLoop(condition Expression, body *BlockStatement) *WhileLoop {
	return &WhileLoop{nodeImpl: newNodeImpl(NodeWhileLoop), Condition: condition, Body: body}
}

type ForInLoop struct {
	nodeImpl
	statementMarker

	Variable string          `json:"variable"`
	Iterable Expression      `json:"iterable"`
	Body     *BlockStatement `json:"body"`
}

func NewForInLoop(variable string, iterable Expression, body *BlockStatement) *ForInLoop {
	return &ForInLoop{nodeImpl: newNodeImpl(NodeForInLoop), Variable: variable, Iterable: iterable, Body: body}
}

type LoopStatement struct {
	nodeImpl
	statementMarker

	Body *BlockStatement `json:"body"`
}

func NewLoopStatement(body *BlockStatement) *LoopStatement {
	return &LoopStatement{nodeImpl: newNodeImpl(NodeLoopStatement), Body: body}
}

type BreakStatement struct {
	nodeImpl
	statementMarker

	Value Expression `json:"value,omitempty"`
}

func NewBreakStatement(value Expression) *BreakStatement {
	return &BreakStatement{nodeImpl: newNodeImpl(NodeBreakStatement), Value: value}
}

type ContinueStatement struct {
	nodeImpl
	statementMarker
}

func NewContinueStatement() *ContinueStatement {
	return &ContinueStatement{nodeImpl: newNodeImpl(NodeContinueStatement)}
}

// CatchClause matches thrown errors. An empty ErrorType matches everything;
// otherwise it names an error kind such as "DivisionByZero".
type CatchClause struct {
	nodeImpl

	ErrorType string          `json:"errorType,omitempty"`
	Binding   string          `json:"binding,omitempty"`
	Body      *BlockStatement `json:"body"`
}

func NewCatchClause(errorType, binding string, body *BlockStatement) *CatchClause {
	return &CatchClause{nodeImpl: newNodeImpl(NodeCatchClause), ErrorType: errorType, Binding: binding, Body: body}
}

type TryStatement struct {
	nodeImpl
	statementMarker

	Body    *BlockStatement `json:"body"`
	Catches []*CatchClause  `json:"catches,omitempty"`
	Finally *BlockStatement `json:"finally,omitempty"`
}

func NewTryStatement(body *BlockStatement, catches []*CatchClause, finally *BlockStatement) *TryStatement {
	return &TryStatement{nodeImpl: newNodeImpl(NodeTryStatement), Body: body, Catches: catches, Finally: finally}
}

type ThrowStatement struct {
	nodeImpl
	statementMarker

	Expression Expression `json:"expression"`
}

func NewThrowStatement(expr Expression) *ThrowStatement {
	return &ThrowStatement{nodeImpl: newNodeImpl(NodeThrowStatement), Expression: expr}
}

// MatchCase compares the subject against Pattern. A nil Pattern is the
// wildcard; a non-empty Binding binds the subject inside Body.
type MatchCase struct {
	nodeImpl

	Pattern Expression      `json:"pattern,omitempty"`
	Binding string          `json:"binding,omitempty"`
	Body    *BlockStatement `json:"body"`
}

func NewMatchCase(pattern Expression, binding string, body *BlockStatement) *MatchCase {
	return &MatchCase{nodeImpl: newNodeImpl(NodeMatchCase), Pattern: pattern, Binding: binding, Body: body}
}

type MatchStatement struct {
	nodeImpl
	statementMarker

	Subject Expression   `json:"subject"`
	Cases   []*MatchCase `json:"cases"`
}

func NewMatchStatement(subject Expression, cases []*MatchCase) *MatchStatement {
	return &MatchStatement{nodeImpl: newNodeImpl(NodeMatchStatement), Subject: subject, Cases: cases}
}

// Declarations

type Attribute struct {
	nodeImpl

	Name       string       `json:"name"`
	Parameters []Expression `json:"parameters,omitempty"`
}

func NewAttribute(name string, params []Expression) *Attribute {
	return &Attribute{nodeImpl: newNodeImpl(NodeAttribute), Name: name, Parameters: params}
}

type FunctionParameter struct {
	nodeImpl

	Name string `json:"name"`
	Type string `json:"paramType,omitempty"`
}

func NewFunctionParameter(name, paramType string) *FunctionParameter {
	return &FunctionParameter{nodeImpl: newNodeImpl(NodeFunctionParameter), Name: name, Type: paramType}
}

type FunctionDefinition struct {
	nodeImpl
	statementMarker

	Name       string               `json:"name"`
	Params     []*FunctionParameter `json:"params"`
	Body       *BlockStatement      `json:"body"`
	Attributes []*Attribute         `json:"attributes,omitempty"`
	IsAsync    bool                 `json:"isAsync,omitempty"`
}

func NewFunctionDefinition(name string, params []*FunctionParameter, body *BlockStatement, attributes []*Attribute) *FunctionDefinition {
	return &FunctionDefinition{nodeImpl: newNodeImpl(NodeFunctionDefinition), Name: name, Params: params, Body: body, Attributes: attributes}
}

type ServiceField struct {
	nodeImpl

	Name  string     `json:"name"`
	Type  string     `json:"fieldType,omitempty"`
	Value Expression `json:"value,omitempty"`
}

func NewServiceField(name string, value Expression) *ServiceField {
	return &ServiceField{nodeImpl: newNodeImpl(NodeServiceField), Name: name, Value: value}
}

type ServiceDefinition struct {
	nodeImpl
	statementMarker

	Name       string                `json:"name"`
	Attributes []*Attribute          `json:"attributes,omitempty"`
	Fields     []*ServiceField       `json:"fields,omitempty"`
	Methods    []*FunctionDefinition `json:"methods,omitempty"`
}

func NewServiceDefinition(name string, attributes []*Attribute, fields []*ServiceField, methods []*FunctionDefinition) *ServiceDefinition {
	return &ServiceDefinition{nodeImpl: newNodeImpl(NodeServiceDefinition), Name: name, Attributes: attributes, Fields: fields, Methods: methods}
}
