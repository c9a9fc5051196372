package interpreter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"dal/runtime-go/pkg/ast"
	"dal/runtime-go/pkg/runtime"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("close engine: %v", err)
		}
	})
	return e
}

func execute(t *testing.T, e *Engine, body ...ast.Statement) runtime.Value {
	t.Helper()
	val, err := e.Execute(context.Background(), ast.Prog(body...))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return val
}

func expectKind(t *testing.T, err error, kind runtime.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", kind)
	}
	if got, ok := runtime.KindOf(err); !ok || got != kind {
		t.Fatalf("expected %s, got %v", kind, err)
	}
}

func expectValue(t *testing.T, got, want runtime.Value) {
	t.Helper()
	if !runtime.Equal(got, want) {
		t.Fatalf("expected %s, got %s", runtime.Format(want), runtime.Format(got))
	}
}

func TestBlockScopesShadowOuterBindings(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.Let("x", ast.Int(1)),
		ast.Block(ast.Let("x", ast.Int(2))),
		ast.Bin("+", ast.ID("x"), ast.Int(41)),
	)
	expectValue(t, got, runtime.Int(42))
}

func TestAssignToUndeclaredNameFails(t *testing.T) {
	e := newTestEngine(t, Options{})
	_, err := e.Execute(context.Background(), ast.Prog(ast.Assign(ast.ID("missing"), ast.Int(1))))
	expectKind(t, err, runtime.NameError)
}

func TestDivisionByZeroIsCatchable(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.Try(
			ast.Block(ast.Bin("/", ast.Int(1), ast.Int(0))),
			nil,
			ast.Catch("DivisionByZero", "err", ast.Member(ast.ID("err"), "kind")),
		),
	)
	expectValue(t, got, runtime.String("DivisionByZero"))
}

func TestIfConditionMustBeBool(t *testing.T) {
	e := newTestEngine(t, Options{})
	_, err := e.Execute(context.Background(), ast.Prog(
		ast.If(ast.Int(1), ast.Block(ast.Int(2)), nil),
	))
	expectKind(t, err, runtime.TypeMismatch)
}

func TestFinallyRunsWhenBodyThrows(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.Let("trail", ast.List()),
		ast.Try(
			ast.Block(ast.Try(
				ast.Block(ast.Throw(ast.Str("boom"))),
				ast.Block(ast.Assign(ast.ID("trail"), ast.CallName("push", ast.ID("trail"), ast.Str("finally")))),
			)),
			nil,
			ast.Catch("UserThrown", "", ast.Assign(ast.ID("trail"), ast.CallName("push", ast.ID("trail"), ast.Str("caught")))),
		),
		ast.ID("trail"),
	)
	expectValue(t, got, runtime.NewList(runtime.String("finally"), runtime.String("caught")))

	_, err := e.Execute(context.Background(), ast.Prog(
		ast.Try(ast.Block(ast.Throw(ast.Str("boom"))), ast.Block(ast.Null())),
	))
	expectKind(t, err, runtime.UserThrown)
}

func TestProgramBindingsEndWithExecute(t *testing.T) {
	e := newTestEngine(t, Options{})
	expectValue(t, execute(t, e, ast.Let("secret", ast.Int(41)), ast.ID("secret")), runtime.Int(41))

	_, err := e.Execute(context.Background(), ast.Prog(
		ast.Assign(ast.ID("secret"), ast.Bin("+", ast.ID("secret"), ast.Int(1))),
	))
	expectKind(t, err, runtime.NameError)

	_, err = e.Execute(context.Background(), ast.Prog(
		ast.Fn("peek", nil, nil, ast.Ret(ast.ID("secret"))),
		ast.Let("secret", ast.Int(1)),
		ast.CallName("peek"),
	))
	expectKind(t, err, runtime.NameError)
	_, err = e.CallFunction(context.Background(), "peek")
	expectKind(t, err, runtime.NameError)
}

func TestRethrowKeepsErrorKind(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.Try(
			ast.Block(ast.Try(
				ast.Block(ast.Bin("%", ast.Int(5), ast.Int(0))),
				nil,
				ast.Catch("", "inner", ast.Throw(ast.ID("inner"))),
			)),
			nil,
			ast.Catch("TypeMismatch", "", ast.Str("wrong clause")),
			ast.Catch("DivisionByZero", "", ast.Str("rethrown")),
		),
	)
	expectValue(t, got, runtime.String("rethrown"))
}

func TestThrownMapMatchesByType(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.Try(
			ast.Block(ast.Throw(ast.Map(ast.Entry("type", ast.Str("InsufficientFunds")), ast.Entry("message", ast.Str("balance too low"))))),
			nil,
			ast.Catch("InsufficientFunds", "err", ast.Member(ast.ID("err"), "message")),
		),
	)
	expectValue(t, got, runtime.String("balance too low"))
}

func TestFramesArePoppedOnEveryExit(t *testing.T) {
	e := newTestEngine(t, Options{MaxCallDepth: 3})
	execute(t, e,
		ast.Fn("boom", nil, nil, ast.Throw(ast.Str("x"))),
		ast.ForIn("i", ast.Range(ast.Int(0), ast.Int(20), false),
			ast.Try(ast.Block(ast.CallName("boom")), nil, ast.Catch("", "", ast.Null())),
		),
	)

	_, err := e.Execute(context.Background(), ast.Prog(
		ast.Fn("recurse", ast.Params("n"), nil, ast.Ret(ast.CallName("recurse", ast.Bin("+", ast.ID("n"), ast.Int(1))))),
		ast.CallName("recurse", ast.Int(0)),
	))
	expectKind(t, err, runtime.ResourceLimitExceeded)
}

func TestDispatchErrors(t *testing.T) {
	e := newTestEngine(t, Options{})
	_, err := e.Execute(context.Background(), ast.Prog(ast.CallName("nope")))
	expectKind(t, err, runtime.FunctionNotFound)

	_, err = e.Execute(context.Background(), ast.Prog(ast.CallNS("nowhere", "fn")))
	expectKind(t, err, runtime.FunctionNotFound)

	_, err = e.Execute(context.Background(), ast.Prog(
		ast.Fn("pair", ast.Params("a", "b"), nil, ast.Ret(ast.ID("a"))),
		ast.CallName("pair", ast.Int(1)),
	))
	expectKind(t, err, runtime.ArgumentCountMismatch)

	_, err = e.Execute(context.Background(), ast.Prog(ast.CallNS("core", "push", ast.Int(1), ast.Int(2))))
	expectKind(t, err, runtime.TypeMismatch)
}

func TestLoopsMatchAndBreakValues(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.ForIn("i", ast.Range(ast.Int(0), ast.Int(10), false),
			ast.If(ast.Bin("==", ast.ID("i"), ast.Int(3)), ast.Block(ast.Brk(ast.Bin("*", ast.ID("i"), ast.Int(10)))), nil),
		),
	)
	expectValue(t, got, runtime.Int(30))

	got = execute(t, e,
		ast.Let("n", ast.Int(0)),
		ast.Let("total", ast.Int(0)),
		ast.While(ast.Bin("<", ast.ID("n"), ast.Int(5)),
			ast.AssignOp("+=", ast.ID("n"), ast.Int(1)),
			ast.If(ast.Bin("==", ast.Bin("%", ast.ID("n"), ast.Int(2)), ast.Int(0)), ast.Block(ast.Cont()), nil),
			ast.AssignOp("+=", ast.ID("total"), ast.ID("n")),
		),
		ast.ID("total"),
	)
	expectValue(t, got, runtime.Int(9))

	got = execute(t, e,
		ast.Let("label", ast.Str("")),
		ast.Match(ast.Int(2),
			ast.Case(ast.Int(1), "", ast.Assign(ast.ID("label"), ast.Str("one"))),
			ast.Case(nil, "n", ast.Assign(ast.ID("label"), ast.CallName("str", ast.ID("n")))),
		),
		ast.ID("label"),
	)
	expectValue(t, got, runtime.String("2"))
}

func TestNestedContainerAssignment(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.Let("acct", ast.Map(ast.Entry("tags", ast.List(ast.Str("a"), ast.Str("b"))))),
		ast.Assign(ast.Index(ast.Member(ast.ID("acct"), "tags"), ast.Int(1)), ast.Str("z")),
		ast.Assign(ast.Member(ast.ID("acct"), "owner"), ast.Str("alice")),
		ast.ID("acct"),
	)
	want := runtime.NewMap().
		With("tags", runtime.NewList(runtime.String("a"), runtime.String("z"))).
		With("owner", runtime.String("alice"))
	expectValue(t, got, want)

	_, err := e.Execute(context.Background(), ast.Prog(ast.Index(ast.List(ast.Int(1)), ast.Int(3))))
	expectKind(t, err, runtime.IndexOutOfRange)
}

func TestCompoundAssignmentEvaluatesTargetOnce(t *testing.T) {
	e := newTestEngine(t, Options{})
	self := ast.Member(ast.ID("self"), "n")
	seq := ast.Service("Seq", nil,
		[]*ast.ServiceField{ast.Field("n", ast.Int(0))},
		ast.Fn("next", nil, nil,
			ast.AssignOp("+=", self, ast.Int(1)),
			ast.Ret(ast.Bin("-", self, ast.Int(1))),
		),
	)
	next := func() *ast.FunctionCall { return ast.Call(ast.Member(ast.ID("seq"), "next")) }

	got := execute(t, e,
		seq,
		ast.Let("seq", ast.CallName("Seq")),
		ast.Let("xs", ast.List(ast.Int(0), ast.Int(0), ast.Int(0))),
		ast.AssignOp("+=", ast.Index(ast.ID("xs"), next()), ast.Int(10)),
		ast.List(ast.ID("xs"), ast.Member(ast.ID("seq"), "n")),
	)
	expectValue(t, got, runtime.NewList(
		runtime.NewList(runtime.Int(10), runtime.Int(0), runtime.Int(0)),
		runtime.Int(1),
	))

	// The target is resolved before the value.
	got = execute(t, e,
		ast.Let("seq", ast.CallName("Seq")),
		ast.Let("xs", ast.List(ast.Int(0), ast.Int(0))),
		ast.Assign(ast.Index(ast.ID("xs"), next()), next()),
		ast.ID("xs"),
	)
	expectValue(t, got, runtime.NewList(runtime.Int(1), runtime.Int(0)))

	got = execute(t, e,
		ast.Let("acct", ast.Map(ast.Entry("tags", ast.List(ast.Int(1), ast.Int(2))))),
		ast.AssignOp("*=", ast.Index(ast.Member(ast.ID("acct"), "tags"), ast.Int(1)), ast.Int(5)),
		ast.Member(ast.ID("acct"), "tags"),
	)
	expectValue(t, got, runtime.NewList(runtime.Int(1), runtime.Int(10)))

	_, err := e.Execute(context.Background(), ast.Prog(
		ast.AssignOp("^=", ast.ID("x"), ast.Int(1)),
	))
	expectKind(t, err, runtime.TypeMismatch)
}

func TestFinishedAgentsAreEvicted(t *testing.T) {
	e := newTestEngine(t, Options{AgentHistory: 2})
	if err := e.Load(ast.Prog(ast.Fn("work", ast.Params("n"), nil, ast.Ret(ast.ID("n"))))); err != nil {
		t.Fatalf("load: %v", err)
	}
	var handles []runtime.Value
	for i := int64(0); i < 3; i++ {
		h, err := e.Execute(context.Background(), ast.Prog(ast.Spawn(ast.CallName("work", ast.Int(i)))))
		if err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
		e.executor.Wait()
		handles = append(handles, h)
	}
	if n := e.RunningAgents(); n != 0 {
		t.Fatalf("%d agents still tracked as running", n)
	}

	_, err := e.CallFunction(context.Background(), "agent::status", handles[0])
	expectKind(t, err, runtime.NameError)
	status, err := e.CallFunction(context.Background(), "agent::status", handles[1])
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	expectValue(t, status, runtime.String("resolved"))
	got, err := e.CallFunction(context.Background(), "agent::await", handles[2])
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	expectValue(t, got, runtime.Int(2))
}

func TestLambdasCaptureSnapshot(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.Let("base", ast.Int(10)),
		ast.Let("add", ast.Lambda(ast.Params("x"), ast.Ret(ast.Bin("+", ast.ID("x"), ast.ID("base"))))),
		ast.Assign(ast.ID("base"), ast.Int(1000)),
		ast.CallName("map", ast.List(ast.Int(1), ast.Int(2)), ast.ID("add")),
	)
	expectValue(t, got, runtime.NewList(runtime.Int(11), runtime.Int(12)))
}

func TestLocalFunctionsRecurse(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.Block(
			ast.Fn("fact", ast.Params("n"), nil,
				ast.If(ast.Bin("<=", ast.ID("n"), ast.Int(1)), ast.Block(ast.Ret(ast.Int(1))), nil),
				ast.Ret(ast.Bin("*", ast.ID("n"), ast.CallName("fact", ast.Bin("-", ast.ID("n"), ast.Int(1))))),
			),
			ast.CallName("fact", ast.Int(5)),
		),
	)
	expectValue(t, got, runtime.Int(120))
}

func TestPrintWritesFormattedValues(t *testing.T) {
	var out bytes.Buffer
	e := newTestEngine(t, Options{Output: &out})
	execute(t, e, ast.CallName("print", ast.Str("total"), ast.Int(3), ast.List(ast.Str("x"), ast.Bool(true))))
	if got := strings.TrimSpace(out.String()); got != `total 3 ["x", true]` {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestServicesKeepFieldsPerInstance(t *testing.T) {
	e := newTestEngine(t, Options{})
	self := func(field string) *ast.MemberAccessExpression { return ast.Member(ast.ID("self"), field) }
	counter := ast.Service("Counter", nil,
		[]*ast.ServiceField{ast.Field("count", ast.Int(0))},
		ast.Fn("init", ast.Params("start"), nil, ast.Assign(self("count"), ast.ID("start"))),
		ast.Fn("inc", nil, nil, ast.AssignOp("+=", self("count"), ast.Int(1)), ast.Ret(self("count"))),
	)
	got := execute(t, e,
		counter,
		ast.Let("a", ast.CallName("Counter", ast.Int(10))),
		ast.Let("b", ast.CallName("Counter", ast.Int(0))),
		ast.Call(ast.Member(ast.ID("a"), "inc")),
		ast.Call(ast.Member(ast.ID("b"), "inc")),
		ast.List(ast.Member(ast.ID("a"), "count"), ast.Member(ast.ID("b"), "count")),
	)
	expectValue(t, got, runtime.NewList(runtime.Int(11), runtime.Int(1)))

	_, err := e.Execute(context.Background(), ast.Prog(ast.Member(ast.CallName("Counter", ast.Int(1)), "missing")))
	expectKind(t, err, runtime.NameError)
}

func TestAgentsExchangeMessages(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.Fn("doubler", nil, nil,
			ast.Let("m", ast.CallNS("agent", "receive", ast.Int(2000))),
			ast.Ret(ast.Bin("*", ast.ID("m"), ast.Int(2))),
		),
		ast.Let("h", ast.Spawn(ast.CallName("doubler"))),
		ast.CallNS("agent", "send", ast.ID("h"), ast.Int(21)),
		ast.Await(ast.ID("h")),
	)
	expectValue(t, got, runtime.Int(42))
}

func TestAgentReceiveTimesOut(t *testing.T) {
	e := newTestEngine(t, Options{})
	_, err := e.Execute(context.Background(), ast.Prog(
		ast.Fn("idle", nil, nil, ast.Ret(ast.CallNS("agent", "receive", ast.Int(20)))),
		ast.Await(ast.Spawn(ast.CallName("idle"))),
	))
	expectKind(t, err, runtime.Timeout)
}

func TestAgentMailboxIsFIFO(t *testing.T) {
	e := newTestEngine(t, Options{})
	got := execute(t, e,
		ast.Fn("collect", ast.Params("n"), nil,
			ast.Let("seen", ast.List()),
			ast.ForIn("i", ast.Range(ast.Int(0), ast.ID("n"), false),
				ast.Assign(ast.ID("seen"), ast.CallName("push", ast.ID("seen"), ast.CallNS("agent", "receive", ast.Int(2000)))),
			),
			ast.Ret(ast.ID("seen")),
		),
		ast.Let("h", ast.Spawn(ast.CallName("collect", ast.Int(3)))),
		ast.ForIn("v", ast.List(ast.Str("a"), ast.Str("b"), ast.Str("c")),
			ast.CallNS("agent", "send", ast.ID("h"), ast.ID("v")),
		),
		ast.CallNS("agent", "await", ast.ID("h"), ast.Int(2000)),
	)
	expectValue(t, got, runtime.NewList(runtime.String("a"), runtime.String("b"), runtime.String("c")))
}

func TestExecutionTimeoutStopsLoops(t *testing.T) {
	e := newTestEngine(t, Options{ExecutionTimeout: 30 * time.Millisecond})
	_, err := e.Execute(context.Background(), ast.Prog(ast.Loop(ast.Null())))
	expectKind(t, err, runtime.Timeout)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
}

func TestProviderRegistrationIsValidated(t *testing.T) {
	e := newTestEngine(t, Options{})
	noop := func(*runtime.NativeCall, []runtime.Value) (runtime.Value, error) { return runtime.Null, nil }
	cases := []runtime.Provider{
		runtime.StaticProvider{Name: "", Funcs: []runtime.Builtin{runtime.Fixed("f", 0, noop)}},
		runtime.StaticProvider{Name: "bad", Funcs: []runtime.Builtin{runtime.Fixed("a::b", 0, noop)}},
		runtime.StaticProvider{Name: "bad", Funcs: []runtime.Builtin{{Name: "f", MinArgs: 2, MaxArgs: 1, Fn: noop}}},
		runtime.StaticProvider{Name: "bad", Funcs: []runtime.Builtin{{Name: "f"}}},
		runtime.StaticProvider{Name: "core", Funcs: []runtime.Builtin{runtime.Fixed("f", 0, noop)}},
	}
	for i, p := range cases {
		if err := e.RegisterProvider(p); err == nil {
			t.Fatalf("case %d: expected registration error", i)
		}
	}
	if _, err := e.CallFunction(context.Background(), "bad::f"); err == nil {
		t.Fatalf("rejected provider must not be callable")
	}
}

func TestBuiltinTimeout(t *testing.T) {
	slow := runtime.StaticProvider{Name: "slow", Funcs: []runtime.Builtin{{
		Name:    "call",
		Timeout: 20 * time.Millisecond,
		Fn: func(call *runtime.NativeCall, _ []runtime.Value) (runtime.Value, error) {
			<-call.Context.Done()
			return nil, call.Context.Err()
		},
	}}}
	e := newTestEngine(t, Options{Providers: []runtime.Provider{slow}})
	_, err := e.CallFunction(context.Background(), "slow::call")
	expectKind(t, err, runtime.Timeout)
}
