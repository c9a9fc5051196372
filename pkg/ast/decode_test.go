package ast

import (
	"encoding/json"
	"strings"
	"testing"
)

func bankProgram() *Program {
	return Prog(
		Service("Bank", []*Attribute{Attr("secure")},
			[]*ServiceField{Field("balance", Int(0)), Field("owner", Str("treasury"))},
			Fn("deposit", Params("amount"), []*Attribute{Attr("txn", Str("serializable")), Attr("limit", Int(5))},
				AssignOp("+=", Member(ID("self"), "balance"), ID("amount")),
				Ret(Member(ID("self"), "balance")),
			),
		),
		Fn("main", Params("n"), nil,
			Let("bank", CallName("Bank", Int(1))),
			Let("rates", Map(Entry("usd", Flt(1.5)), Entry("eur", Null()))),
			ForIn("i", Range(Int(0), ID("n"), true),
				If(Bin("==", Bin("%", ID("i"), Int(2)), Int(0)),
					Block(Cont()),
					Block(Call(Member(ID("bank"), "deposit"), ID("i"))),
				),
			),
			Try(
				Block(Throw(Map(Entry("type", Str("Oops"))))),
				Block(Let("done", Bool(true))),
				Catch("UserThrown", "err", Ret(Index(ID("err"), Str("message")))),
			),
			Match(ID("n"),
				Case(Int(0), "", Ret(Str("zero"))),
				Case(nil, "other", Ret(Un("-", ID("other")))),
			),
			Let("job", Spawn(CallNS("oracle", "fetch", Str("a"), Str("q")))),
			While(Bool(false), Brk(Null())),
			Loop(Brk(Await(ID("job")))),
			Let("f", Lambda(Params("x"), Ret(Bin("*", ID("x"), Int(2))))),
			Assign(Index(ID("rates"), Str("gbp")), List(Int(1), Scoped("chain", "chains"))),
		),
	)
}

func TestDecodeProgramMatchesEncodedTree(t *testing.T) {
	original := bankProgram()
	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := DecodeProgram(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	again, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("marshal decoded: %v", err)
	}
	if string(encoded) != string(again) {
		t.Fatalf("decoded tree differs\nwant %s\ngot  %s", encoded, again)
	}

	svc, ok := decoded.Body[0].(*ServiceDefinition)
	if !ok {
		t.Fatalf("expected service definition, got %T", decoded.Body[0])
	}
	deposit := svc.Methods[0]
	if deposit.Name != "deposit" || len(deposit.Attributes) != 2 || deposit.Params[0].Name != "amount" {
		t.Fatalf("unexpected method %+v", deposit)
	}
	lit, ok := deposit.Attributes[1].Parameters[0].(*IntegerLiteral)
	if !ok || lit.Value != 5 {
		t.Fatalf("attribute parameter should decode as an integer, got %#v", deposit.Attributes[1].Parameters[0])
	}
}

func TestDecodeProgramErrors(t *testing.T) {
	cases := []struct {
		name, input, want string
	}{
		{"not json", `{"type":`, "parse json"},
		{"wrong root", `{"type":"Identifier","name":"x"}`, "want Program"},
		{"unknown node", `{"type":"Program","body":[{"type":"GotoStatement"}]}`, `unsupported node type "GotoStatement"`},
		{"non statement", `{"type":"Program","body":[{"type":"MapEntry","key":"a","value":{"type":"NullLiteral"}}]}`, "is not a statement"},
		{"bad target", `{"type":"Program","body":[{"type":"AssignmentExpression","target":{"type":"IntegerLiteral","value":1},"value":{"type":"NullLiteral"}}]}`, "not assignable"},
		{"missing block", `{"type":"Program","body":[{"type":"WhileLoop","condition":{"type":"BooleanLiteral","value":true}}]}`, "expected block"},
		{"fractional int", `{"type":"Program","body":[{"type":"IntegerLiteral","value":1.5}]}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeProgram([]byte(tc.input))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestScopedIdentifierQualified(t *testing.T) {
	if got := Scoped("oracle", "fetch").Qualified(); got != "oracle::fetch" {
		t.Fatalf("unexpected qualified name %q", got)
	}
}
