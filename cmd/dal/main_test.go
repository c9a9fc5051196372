package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleProgram = `{
  "type": "Program",
  "body": [
    {
      "type": "FunctionDefinition",
      "name": "add",
      "params": ["a", "b"],
      "body": {"type": "BlockStatement", "body": [
        {"type": "ReturnStatement", "argument": {
          "type": "BinaryExpression", "operator": "+",
          "left": {"type": "Identifier", "name": "a"},
          "right": {"type": "Identifier", "name": "b"}
        }}
      ]}
    },
    {
      "type": "FunctionDefinition",
      "name": "deposit",
      "params": ["amount"],
      "attributes": [{"name": "secure", "parameters": []}],
      "body": {"type": "BlockStatement", "body": [
        {"type": "ReturnStatement", "argument": {"type": "Identifier", "name": "amount"}}
      ]}
    },
    {
      "type": "FunctionCall",
      "callee": {"type": "Identifier", "name": "print"},
      "arguments": [{"type": "StringLiteral", "value": "hello"}]
    },
    {
      "type": "FunctionCall",
      "callee": {"type": "Identifier", "name": "add"},
      "arguments": [{"type": "IntegerLiteral", "value": 2}, {"type": "IntegerLiteral", "value": 3}]
    }
  ]
}`

func writeFixture(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func setupWorkspace(t *testing.T) (configPath, programPath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = writeFixture(t, dir, "dal.yml", "logging:\n  level: error\n")
	programPath = writeFixture(t, dir, "program.json", sampleProgram)
	return configPath, programPath
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunExecutesProgram(t *testing.T) {
	cfg, prog := setupWorkspace(t)
	code, out, errOut := runCLI(t, "--config", cfg, "run", prog)
	if code != exitOK {
		t.Fatalf("exit %d, stderr: %s", code, errOut)
	}
	if out != "hello\n5\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCallInvokesFunctionWithJSONArguments(t *testing.T) {
	cfg, prog := setupWorkspace(t)
	code, out, errOut := runCLI(t, "--config="+cfg, "call", prog, "add", "40", "2")
	if code != exitOK {
		t.Fatalf("exit %d, stderr: %s", code, errOut)
	}
	if out != "42\n" {
		t.Fatalf("unexpected output %q", out)
	}

	code, out, _ = runCLI(t, "--config", cfg, "call", prog, "add", `"a"`, "b")
	if code != exitOK || out != "ab\n" {
		t.Fatalf("string concatenation: exit %d output %q", code, out)
	}
}

func TestSecureCallHonoursCaller(t *testing.T) {
	cfg, prog := setupWorkspace(t)

	code, _, errOut := runCLI(t, "--config", cfg, "call", prog, "deposit", "10")
	if code != exitFailure {
		t.Fatalf("anonymous caller should be denied, got exit %d", code)
	}
	if !strings.Contains(errOut, "AccessDenied") {
		t.Fatalf("expected AccessDenied, got %q", errOut)
	}

	code, out, errOut := runCLI(t, "--config", cfg, "--caller", "alice", "--role", "user", "--audit", "call", prog, "deposit", "10")
	if code != exitOK {
		t.Fatalf("exit %d, stderr: %s", code, errOut)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] != "10" {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(lines[1], `"principal":"alice"`) || !strings.Contains(lines[1], `"decision":"allow"`) {
		t.Fatalf("unexpected audit record %s", lines[1])
	}
}

func TestUsageAndErrors(t *testing.T) {
	if code, _, _ := runCLI(t); code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
	if code, out, _ := runCLI(t, "version"); code != exitOK || !strings.HasPrefix(out, "dal ") {
		t.Fatalf("version: exit %d output %q", code, out)
	}
	if code, _, errOut := runCLI(t, "--caller"); code != exitUsage || !strings.Contains(errOut, "--caller expects a value") {
		t.Fatalf("missing flag value: exit %d stderr %q", code, errOut)
	}
	cfg, _ := setupWorkspace(t)
	if code, _, errOut := runCLI(t, "--config", cfg, "run", filepath.Join(t.TempDir(), "missing.json")); code != exitFailure || !strings.Contains(errOut, "read program") {
		t.Fatalf("missing program: exit %d stderr %q", code, errOut)
	}
	if code, out, _ := runCLI(t, "--config", cfg, "check-config"); code != exitOK || !strings.Contains(out, "storage=memory") {
		t.Fatalf("check-config: exit %d output %q", code, out)
	}
}
