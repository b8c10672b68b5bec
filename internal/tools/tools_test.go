package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(NewEchoTool())
	if _, ok := r.Get("echo"); !ok {
		t.Fatal("expected echo tool registered")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing tool to be absent")
	}
}

func TestEchoTool(t *testing.T) {
	res := NewEchoTool().Execute(context.Background(), map[string]interface{}{"text": "hi"})
	if res.ForLLM != "hi" || res.IsError {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPolicyEngineGlobalAllowList(t *testing.T) {
	r := NewRegistry()
	r.Register(NewEchoTool())
	r.Register(NewExecTool(t.TempDir()))

	pe := NewPolicyEngine(Spec{Allow: []string{"echo"}})
	defs := pe.FilterTools(r, "agent-1", "anthropic", nil)
	if len(defs) != 1 || defs[0].Function.Name != "echo" {
		t.Fatalf("expected only echo allowed, got %+v", defs)
	}
}

func TestPolicyEngineAgentDenyNarrowsGlobal(t *testing.T) {
	r := NewRegistry()
	r.Register(NewEchoTool())
	r.Register(NewExecTool(t.TempDir()))

	pe := NewPolicyEngine(Spec{}) // full access globally
	agentSpec := &Spec{Deny: []string{"exec"}}
	defs := pe.FilterTools(r, "agent-1", "anthropic", agentSpec)
	for _, d := range defs {
		if d.Function.Name == "exec" {
			t.Fatal("expected exec denied for this agent")
		}
	}
}

func TestReadFileToolRejectsWorkspaceEscape(t *testing.T) {
	dir := t.TempDir()
	tool := NewReadFileTool(dir)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "../../etc/passwd"})
	if !res.IsError {
		t.Fatal("expected workspace escape to be rejected")
	}
}

func TestWriteThenReadFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	write := NewWriteFileTool(dir)
	read := NewReadFileTool(dir)

	res := write.Execute(context.Background(), map[string]interface{}{"path": "notes.txt", "content": "hello"})
	if res.IsError {
		t.Fatalf("write failed: %+v", res)
	}
	res = read.Execute(context.Background(), map[string]interface{}{"path": "notes.txt"})
	if res.IsError || res.ForLLM != "hello" {
		t.Fatalf("expected round-tripped content, got %+v", res)
	}
}

func TestExecToolDeniesDangerousCommand(t *testing.T) {
	tool := NewExecTool(t.TempDir())
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "rm -rf /"})
	if !res.IsError {
		t.Fatal("expected dangerous command to be denied")
	}
}

func TestExecToolRunsSimpleCommand(t *testing.T) {
	tool := NewExecTool(t.TempDir())
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hi"})
	if res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}
}

func TestListFilesTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewListFilesTool(dir)
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if res.IsError {
		t.Fatalf("unexpected error: %+v", res)
	}
}
