package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/DegrassiAaron/mcpcode/internal/audit"
	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/codegen"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
	"github.com/DegrassiAaron/mcpcode/internal/plan"
	"github.com/DegrassiAaron/mcpcode/internal/redact"
	"github.com/DegrassiAaron/mcpcode/internal/sandbox"
)

type fakeTools struct {
	mu      sync.Mutex
	calls   []string
	results map[string]any
}

func (f *fakeTools) CallTool(ctx context.Context, fqn string, args map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fqn)
	if v, ok := f.results[fqn]; ok {
		return v, nil
	}
	return nil, errdefs.Newf(errdefs.NotFound, "no such tool %s", fqn)
}

func testIndex() *catalog.Index {
	ix := catalog.NewIndex(nil)
	ix.Put(catalog.Descriptor{
		Server:      "fs",
		Name:        "read_file",
		Description: "Read a file from the workspace",
		Keywords:    []string{"read", "file"},
		Parameters:  []catalog.Parameter{{Name: "path", Type: "string", Required: true}},
		Returns:     catalog.Returns{Type: "object"},
	})
	ix.Put(catalog.Descriptor{
		Server:      "mail",
		Name:        "list_messages",
		Description: "List inbox messages",
		Keywords:    []string{"mail", "inbox"},
		Returns:     catalog.Returns{Type: "array"},
	})
	return ix
}

func vmOnly() map[string]sandbox.Runtime {
	return map[string]sandbox.Runtime{
		sandbox.LevelVM: sandbox.NewVMRuntime(nil),
	}
}

func TestExecuteHappyPath(t *testing.T) {
	tools := &fakeTools{results: map[string]any{
		"fs.read_file": map[string]any{"content": "hello"},
	}}
	entry := "const res = await fs.read_file({ \"path\": \"notes.txt\" });\nemit(res.content);"
	eng := New(Params{
		Index:    testIndex(),
		Planner:  plan.NewMockPlanner(entry),
		Tools:    tools,
		Runtimes: vmOnly(),
	})
	res, err := eng.Execute(context.Background(), "read the file notes.txt", codegen.LangTypeScript, Options{
		IsolationLevel: sandbox.LevelVM,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("success = false, result %+v", res)
	}
	if res.Summary != `"hello"` {
		t.Fatalf("summary = %q", res.Summary)
	}
	if len(tools.calls) != 1 || tools.calls[0] != "fs.read_file" {
		t.Fatalf("calls = %v", tools.calls)
	}
	if res.ExecutionID == "" {
		t.Fatal("missing execution id")
	}
}

func TestExecuteDiscoveryEmpty(t *testing.T) {
	eng := New(Params{Index: testIndex(), Planner: plan.NewMockPlanner(), Runtimes: vmOnly()})
	res, err := eng.Execute(context.Background(), "zzzz qqqq xxxx", codegen.LangTypeScript, Options{})
	if errdefs.KindOf(err) != errdefs.DiscoveryEmpty {
		t.Fatalf("kind = %v", errdefs.KindOf(err))
	}
	if res.Success {
		t.Fatal("success should be false")
	}
	if errdefs.ExitCode(err) != 2 {
		t.Fatalf("exit = %d", errdefs.ExitCode(err))
	}
	if res.Summary == "" {
		t.Fatal("failed result must carry a summary")
	}
}

func TestExecuteDeniedByValidator(t *testing.T) {
	eng := New(Params{
		Index:    testIndex(),
		Planner:  plan.NewMockPlanner("eval(\"1+1\");\nemit(true);"),
		Runtimes: vmOnly(),
	})
	res, err := eng.Execute(context.Background(), "read the file", codegen.LangTypeScript, Options{})
	if errdefs.KindOf(err) != errdefs.PolicyDenied {
		t.Fatalf("kind = %v, err = %v", errdefs.KindOf(err), err)
	}
	if res.RiskLevel != "critical" {
		t.Fatalf("risk level = %q score %d", res.RiskLevel, res.RiskScore)
	}
}

func TestExecuteSandboxUnavailableNoDowngrade(t *testing.T) {
	eng := New(Params{
		Index:    testIndex(),
		Planner:  plan.NewMockPlanner("emit(1);"),
		Runtimes: vmOnly(),
	})
	_, err := eng.Execute(context.Background(), "read the file", codegen.LangTypeScript, Options{
		IsolationLevel: sandbox.LevelContainer,
	})
	if errdefs.KindOf(err) != errdefs.SandboxUnavailable {
		t.Fatalf("kind = %v", errdefs.KindOf(err))
	}
}

func TestExecutePostRedaction(t *testing.T) {
	tools := &fakeTools{results: map[string]any{
		"mail.list_messages": []any{
			map[string]any{"from": "alice@example.com"},
			map[string]any{"from": "alice@example.com"},
		},
	}}
	entry := "const res = await mail.list_messages({});\nemit(res);"
	eng := New(Params{
		Index:    testIndex(),
		Planner:  plan.NewMockPlanner(entry),
		Tools:    tools,
		Runtimes: vmOnly(),
	})
	res, err := eng.Execute(context.Background(), "list inbox mail messages", codegen.LangTypeScript, Options{
		IsolationLevel: sandbox.LevelVM,
		Redact:         redact.DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Contains(res.Summary, "alice@example.com") {
		t.Fatalf("summary leaked pii: %q", res.Summary)
	}
	if !strings.Contains(res.Summary, "[EMAIL_1]") {
		t.Fatalf("summary = %q", res.Summary)
	}
	if res.Redactions["EMAIL_1"] != "alice@example.com" {
		t.Fatalf("redactions = %v", res.Redactions)
	}
	if res.RedactionsCount != 1 {
		t.Fatalf("count = %d", res.RedactionsCount)
	}
}

func TestRedactionsNeverSerialized(t *testing.T) {
	res := Result{
		Success:    true,
		Summary:    "[EMAIL_1]",
		Redactions: map[string]string{"EMAIL_1": "alice@example.com"},
	}
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "alice@example.com") {
		t.Fatalf("serialized result leaked pii: %s", raw)
	}
}

func TestExecuteFailedUnitReportsStderr(t *testing.T) {
	eng := New(Params{
		Index:    testIndex(),
		Planner:  plan.NewMockPlanner("throw new Error(\"unit exploded\");"),
		Runtimes: vmOnly(),
	})
	res, err := eng.Execute(context.Background(), "read the file", codegen.LangTypeScript, Options{
		IsolationLevel: sandbox.LevelVM,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("success should be false")
	}
	if !strings.Contains(res.Summary, "unit exploded") {
		t.Fatalf("summary = %q", res.Summary)
	}
}

func TestExecuteFailedUnitSummaryRedacted(t *testing.T) {
	eng := New(Params{
		Index:    testIndex(),
		Planner:  plan.NewMockPlanner("throw new Error(\"contact alice@example.com failed\");"),
		Runtimes: vmOnly(),
	})
	res, err := eng.Execute(context.Background(), "read the file", codegen.LangTypeScript, Options{
		IsolationLevel: sandbox.LevelVM,
		Redact:         redact.DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("success should be false")
	}
	if res.Summary == "" {
		t.Fatal("failed result must carry a summary")
	}
	if strings.Contains(res.Summary, "alice@example.com") {
		t.Fatalf("failure summary leaked pii: %q", res.Summary)
	}
	if !strings.Contains(res.Summary, "[EMAIL_1]") {
		t.Fatalf("summary = %q", res.Summary)
	}
	if res.Redactions["EMAIL_1"] != "alice@example.com" {
		t.Fatalf("redactions = %v", res.Redactions)
	}
}

func TestExecuteCancelledBetweenPhases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := New(Params{Index: testIndex(), Planner: plan.NewMockPlanner("emit(1);"), Runtimes: vmOnly()})
	_, err := eng.Execute(ctx, "read the file", codegen.LangTypeScript, Options{})
	if errdefs.KindOf(err) != errdefs.Cancelled {
		t.Fatalf("kind = %v", errdefs.KindOf(err))
	}
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	eng := New(Params{Index: testIndex(), Planner: plan.NewMockPlanner(), Runtimes: vmOnly()})
	_, err := eng.Execute(context.Background(), "read the file", "ruby", Options{})
	if errdefs.KindOf(err) != errdefs.ConfigError {
		t.Fatalf("kind = %v", errdefs.KindOf(err))
	}
}

func TestExecuteWritesAuditTrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	trail, err := audit.NewTrail(path)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	tools := &fakeTools{results: map[string]any{"fs.read_file": "ok"}}
	eng := New(Params{
		Index:    testIndex(),
		Planner:  plan.NewMockPlanner("const r = await fs.read_file({});\nemit(r);"),
		Tools:    tools,
		Runtimes: vmOnly(),
		Trail:    trail,
	})
	if _, err := eng.Execute(context.Background(), "read the file", codegen.LangTypeScript, Options{
		IsolationLevel: sandbox.LevelVM,
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	_ = trail.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	phases := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		phases[rec["phase"].(string)] = true
	}
	for _, want := range []string{"discovery", "generation", "validation", "execution", "summarization"} {
		if !phases[want] {
			t.Fatalf("missing %s phase, got %v", want, phases)
		}
	}
}

func TestExecuteWritesWrappers(t *testing.T) {
	root := t.TempDir()
	tools := &fakeTools{results: map[string]any{"fs.read_file": "ok"}}
	eng := New(Params{
		Index:    testIndex(),
		Planner:  plan.NewMockPlanner("const r = await fs.read_file({});\nemit(r);"),
		Tools:    tools,
		Runtimes: vmOnly(),
	})
	if _, err := eng.Execute(context.Background(), "read the file", codegen.LangTypeScript, Options{
		IsolationLevel: sandbox.LevelVM,
		OutputRoot:     root,
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "fs", "read_file.ts")); err != nil {
		t.Fatalf("missing wrapper: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "dispatch.ts")); err != nil {
		t.Fatalf("missing dispatch stub: %v", err)
	}
}
