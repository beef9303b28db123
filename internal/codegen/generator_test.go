package codegen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

func readFileDescriptor() catalog.Descriptor {
	d := catalog.Descriptor{
		Name:        "read_file",
		Server:      "fs",
		Description: "Read a file from disk.",
		Parameters: []catalog.Parameter{
			{Name: "path", Type: "string", Description: "File path", Required: true},
			{Name: "encoding", Type: "string"},
		},
		Returns: catalog.Returns{Type: "object"},
	}
	d.ContentHash = d.Hash()
	return d
}

func TestRenderTypeScriptModule(t *testing.T) {
	gen := NewGenerator(zap.NewNop())
	stubs, err := gen.Render([]catalog.Descriptor{readFileDescriptor()}, LangTypeScript)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	// dispatch + tool module + server index
	if len(stubs) != 3 {
		t.Fatalf("expected 3 stubs, got %d", len(stubs))
	}
	var tool StubFile
	for _, s := range stubs {
		if s.Tool == "read_file" {
			tool = s
		}
	}
	if tool.Path != filepath.Join("fs", "read_file.ts") {
		t.Fatalf("unexpected tool path %s", tool.Path)
	}
	for _, want := range []string{
		"export async function readFile(params: ReadFileParams)",
		"path: string;",
		"encoding?: string;",
		`call("fs.read_file", params)`,
	} {
		if !strings.Contains(tool.Content, want) {
			t.Fatalf("tool module missing %q:\n%s", want, tool.Content)
		}
	}
}

func TestRenderPythonModule(t *testing.T) {
	gen := NewGenerator(zap.NewNop())
	stubs, err := gen.Render([]catalog.Descriptor{readFileDescriptor()}, LangPython)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var tool StubFile
	for _, s := range stubs {
		if s.Tool == "read_file" {
			tool = s
		}
	}
	for _, want := range []string{
		"def read_file(path: str, encoding: str | None = None) -> dict:",
		`args["path"] = path`,
		"if encoding is not None:",
		`return call("fs.read_file", args)`,
	} {
		if !strings.Contains(tool.Content, want) {
			t.Fatalf("tool module missing %q:\n%s", want, tool.Content)
		}
	}
}

func TestRenderDeterministic(t *testing.T) {
	gen := NewGenerator(zap.NewNop())
	desc := readFileDescriptor()
	first, err := gen.Render([]catalog.Descriptor{desc}, LangTypeScript)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := gen.Render([]catalog.Descriptor{desc}, LangTypeScript)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("stub count drifted")
	}
	for i := range first {
		if first[i].Content != second[i].Content || first[i].Path != second[i].Path {
			t.Fatalf("render not byte-identical at %s", first[i].Path)
		}
	}
}

func TestWriteIncrementalSkipsUnchanged(t *testing.T) {
	gen := NewGenerator(zap.NewNop())
	root := t.TempDir()
	stubs, err := gen.Render([]catalog.Descriptor{readFileDescriptor()}, LangTypeScript)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	written, err := gen.WriteIncremental(root, stubs)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("expected 3 writes, got %v", written)
	}
	written, err = gen.WriteIncremental(root, stubs)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if len(written) != 0 {
		t.Fatalf("second run should be a no-op, wrote %v", written)
	}
}

func TestWriteIncrementalRemovesStaleModules(t *testing.T) {
	gen := NewGenerator(zap.NewNop())
	root := t.TempDir()
	stubs, err := gen.Render([]catalog.Descriptor{readFileDescriptor()}, LangTypeScript)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if _, err := gen.WriteIncremental(root, stubs); err != nil {
		t.Fatalf("write: %v", err)
	}
	toolPath := filepath.Join(root, "fs", "read_file.ts")
	if _, err := os.Stat(toolPath); err != nil {
		t.Fatalf("expected tool module: %v", err)
	}
	// Regenerate with no tools: the stale module is deleted.
	empty, err := gen.Render(nil, LangTypeScript)
	if err != nil {
		t.Fatalf("render empty: %v", err)
	}
	if _, err := gen.WriteIncremental(root, empty); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if _, err := os.Stat(toolPath); !os.IsNotExist(err) {
		t.Fatalf("expected stale module removed, got %v", err)
	}
}

func TestWriteIncrementalBusy(t *testing.T) {
	gen := NewGenerator(zap.NewNop())
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, lockFileName), nil, 0o644); err != nil {
		t.Fatalf("lock: %v", err)
	}
	_, err := gen.WriteIncremental(root, nil)
	if errdefs.KindOf(err) != errdefs.GenerationBusy {
		t.Fatalf("expected GenerationBusy, got %v", err)
	}
}

func TestBuildRuntimeUnitJS(t *testing.T) {
	unit := BuildRuntimeUnit(LangTypeScript, []catalog.Descriptor{readFileDescriptor()}, `const result = await fs.read_file({ path: "/data/notes.txt" });
emit(result);`)
	for _, want := range []string{
		"const fs = {",
		`read_file: (args) => call("fs.read_file", args)`,
		"async function main() {",
		"  const result = await fs.read_file({ path: \"/data/notes.txt\" });",
	} {
		if !strings.Contains(unit, want) {
			t.Fatalf("unit missing %q:\n%s", want, unit)
		}
	}
}

func TestBuildRuntimeUnitPython(t *testing.T) {
	unit := BuildRuntimeUnit(LangPython, []catalog.Descriptor{readFileDescriptor()}, `result = fs.read_file(path="/data/notes.txt")
emit(result)`)
	for _, want := range []string{
		`fs = _Server("fs")`,
		`result = fs.read_file(path="/data/notes.txt")`,
	} {
		if !strings.Contains(unit, want) {
			t.Fatalf("unit missing %q:\n%s", want, unit)
		}
	}
}
