package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = old
	out, _ := io.ReadAll(r)
	_ = r.Close()
	return string(out), runErr
}

func TestListEmptyIndexJSON(t *testing.T) {
	toolsDir := t.TempDir()
	root := newRootCmd()
	root.SetArgs([]string{"list", "--tools-dir", toolsDir, "--json"})
	out, err := captureStdout(t, root.Execute)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("out = %q", out)
	}
}

func TestListRankedWithIntent(t *testing.T) {
	toolsDir := t.TempDir()
	metadata := `[{"name":"read_file","server":"fs","description":"Read a file from disk","keywords":["read","file"],"parameters":[{"name":"path","type":"string","required":true}],"returns":{"type":"object"}}]`
	if err := os.WriteFile(filepath.Join(toolsDir, "fs.json"), []byte(metadata), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	root := newRootCmd()
	root.SetArgs([]string{"list", "read a file", "--tools-dir", toolsDir})
	out, err := captureStdout(t, root.Execute)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "fs.read_file") {
		t.Fatalf("out = %q", out)
	}
}

func TestAddNonInteractive(t *testing.T) {
	dir := t.TempDir()
	serversFile := filepath.Join(dir, "mcp-servers.json")
	root := newRootCmd()
	root.SetArgs([]string{
		"add", "fs",
		"--command", "mcp-fs-server",
		"--args", "--root,/tmp",
		"--env", "FS_TOKEN=${FS_TOKEN}",
		"--probe=false",
		"--servers-file", serversFile,
	})
	if _, err := captureStdout(t, root.Execute); err != nil {
		t.Fatalf("add: %v", err)
	}

	raw, err := os.ReadFile(serversFile)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	var registry struct {
		MCPServers map[string]struct {
			Command string            `json:"command"`
			Args    []string          `json:"args"`
			Env     map[string]string `json:"env"`
		} `json:"mcpServers"`
	}
	if err := json.Unmarshal(raw, &registry); err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	spec, ok := registry.MCPServers["fs"]
	if !ok {
		t.Fatalf("registry = %s", raw)
	}
	if spec.Command != "mcp-fs-server" || len(spec.Args) != 2 {
		t.Fatalf("spec = %+v", spec)
	}
	if spec.Env["FS_TOKEN"] != "${FS_TOKEN}" {
		t.Fatalf("env refs must be preserved on save, got %q", spec.Env["FS_TOKEN"])
	}
}

func TestAddRequiresName(t *testing.T) {
	dir := t.TempDir()
	root := newRootCmd()
	root.SetArgs([]string{
		"add",
		"--command", "srv",
		"--probe=false",
		"--servers-file", filepath.Join(dir, "s.json"),
	})
	root.SetIn(strings.NewReader("\n"))
	_, err := captureStdout(t, root.Execute)
	if errdefs.KindOf(err) != errdefs.ConfigError {
		t.Fatalf("kind = %v", errdefs.KindOf(err))
	}
}

func TestExecuteEmptyIndexExitKind(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MCPCODE_AUDIT_LOG", filepath.Join(dir, "audit.jsonl"))
	root := newRootCmd()
	root.SetArgs([]string{
		"execute", "do something",
		"--tools-dir", filepath.Join(dir, "tools"),
		"--output-root", filepath.Join(dir, "generated"),
		"--servers-file", filepath.Join(dir, "mcp-servers.json"),
		"--json",
	})
	_, err := captureStdout(t, root.Execute)
	if errdefs.KindOf(err) != errdefs.DiscoveryEmpty {
		t.Fatalf("kind = %v, err = %v", errdefs.KindOf(err), err)
	}
	if errdefs.ExitCode(err) != 2 {
		t.Fatalf("exit = %d", errdefs.ExitCode(err))
	}
}
