package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadServersMissingFile(t *testing.T) {
	file, err := LoadServers(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(file.MCPServers) != 0 {
		t.Fatalf("servers = %v", file.MCPServers)
	}
}

func TestExpandedEnvResolvesRefs(t *testing.T) {
	t.Setenv("MCPCODE_TEST_TOKEN", "tok-123")
	path := filepath.Join(t.TempDir(), "servers.json")
	payload := `{"mcpServers":{"fs":{"command":"mcp-fs","env":{"TOKEN":"${MCPCODE_TEST_TOKEN}","MISSING":"${MCPCODE_TEST_ABSENT}"}}}}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	file, err := LoadServers(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	spec := file.MCPServers["fs"]
	if spec.Env["TOKEN"] != "${MCPCODE_TEST_TOKEN}" {
		t.Fatalf("loaded env rewritten: %q", spec.Env["TOKEN"])
	}
	env := spec.ExpandedEnv()
	if env["TOKEN"] != "tok-123" {
		t.Fatalf("TOKEN = %q", env["TOKEN"])
	}
	if env["MISSING"] != "${MCPCODE_TEST_ABSENT}" {
		t.Fatalf("unresolved ref rewritten: %q", env["MISSING"])
	}
}

func TestSaveServersKeepsEnvRefs(t *testing.T) {
	t.Setenv("MCPCODE_TEST_SECRET", "hunter2-secret-value")
	path := filepath.Join(t.TempDir(), "servers.json")
	payload := `{"mcpServers":{"fs":{"command":"mcp-fs","env":{"API_KEY":"${MCPCODE_TEST_SECRET}"}}}}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	file, err := LoadServers(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	file.MCPServers["mail"] = ServerSpec{URL: "https://mail.internal/rpc"}
	if err := SaveServers(path, file); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "${MCPCODE_TEST_SECRET}") {
		t.Fatalf("ref not preserved: %s", raw)
	}
	if strings.Contains(string(raw), "hunter2-secret-value") {
		t.Fatalf("resolved secret persisted: %s", raw)
	}
}

func TestLoadServersInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadServers(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveServersRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	in := ServersFile{MCPServers: map[string]ServerSpec{
		"mail": {URL: "https://mail.internal/rpc"},
		"fs":   {Command: "mcp-fs", Args: []string{"--root", "/data"}},
	}}
	if err := SaveServers(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := LoadServers(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !out.MCPServers["mail"].IsHTTP() || !out.MCPServers["fs"].IsStdio() {
		t.Fatalf("round trip = %v", out.MCPServers)
	}
	if names := out.ServerNames(); len(names) != 2 || names[0] != "fs" || names[1] != "mail" {
		t.Fatalf("names = %v", names)
	}
}

func TestNetworkPolicyAllows(t *testing.T) {
	off := NetworkPolicy{Mode: NetworkOff}
	if off.Allows("mail.internal") {
		t.Fatal("off policy must not allow hosts")
	}
	allow := NetworkPolicy{Mode: NetworkAllowlist, Hosts: []string{"mail.internal"}}
	if !allow.Allows("MAIL.INTERNAL") {
		t.Fatal("allowlist match should be case-insensitive")
	}
	if allow.Allows("evil.example") {
		t.Fatal("unlisted host allowed")
	}
}
