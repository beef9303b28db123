package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"regexp"
	"sort"

	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// ServerSpec describes how to reach one tool server. Stdio servers set
// Command; HTTP servers set URL instead.
type ServerSpec struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

// IsStdio reports whether the server runs as a child process.
func (s ServerSpec) IsStdio() bool { return s.Command != "" }

// IsHTTP reports whether the server is reached over HTTP.
func (s ServerSpec) IsHTTP() bool { return s.URL != "" }

// ServersFile is the authoritative on-disk server registry.
type ServersFile struct {
	MCPServers map[string]ServerSpec `json:"mcpServers"`
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvRefs(value string) string {
	return envRefPattern.ReplaceAllStringFunc(value, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		if resolved, ok := os.LookupEnv(name); ok {
			return resolved
		}
		return ref
	})
}

// LoadServers reads the server registry. Env values keep their ${VAR}
// references as written; resolution happens only when a child environment
// is built, so a load-save round trip never persists resolved secrets. A
// missing file yields an empty registry.
func LoadServers(path string) (ServersFile, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ServersFile{MCPServers: map[string]ServerSpec{}}, nil
	}
	if err != nil {
		return ServersFile{}, errdefs.Wrap(errdefs.IOError, "reading servers file", err)
	}
	var file ServersFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return ServersFile{}, errdefs.Wrap(errdefs.ConfigError, "invalid servers file", err)
	}
	if file.MCPServers == nil {
		file.MCPServers = map[string]ServerSpec{}
	}
	return file, nil
}

// ExpandedEnv resolves ${VAR} references from the process environment.
// Unresolved references are left as written.
func (s ServerSpec) ExpandedEnv() map[string]string {
	if s.Env == nil {
		return nil
	}
	expanded := make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		expanded[k] = expandEnvRefs(v)
	}
	return expanded
}

// SaveServers writes the registry with stable key order. Values are written
// as registered, so ${VAR} references survive round trips.
func SaveServers(path string, file ServersFile) error {
	payload, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errdefs.Wrap(errdefs.Internal, "encoding servers file", err)
	}
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return errdefs.Wrap(errdefs.IOError, "writing servers file", err)
	}
	return nil
}

// ServerNames returns the registered names in sorted order.
func (f ServersFile) ServerNames() []string {
	names := make([]string, 0, len(f.MCPServers))
	for name := range f.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
