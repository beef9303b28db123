package codegen

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

const (
	manifestFileName = ".mcpcode-manifest.json"
	lockFileName     = ".mcpcode-lock"
)

// Generator renders typed wrapper modules from tool descriptors. It holds no
// per-call state and is safe to share across concurrent executions.
type Generator struct {
	logger *zap.Logger
}

// NewGenerator constructs a Generator.
func NewGenerator(logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{logger: logger}
}

// Render produces the stub set for the selected descriptors: one module per
// tool, one index per server, and the shared dispatcher module. Output is
// byte-deterministic for identical inputs.
func (g *Generator) Render(selected []catalog.Descriptor, language string) ([]StubFile, error) {
	if !IsSupportedLanguage(language) {
		return nil, errdefs.Newf(errdefs.ConfigError, "unsupported language %q", language)
	}
	byServer := map[string][]catalog.Descriptor{}
	for _, d := range selected {
		byServer[d.Server] = append(byServer[d.Server], d)
	}
	servers := make([]string, 0, len(byServer))
	for s := range byServer {
		servers = append(servers, s)
	}
	sort.Strings(servers)

	stubs := []StubFile{{
		Path:        dispatchFileName(language),
		Content:     dispatchModule(language),
		ContentHash: "dispatch",
	}}
	for _, server := range servers {
		tools := byServer[server]
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
		indexHash := ""
		for _, d := range tools {
			content, err := renderToolModule(language, d)
			if err != nil {
				return nil, err
			}
			stubs = append(stubs, StubFile{
				Server:      server,
				Tool:        d.Name,
				Path:        filepath.Join(server, moduleFileName(language, d.Name)),
				Content:     content,
				ContentHash: d.ContentHash,
			})
			indexHash += d.ContentHash
		}
		indexContent, err := renderIndexModule(language, tools)
		if err != nil {
			return nil, err
		}
		stubs = append(stubs, StubFile{
			Server:      server,
			Path:        filepath.Join(server, indexFileName(language)),
			Content:     indexContent,
			ContentHash: hashString(indexHash),
		})
	}
	return stubs, nil
}

// WriteIncremental persists stubs under root, skipping modules whose recorded
// content hash is unchanged and deleting modules the manifest knows but the
// new set no longer contains. Returns the paths actually written. Ownership
// of the output directory is exclusive for the duration of the call;
// a concurrent generation fails with GenerationBusy.
func (g *Generator) WriteIncremental(root string, stubs []StubFile) ([]string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errdefs.Wrap(errdefs.IOError, "creating output root", err)
	}
	unlock, err := acquireLock(root)
	if err != nil {
		return nil, err
	}
	defer unlock()

	manifest, err := readManifest(root)
	if err != nil {
		return nil, err
	}

	var written []string
	next := map[string]string{}
	for _, stub := range stubs {
		next[stub.Path] = stub.ContentHash
		if manifest[stub.Path] == stub.ContentHash {
			continue
		}
		path := filepath.Join(root, stub.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errdefs.Wrap(errdefs.IOError, "creating module dir", err)
		}
		if err := os.WriteFile(path, []byte(stub.Content), 0o644); err != nil {
			return nil, errdefs.Wrap(errdefs.IOError, "writing module", err)
		}
		written = append(written, stub.Path)
	}
	for path := range manifest {
		if _, keep := next[path]; keep {
			continue
		}
		if err := os.Remove(filepath.Join(root, path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			g.logger.Warn("failed to remove stale module", zap.String("path", path), zap.Error(err))
		}
	}
	if err := writeManifest(root, next); err != nil {
		return nil, err
	}
	sort.Strings(written)
	return written, nil
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func acquireLock(root string) (func(), error) {
	path := filepath.Join(root, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, errdefs.Newf(errdefs.GenerationBusy, "output dir %s is owned by another generation", root)
		}
		return nil, errdefs.Wrap(errdefs.IOError, "acquiring generation lock", err)
	}
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}

func readManifest(root string) (map[string]string, error) {
	raw, err := os.ReadFile(filepath.Join(root, manifestFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.IOError, "reading manifest", err)
	}
	manifest := map[string]string{}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, errdefs.Wrap(errdefs.ConfigError, "invalid manifest", err)
	}
	return manifest, nil
}

func writeManifest(root string, manifest map[string]string) error {
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errdefs.Wrap(errdefs.Internal, "encoding manifest", err)
	}
	if err := os.WriteFile(filepath.Join(root, manifestFileName), append(payload, '\n'), 0o644); err != nil {
		return errdefs.Wrap(errdefs.IOError, "writing manifest", err)
	}
	return nil
}
