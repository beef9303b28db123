package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// MaxMetadataBytes rejects pathological metadata files before parsing.
const MaxMetadataBytes = 256 * 1024

//go:embed metadata.schema.json
var metadataSchemaJSON []byte

var metadataSchema = mustCompileMetadataSchema()

func mustCompileMetadataSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(metadataSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("metadata schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("metadata.schema.json", doc); err != nil {
		panic(fmt.Sprintf("metadata schema: %v", err))
	}
	sch, err := c.Compile("metadata.schema.json")
	if err != nil {
		panic(fmt.Sprintf("metadata schema: %v", err))
	}
	return sch
}

// snapshot is an immutable view of the indexed descriptors.
type snapshot struct {
	byKey map[string]Descriptor
	order []string
}

// Index holds the searchable descriptor set. Reloads swap the whole snapshot
// under one atomic pointer; readers never observe partial state.
type Index struct {
	current atomic.Pointer[snapshot]
	logger  *zap.Logger
}

// NewIndex returns an empty index.
func NewIndex(logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx := &Index{logger: logger}
	idx.current.Store(&snapshot{byKey: map[string]Descriptor{}})
	return idx
}

func key(server, name string) string { return server + "/" + name }

// Load walks root recursively, parses every .json metadata file, and swaps in
// the resulting snapshot. A syntactically invalid file fails the load with
// ConfigError; semantic problems (oversized files, schema violations) are
// logged and skipped.
func (ix *Index) Load(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		ix.logger.Warn("tools dir does not exist, index is empty", zap.String("dir", root))
		ix.current.Store(newSnapshot(nil))
		return nil
	}
	descriptors := map[string]Descriptor{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errdefs.Wrap(errdefs.IOError, "walking tools dir", err)
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return errdefs.Wrap(errdefs.IOError, "reading metadata file info", err)
		}
		if info.Size() > MaxMetadataBytes {
			ix.logger.Warn("metadata file too large, skipping",
				zap.String("path", path), zap.Int64("size", info.Size()))
			return nil
		}
		loaded, warns, err := ParseMetadataFile(path)
		if err != nil {
			return err
		}
		for _, warn := range warns {
			ix.logger.Warn("metadata document failed validation, skipping",
				zap.String("path", path), zap.Error(warn))
		}
		for _, desc := range loaded {
			k := key(desc.Server, desc.Name)
			if prev, ok := descriptors[k]; ok && prev.ContentHash != desc.ContentHash {
				ix.logger.Warn("descriptor conflict, later load wins",
					zap.String("server", desc.Server), zap.String("tool", desc.Name),
					zap.String("dropped_source", prev.SourceURI))
			}
			descriptors[k] = desc
		}
		return nil
	})
	if err != nil {
		return err
	}
	ix.current.Store(newSnapshot(descriptors))
	return nil
}

func newSnapshot(byKey map[string]Descriptor) *snapshot {
	order := make([]string, 0, len(byKey))
	for k := range byKey {
		order = append(order, k)
	}
	sort.Strings(order)
	return &snapshot{byKey: byKey, order: order}
}

// ParseMetadataFile reads one metadata file, which may carry a single
// descriptor or an array. The server name is the file's parent directory
// unless the descriptor sets it explicitly. Syntactic invalidity fails the
// whole file with ConfigError; documents that parse but fail schema
// validation come back in the warning slice so callers can log and move on.
func ParseMetadataFile(path string) ([]Descriptor, []error, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errdefs.Wrap(errdefs.IOError, "reading metadata file", err)
	}
	trimmed := bytes.TrimSpace(raw)
	var docs []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, nil, errdefs.Wrap(errdefs.ConfigError, fmt.Sprintf("invalid metadata file %s", path), err)
		}
	} else {
		docs = []json.RawMessage{trimmed}
	}

	server := filepath.Base(filepath.Dir(path))
	out := make([]Descriptor, 0, len(docs))
	var warns []error
	for _, doc := range docs {
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
		if err != nil {
			return nil, nil, errdefs.Wrap(errdefs.ConfigError, fmt.Sprintf("invalid metadata file %s", path), err)
		}
		if err := metadataSchema.Validate(inst); err != nil {
			warns = append(warns, err)
			continue
		}
		var desc Descriptor
		if err := json.Unmarshal(doc, &desc); err != nil {
			return nil, nil, errdefs.Wrap(errdefs.ConfigError, fmt.Sprintf("invalid metadata file %s", path), err)
		}
		if desc.Server == "" {
			desc.Server = server
		}
		desc.SourceURI = path
		desc.ContentHash = desc.Hash()
		out = append(out, desc)
	}
	return out, warns, nil
}

// Get performs an exact lookup by (server, name).
func (ix *Index) Get(server, name string) (Descriptor, error) {
	snap := ix.current.Load()
	desc, ok := snap.byKey[key(server, name)]
	if !ok {
		return Descriptor{}, errdefs.Newf(errdefs.NotFound, "tool %s/%s not indexed", server, name)
	}
	return desc, nil
}

// All returns a snapshot of every descriptor, ordered by (server, name).
func (ix *Index) All() []Descriptor {
	snap := ix.current.Load()
	out := make([]Descriptor, 0, len(snap.order))
	for _, k := range snap.order {
		out = append(out, snap.byKey[k])
	}
	return out
}

// Put inserts or replaces a descriptor, swapping a new snapshot. Used when
// descriptors arrive over the wire rather than from files.
func (ix *Index) Put(desc Descriptor) {
	if desc.ContentHash == "" {
		desc.ContentHash = desc.Hash()
	}
	for {
		old := ix.current.Load()
		byKey := make(map[string]Descriptor, len(old.byKey)+1)
		for k, v := range old.byKey {
			byKey[k] = v
		}
		byKey[key(desc.Server, desc.Name)] = desc
		if ix.current.CompareAndSwap(old, newSnapshot(byKey)) {
			return
		}
	}
}

// ComputeDiff set-differences two descriptor sets by content hash.
func ComputeDiff(prev, current []Descriptor) Diff {
	prevByKey := make(map[string]Descriptor, len(prev))
	for _, d := range prev {
		prevByKey[key(d.Server, d.Name)] = d
	}
	var diff Diff
	seen := map[string]bool{}
	for _, d := range current {
		k := key(d.Server, d.Name)
		seen[k] = true
		old, ok := prevByKey[k]
		switch {
		case !ok:
			diff.Added = append(diff.Added, d)
		case old.ContentHash != d.ContentHash:
			diff.Changed = append(diff.Changed, d)
		}
	}
	for _, d := range prev {
		if !seen[key(d.Server, d.Name)] {
			diff.Removed = append(diff.Removed, d)
		}
	}
	sortDescriptors(diff.Added)
	sortDescriptors(diff.Removed)
	sortDescriptors(diff.Changed)
	return diff
}

func sortDescriptors(list []Descriptor) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Server != list[j].Server {
			return list[i].Server < list[j].Server
		}
		return list[i].Name < list[j].Name
	})
}
