package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Parameter is one entry of a tool's input schema. Nested object shapes are
// expressed as parameter lists; arrays carry a single item parameter.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required,omitempty"`
	Enum        []any       `json:"enum,omitempty"`
	Items       *Parameter  `json:"items,omitempty"`
	Properties  []Parameter `json:"properties,omitempty"`
	AnyOf       []Parameter `json:"anyOf,omitempty"`
	OneOf       []Parameter `json:"oneOf,omitempty"`
	AllOf       []Parameter `json:"allOf,omitempty"`
	Ref         string      `json:"$ref,omitempty"`
}

// Returns describes the declared result shape of a tool.
type Returns struct {
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Items       *Parameter `json:"items,omitempty"`
}

// Example pairs a sample input with its output.
type Example struct {
	Input       any    `json:"input"`
	Output      any    `json:"output"`
	Description string `json:"description,omitempty"`
}

// Descriptor is one indexed tool. (Server, Name) is the identity key.
type Descriptor struct {
	Name        string               `json:"name"`
	Server      string               `json:"server"`
	Description string               `json:"description"`
	Category    string               `json:"category,omitempty"`
	Keywords    []string             `json:"keywords,omitempty"`
	Parameters  []Parameter          `json:"parameters"`
	Returns     Returns              `json:"returns"`
	Examples    []Example            `json:"examples,omitempty"`
	Definitions map[string]Parameter `json:"definitions,omitempty"`
	SourceURI   string               `json:"source_uri,omitempty"`
	ContentHash string               `json:"content_hash,omitempty"`
}

// FQN returns the server-qualified tool name used by the dispatcher.
func (d Descriptor) FQN() string { return d.Server + "." + d.Name }

// Hash computes the stable content hash over (inputSchema, outputSchema, name).
// JSON encoding of the structs has fixed field order, so identical schemas
// hash identically regardless of source file layout.
func (d Descriptor) Hash() string {
	params := append([]Parameter(nil), d.Parameters...)
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	payload, _ := json.Marshal(struct {
		Name       string      `json:"name"`
		Parameters []Parameter `json:"parameters"`
		Returns    Returns     `json:"returns"`
	}{Name: d.Name, Parameters: params, Returns: d.Returns})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Match pairs a descriptor with its relevance score for one intent.
type Match struct {
	Descriptor Descriptor
	Score      float64
}

// Diff summarizes index drift between two snapshots, keyed by FQN.
type Diff struct {
	Added   []Descriptor
	Removed []Descriptor
	Changed []Descriptor
}
