package codegen

// Languages the generator can target.
const (
	LangTypeScript = "typescript"
	LangPython     = "python"
)

// StubFile is one generated module, addressed relative to the output root.
type StubFile struct {
	Server      string `json:"server"`
	Tool        string `json:"tool,omitempty"`
	Path        string `json:"path"`
	Content     string `json:"-"`
	ContentHash string `json:"content_hash"`
}

// Unit is the artifact produced for a single execution: typed stubs for the
// caller's context plus the assembled runtime source the sandbox executes.
// Units are created per execute call and never cached.
type Unit struct {
	Language          string
	Stubs             []StubFile
	Entry             string
	RuntimeSource     string
	VMSource          string
	TokenCostEstimate int
}

// IsSupportedLanguage reports whether the generator targets the language.
func IsSupportedLanguage(language string) bool {
	return language == LangTypeScript || language == LangPython
}
