package guard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/DegrassiAaron/mcpcode/internal/codegen"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// Risk levels, graded from the aggregate score.
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// criticalWeight marks a single violation as grounds for denial regardless
// of the aggregate score.
const criticalWeight = 85

const (
	maxEntryLines       = 500
	maxCyclomatic       = 20
	lineCapWeight       = 60
	complexityWeight    = 40
	envAccessWeight     = 50
	importOutsideWeight = 60
)

// Violation is one flagged finding with its location in the entry body.
type Violation struct {
	Line   int    `json:"line"`
	Kind   string `json:"kind"`
	Weight int    `json:"weight"`
	Detail string `json:"detail"`
}

// Report is the validator verdict for one unit. Identical inputs always
// produce identical reports.
type Report struct {
	Score      int         `json:"score"`
	Level      string      `json:"level"`
	Violations []Violation `json:"violations,omitempty"`
	Denied     bool        `json:"denied"`
}

type pattern struct {
	kind   string
	weight int
	re     *regexp.Regexp
}

var jsPatterns = []pattern{
	{"dynamic_eval", 90, regexp.MustCompile(`\beval\s*\(`)},
	{"dynamic_eval", 90, regexp.MustCompile(`\bnew\s+Function\s*\(`)},
	{"shell_exec", 90, regexp.MustCompile(`child_process|execSync|spawnSync`)},
	{"fs_write", 50, regexp.MustCompile(`\bfs\s*\.\s*(write|append|rm|unlink|mkdir)\w*\s*\(\s*["']/`)},
	{"network", 60, regexp.MustCompile(`\b(fetch|XMLHttpRequest|WebSocket)\s*\(|\bnet\s*\.\s*connect`)},
	{"reflection", 70, regexp.MustCompile(`\bFunction\s*\(\s*["']|globalThis\s*\[`)},
}

var pyPatterns = []pattern{
	{"dynamic_eval", 90, regexp.MustCompile(`\b(eval|exec)\s*\(`)},
	{"dynamic_eval", 70, regexp.MustCompile(`\bcompile\s*\(`)},
	{"dynamic_import", 70, regexp.MustCompile(`__import__|importlib`)},
	{"shell_exec", 90, regexp.MustCompile(`\bsubprocess\b|os\.system|os\.popen|\bpty\b`)},
	{"fs_write", 50, regexp.MustCompile(`\bopen\s*\(\s*["']/[^"']*["']\s*,\s*["'][wa]`)},
	{"network", 60, regexp.MustCompile(`\bsocket\b|urllib|http\.client|requests\.`)},
}

var (
	jsImportPattern = regexp.MustCompile(`(?:\brequire\s*\(\s*["']([^"']+)["']\s*\)|\bimport\b[^"']*["']([^"']+)["'])`)
	pyImportPattern = regexp.MustCompile(`^\s*(?:import\s+([A-Za-z0-9_.]+)|from\s+([A-Za-z0-9_.]+)\s+import)`)
	jsEnvPattern    = regexp.MustCompile(`process\.env(?:\.([A-Za-z0-9_]+)|\[\s*["']([A-Za-z0-9_]+)["']\s*\])`)
	pyEnvPattern    = regexp.MustCompile(`os\.environ(?:\.get)?\s*[(\[]\s*["']([A-Za-z0-9_]+)["']`)
	controlFlowJS   = regexp.MustCompile(`\b(if|for|while|case|catch)\b|&&|\|\|`)
	controlFlowPy   = regexp.MustCompile(`\b(if|elif|for|while|except|and|or)\b`)
	functionStartJS = regexp.MustCompile(`\bfunction\b|=>\s*{`)
	functionStartPy = regexp.MustCompile(`^\s*def\s+`)
)

// pyImportAllowlist is the small standard set generated entries may use.
var pyImportAllowlist = map[string]bool{
	"json": true, "math": true, "re": true, "datetime": true, "itertools": true,
}

// Options configures one inspection.
type Options struct {
	Language     string
	EnvAllowlist []string
}

// Inspect statically checks the entry body of a unit and produces the risk
// verdict. The dispatcher preamble is generator-owned and not inspected.
func Inspect(unit codegen.Unit, opts Options) Report {
	var report Report
	lines := strings.Split(unit.Entry, "\n")
	language := opts.Language
	if language == "" {
		language = unit.Language
	}

	patterns := jsPatterns
	if language == codegen.LangPython {
		patterns = pyPatterns
	}
	for i, line := range lines {
		for _, p := range patterns {
			if p.re.MatchString(line) {
				report.Violations = append(report.Violations, Violation{
					Line: i + 1, Kind: p.kind, Weight: p.weight,
					Detail: fmt.Sprintf("pattern %s matched", p.kind),
				})
			}
		}
		report.Violations = append(report.Violations, importViolations(language, i+1, line)...)
		report.Violations = append(report.Violations, envViolations(language, i+1, line, opts.EnvAllowlist)...)
	}

	if len(lines) > maxEntryLines {
		report.Violations = append(report.Violations, Violation{
			Line: maxEntryLines + 1, Kind: "entry_too_long", Weight: lineCapWeight,
			Detail: fmt.Sprintf("entry body has %d lines, cap is %d", len(lines), maxEntryLines),
		})
	}
	report.Violations = append(report.Violations, complexityViolations(language, lines)...)

	score := 0
	for _, v := range report.Violations {
		score += v.Weight
	}
	if score > 100 {
		score = 100
	}
	report.Score = score
	report.Level = levelOf(score)
	report.Denied = report.Level == LevelCritical || hasCriticalViolation(report.Violations)
	return report
}

// Check wraps Inspect into a pass/fail decision.
func Check(unit codegen.Unit, opts Options) (Report, error) {
	report := Inspect(unit, opts)
	if report.Denied {
		return report, errdefs.Newf(errdefs.PolicyDenied,
			"unit denied at risk level %s with %d violations", report.Level, len(report.Violations))
	}
	return report, nil
}

func levelOf(score int) string {
	switch {
	case score < 25:
		return LevelLow
	case score < 60:
		return LevelMedium
	case score < 85:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func hasCriticalViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Weight >= criticalWeight {
			return true
		}
	}
	return false
}

func importViolations(language string, line int, text string) []Violation {
	var out []Violation
	if language == codegen.LangPython {
		if m := pyImportPattern.FindStringSubmatch(text); m != nil {
			module := m[1]
			if module == "" {
				module = m[2]
			}
			root := strings.SplitN(module, ".", 2)[0]
			if !pyImportAllowlist[root] && !strings.Contains(module, "dispatch") {
				out = append(out, Violation{Line: line, Kind: "import_outside_allowlist",
					Weight: importOutsideWeight, Detail: fmt.Sprintf("import of %s not allowlisted", module)})
			}
		}
		return out
	}
	for _, m := range jsImportPattern.FindAllStringSubmatch(text, -1) {
		module := m[1]
		if module == "" {
			module = m[2]
		}
		if !strings.Contains(module, "dispatch") {
			out = append(out, Violation{Line: line, Kind: "import_outside_allowlist",
				Weight: importOutsideWeight, Detail: fmt.Sprintf("require of %s not allowlisted", module)})
		}
	}
	return out
}

func envViolations(language string, line int, text string, allowlist []string) []Violation {
	pattern := jsEnvPattern
	if language == codegen.LangPython {
		pattern = pyEnvPattern
	}
	allowed := map[string]bool{}
	for _, name := range allowlist {
		allowed[name] = true
	}
	var out []Violation
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if len(m) > 2 && name == "" {
			name = m[2]
		}
		if !allowed[name] {
			out = append(out, Violation{Line: line, Kind: "env_outside_allowlist",
				Weight: envAccessWeight, Detail: fmt.Sprintf("access to env %s not allowlisted", name)})
		}
	}
	return out
}

// complexityViolations estimates per-function cyclomatic complexity as
// control-flow keywords + 1, scanning function boundaries line by line.
func complexityViolations(language string, lines []string) []Violation {
	controlFlow := controlFlowJS
	functionStart := functionStartJS
	if language == codegen.LangPython {
		controlFlow = controlFlowPy
		functionStart = functionStartPy
	}
	var out []Violation
	funcLine := 1
	count := 1
	flush := func() {
		if count > maxCyclomatic {
			out = append(out, Violation{Line: funcLine, Kind: "complexity",
				Weight: complexityWeight, Detail: fmt.Sprintf("cyclomatic estimate %d exceeds %d", count, maxCyclomatic)})
		}
	}
	for i, line := range lines {
		if functionStart.MatchString(line) {
			flush()
			funcLine = i + 1
			count = 1
		}
		count += len(controlFlow.FindAllString(line, -1))
	}
	flush()
	return out
}
