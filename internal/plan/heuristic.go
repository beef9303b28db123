package plan

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/codegen"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

var (
	quotedPattern = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)
	pathPattern   = regexp.MustCompile(`(?:^|\s)((?:~|\.{0,2})/[^\s"']+|[\w.-]+/[\w./-]+|[\w-]+\.[A-Za-z]{1,5})(?:$|\s)`)
	numberPattern = regexp.MustCompile(`(?:^|\s)(-?\d+(?:\.\d+)?)(?:$|\s)`)
	boolPattern   = regexp.MustCompile(`\b(true|false)\b`)
)

// HeuristicPlanner builds a single-call entry without a model: literals
// pulled out of the intent are bound to the top tool's string, number, and
// boolean parameters in order, and the result is emitted.
type HeuristicPlanner struct{}

// NewHeuristicPlanner returns the no-model planner.
func NewHeuristicPlanner() *HeuristicPlanner { return &HeuristicPlanner{} }

func (p *HeuristicPlanner) Plan(ctx context.Context, intent, language string, selected []catalog.Descriptor) (string, error) {
	if len(selected) == 0 {
		return "", errdefs.New(errdefs.DiscoveryEmpty, "no tools to plan with")
	}
	top := selected[0]
	args := bindArgs(intent, top.Parameters)
	if language == codegen.LangPython {
		return pyEntry(top, args), nil
	}
	return jsEntry(top, args), nil
}

type boundArg struct {
	name  string
	value any
}

// bindArgs assigns extracted literals to parameters by type, consuming each
// literal once. Quoted strings are preferred over bare path tokens.
func bindArgs(intent string, params []catalog.Parameter) []boundArg {
	strs := extractStrings(intent)
	nums := extractNumbers(intent)
	bools := extractBools(intent)

	var bound []boundArg
	for _, param := range params {
		switch param.Type {
		case "string":
			if len(strs) > 0 {
				bound = append(bound, boundArg{param.Name, strs[0]})
				strs = strs[1:]
			}
		case "number", "integer":
			if len(nums) > 0 {
				bound = append(bound, boundArg{param.Name, nums[0]})
				nums = nums[1:]
			}
		case "boolean":
			if len(bools) > 0 {
				bound = append(bound, boundArg{param.Name, bools[0]})
				bools = bools[1:]
			}
		}
	}
	return bound
}

func extractStrings(intent string) []string {
	var out []string
	for _, m := range quotedPattern.FindAllStringSubmatch(intent, -1) {
		if m[1] != "" {
			out = append(out, m[1])
		} else if m[2] != "" {
			out = append(out, m[2])
		}
	}
	stripped := quotedPattern.ReplaceAllString(intent, " ")
	for _, m := range pathPattern.FindAllStringSubmatch(stripped, -1) {
		out = append(out, m[1])
	}
	return out
}

func extractNumbers(intent string) []float64 {
	stripped := quotedPattern.ReplaceAllString(intent, " ")
	var out []float64
	for _, m := range numberPattern.FindAllStringSubmatch(stripped, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func extractBools(intent string) []bool {
	stripped := quotedPattern.ReplaceAllString(intent, " ")
	var out []bool
	for _, m := range boolPattern.FindAllStringSubmatch(stripped, -1) {
		out = append(out, m[1] == "true")
	}
	return out
}

func jsEntry(tool catalog.Descriptor, args []boundArg) string {
	var b strings.Builder
	fmt.Fprintf(&b, "const result = await %s%s({", codegen.ServerIdent(tool.Server), jsToolAccess(tool.Name))
	for i, arg := range args {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, " %q: %s", arg.name, jsLiteral(arg.value))
	}
	if len(args) > 0 {
		b.WriteString(" ")
	}
	b.WriteString("});\nemit(result);")
	return b.String()
}

func pyEntry(tool catalog.Descriptor, args []boundArg) string {
	var b strings.Builder
	fmt.Fprintf(&b, "result = %s({", pyToolAccess(codegen.ServerIdent(tool.Server), tool.Name))
	for i, arg := range args {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, " %q: %s", arg.name, pyLiteral(arg.value))
	}
	if len(args) > 0 {
		b.WriteString(" ")
	}
	b.WriteString("})\nemit(result)")
	return b.String()
}

var jsIdentPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func jsToolAccess(name string) string {
	if jsIdentPattern.MatchString(name) {
		return "." + name
	}
	return fmt.Sprintf("[%q]", name)
}

var pyIdentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func pyToolAccess(server, name string) string {
	if pyIdentPattern.MatchString(name) {
		return server + "." + name
	}
	return fmt.Sprintf("getattr(%s, %q)", server, name)
}

func jsLiteral(value any) string {
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return "null"
	}
}

func pyLiteral(value any) string {
	switch v := value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		return "None"
	}
}
