package codegen

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

const (
	tsHeader = "// Code generated by mcpcode. DO NOT EDIT.\n"
	pyHeader = "# Code generated by mcpcode. DO NOT EDIT.\n"
)

var tsModuleTmpl = template.Must(template.New("ts-module").Parse(tsHeader + `
import { call } from "../dispatch";

{{if .Params}}export interface {{.TypeName}}Params {
{{- range .Params}}
{{- if .Doc}}
  /** {{.Doc}} */
{{- end}}
  {{.Field}}{{if .Optional}}?{{end}}: {{.Type}};
{{- end}}
}

{{end}}{{if .Doc}}/** {{.Doc}} */
{{end}}export async function {{.FuncName}}({{if .Params}}params: {{.TypeName}}Params{{end}}): Promise<{{.ReturnType}}> {
  return call("{{.FQN}}", {{if .Params}}params{{else}}{}{{end}}) as Promise<{{.ReturnType}}>;
}
`))

var tsIndexTmpl = template.Must(template.New("ts-index").Parse(tsHeader + `
{{- range .Exports}}
export { {{.FuncName}} } from "./{{.Module}}";
{{- end}}
`))

var pyModuleTmpl = template.Must(template.New("py-module").Parse(pyHeader + `{{if .NeedsLiteral}}from typing import Literal

{{end}}from ..dispatch import call


def {{.FuncName}}({{range $i, $p := .Params}}{{if $i}}, {{end}}{{$p.Field}}: {{$p.Type}}{{if $p.Optional}} = None{{end}}{{end}}) -> {{.ReturnType}}:
    """{{.Doc}}"""
    args = {}
{{- range .Params}}
{{- if .Optional}}
    if {{.Field}} is not None:
        args["{{.Name}}"] = {{.Field}}
{{- else}}
    args["{{.Name}}"] = {{.Field}}
{{- end}}
{{- end}}
    return call("{{.FQN}}", args)
`))

var pyIndexTmpl = template.Must(template.New("py-index").Parse(pyHeader + `
{{- range .Exports}}
from .{{.Module}} import {{.FuncName}}
{{- end}}

__all__ = [{{range $i, $e := .Exports}}{{if $i}}, {{end}}"{{$e.FuncName}}"{{end}}]
`))

const tsDispatchModule = tsHeader + `
declare function __dispatch(tool: string, args: unknown): Promise<unknown>;

export function call(tool: string, args: unknown): Promise<unknown> {
  return __dispatch(tool, args);
}
`

const pyDispatchModule = pyHeader + `

def call(tool, args):
    return __dispatch(tool, args)  # provided by the sandbox preamble
`

type paramView struct {
	Name     string
	Field    string
	Type     string
	Doc      string
	Optional bool
}

type moduleView struct {
	FuncName     string
	TypeName     string
	FQN          string
	Doc          string
	ReturnType   string
	Params       []paramView
	NeedsLiteral bool
}

type exportView struct {
	Module   string
	FuncName string
}

type indexView struct {
	Exports []exportView
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ServerIdent is the variable name a server's stub object is bound to
// inside a runtime unit.
func ServerIdent(server string) string {
	return sanitizeIdent(server)
}

// sanitizeIdent turns an arbitrary name into a usable identifier.
func sanitizeIdent(name string) string {
	if identPattern.MatchString(name) {
		return name
	}
	var b strings.Builder
	for i, r := range name {
		valid := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9')
		if valid {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "_" + out
	}
	return out
}

func camelCase(name string) string {
	parts := strings.FieldsFunc(sanitizeIdent(name), func(r rune) bool { return r == '_' })
	if len(parts) == 0 {
		return "_"
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(parts[0]))
	for _, p := range parts[1:] {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(strings.ToLower(p[1:]))
	}
	return b.String()
}

func pascalCase(name string) string {
	c := camelCase(name)
	if c == "" {
		return c
	}
	return strings.ToUpper(c[:1]) + c[1:]
}

func funcName(language, tool string) string {
	if language == LangPython {
		return sanitizeIdent(strings.ToLower(tool))
	}
	return camelCase(tool)
}

func moduleName(tool string) string {
	return sanitizeIdent(strings.ToLower(tool))
}

// renderToolModule produces the typed wrapper module for one descriptor.
func renderToolModule(language string, d catalog.Descriptor) (string, error) {
	pr := newProjector(language, d)
	view := moduleView{
		FuncName: funcName(language, d.Name),
		TypeName: pascalCase(d.Name),
		FQN:      d.FQN(),
		Doc:      strings.TrimSpace(d.Description),
	}
	ret, err := pr.returnType(d.Returns)
	if err != nil {
		return "", err
	}
	view.ReturnType = ret

	params := append([]catalog.Parameter(nil), d.Parameters...)
	// Required parameters lead; declared order is preserved within each group.
	sort.SliceStable(params, func(i, j int) bool { return params[i].Required && !params[j].Required })
	for _, p := range params {
		t, err := pr.typeOf(p, 0)
		if err != nil {
			return "", fmt.Errorf("tool %s parameter %s: %w", d.FQN(), p.Name, err)
		}
		optional := !p.Required
		if language == LangPython {
			if optional {
				t += " | None"
			}
			if strings.Contains(t, "Literal[") {
				view.NeedsLiteral = true
			}
		}
		view.Params = append(view.Params, paramView{
			Name:     p.Name,
			Field:    sanitizeIdent(p.Name),
			Type:     t,
			Doc:      strings.TrimSpace(p.Description),
			Optional: optional,
		})
	}
	if view.Doc == "" {
		view.Doc = "Invoke " + d.FQN() + "."
	}

	tmpl := tsModuleTmpl
	if language == LangPython {
		tmpl = pyModuleTmpl
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, view); err != nil {
		return "", errdefs.Wrap(errdefs.Internal, "rendering tool module", err)
	}
	return b.String(), nil
}

// renderIndexModule produces the per-server index re-exporting tool modules.
func renderIndexModule(language string, tools []catalog.Descriptor) (string, error) {
	view := indexView{}
	for _, d := range tools {
		view.Exports = append(view.Exports, exportView{
			Module:   moduleName(d.Name),
			FuncName: funcName(language, d.Name),
		})
	}
	sort.Slice(view.Exports, func(i, j int) bool { return view.Exports[i].Module < view.Exports[j].Module })

	tmpl := tsIndexTmpl
	if language == LangPython {
		tmpl = pyIndexTmpl
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, view); err != nil {
		return "", errdefs.Wrap(errdefs.Internal, "rendering index module", err)
	}
	return b.String(), nil
}

func dispatchModule(language string) string {
	if language == LangPython {
		return pyDispatchModule
	}
	return tsDispatchModule
}

func moduleFileName(language, tool string) string {
	if language == LangPython {
		return moduleName(tool) + ".py"
	}
	return moduleName(tool) + ".ts"
}

func indexFileName(language string) string {
	if language == LangPython {
		return "__init__.py"
	}
	return "index.ts"
}

func dispatchFileName(language string) string {
	if language == LangPython {
		return "dispatch.py"
	}
	return "dispatch.ts"
}
