package codegen

import (
	"fmt"
	"strings"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

const maxSchemaDepth = 16

// projector resolves the recognized JSON Schema subset into type expressions
// for one target language. $ref resolves only against the descriptor's own
// definitions section.
type projector struct {
	language string
	defs     map[string]catalog.Parameter
}

func newProjector(language string, d catalog.Descriptor) *projector {
	return &projector{language: language, defs: d.Definitions}
}

func (pr *projector) typeOf(p catalog.Parameter, depth int) (string, error) {
	if depth > maxSchemaDepth {
		return "", errdefs.New(errdefs.SchemaRefUnresolved, "schema nesting exceeds supported depth")
	}
	switch {
	case p.Ref != "":
		return pr.resolveRef(p.Ref, depth)
	case len(p.AnyOf) > 0:
		return pr.union(p.AnyOf, depth)
	case len(p.OneOf) > 0:
		return pr.union(p.OneOf, depth)
	case len(p.AllOf) > 0:
		return pr.intersection(p.AllOf, depth)
	case len(p.Enum) > 0:
		return pr.enumType(p.Enum)
	}
	switch p.Type {
	case "string":
		return pr.primitive("string"), nil
	case "number":
		return pr.primitive("number"), nil
	case "integer":
		return pr.primitive("integer"), nil
	case "boolean":
		return pr.primitive("boolean"), nil
	case "array":
		return pr.arrayType(p, depth)
	case "object":
		return pr.objectType(p, depth)
	case "":
		return "", errdefs.Newf(errdefs.SchemaUnsupported, "parameter %q has no type", p.Name)
	default:
		return "", errdefs.Newf(errdefs.SchemaUnsupported, "unrecognized type %q", p.Type)
	}
}

func (pr *projector) resolveRef(ref string, depth int) (string, error) {
	name, ok := strings.CutPrefix(ref, "#/definitions/")
	if !ok {
		return "", errdefs.Newf(errdefs.SchemaRefUnresolved, "unsupported $ref form %q", ref)
	}
	target, ok := pr.defs[name]
	if !ok {
		return "", errdefs.Newf(errdefs.SchemaRefUnresolved, "$ref %q not found in definitions", ref)
	}
	return pr.typeOf(target, depth+1)
}

func (pr *projector) union(members []catalog.Parameter, depth int) (string, error) {
	parts, err := pr.memberTypes(members, depth)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, " | "), nil
}

func (pr *projector) intersection(members []catalog.Parameter, depth int) (string, error) {
	parts, err := pr.memberTypes(members, depth)
	if err != nil {
		return "", err
	}
	if pr.language == LangPython {
		// Python has no intersection types; an allOf of object shapes
		// collapses to dict.
		return "dict", nil
	}
	return strings.Join(parts, " & "), nil
}

func (pr *projector) memberTypes(members []catalog.Parameter, depth int) ([]string, error) {
	parts := make([]string, 0, len(members))
	for _, m := range members {
		t, err := pr.typeOf(m, depth+1)
		if err != nil {
			return nil, err
		}
		parts = append(parts, t)
	}
	return parts, nil
}

func (pr *projector) enumType(values []any) (string, error) {
	literals := make([]string, 0, len(values))
	for _, v := range values {
		switch val := v.(type) {
		case string:
			literals = append(literals, fmt.Sprintf("%q", val))
		case float64:
			literals = append(literals, fmt.Sprintf("%g", val))
		case bool:
			if pr.language == LangPython {
				if val {
					literals = append(literals, "True")
				} else {
					literals = append(literals, "False")
				}
			} else {
				literals = append(literals, fmt.Sprintf("%t", val))
			}
		default:
			return "", errdefs.Newf(errdefs.SchemaUnsupported, "enum value %v is not a primitive", v)
		}
	}
	if pr.language == LangPython {
		return "Literal[" + strings.Join(literals, ", ") + "]", nil
	}
	return strings.Join(literals, " | "), nil
}

func (pr *projector) arrayType(p catalog.Parameter, depth int) (string, error) {
	if p.Items == nil {
		return "", errdefs.Newf(errdefs.SchemaUnsupported, "array parameter %q has no items", p.Name)
	}
	item, err := pr.typeOf(*p.Items, depth+1)
	if err != nil {
		return "", err
	}
	if pr.language == LangPython {
		return "list[" + item + "]", nil
	}
	if strings.ContainsAny(item, " |&") {
		return "Array<" + item + ">", nil
	}
	return item + "[]", nil
}

func (pr *projector) objectType(p catalog.Parameter, depth int) (string, error) {
	if pr.language == LangPython {
		return "dict", nil
	}
	if len(p.Properties) == 0 {
		return "Record<string, unknown>", nil
	}
	fields := make([]string, 0, len(p.Properties))
	for _, prop := range p.Properties {
		t, err := pr.typeOf(prop, depth+1)
		if err != nil {
			return "", err
		}
		opt := ""
		if !prop.Required {
			opt = "?"
		}
		fields = append(fields, fmt.Sprintf("%s%s: %s", prop.Name, opt, t))
	}
	return "{ " + strings.Join(fields, "; ") + " }", nil
}

func (pr *projector) primitive(schemaType string) string {
	if pr.language == LangPython {
		switch schemaType {
		case "string":
			return "str"
		case "number":
			return "float"
		case "integer":
			return "int"
		case "boolean":
			return "bool"
		}
	}
	switch schemaType {
	case "integer":
		return "number"
	default:
		return schemaType
	}
}

// returnType projects the declared result shape; an absent declaration maps
// to the language's unknown type. Unlike parameters, a return declared as a
// bare array is accepted and degrades to an array of unknowns.
func (pr *projector) returnType(r catalog.Returns) (string, error) {
	if r.Type == "" {
		if pr.language == LangPython {
			return "object", nil
		}
		return "unknown", nil
	}
	if r.Type == "array" && r.Items == nil {
		if pr.language == LangPython {
			return "list", nil
		}
		return "unknown[]", nil
	}
	return pr.typeOf(catalog.Parameter{Type: r.Type, Items: r.Items}, 0)
}
