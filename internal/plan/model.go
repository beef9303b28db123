package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/codegen"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

const jsSystemPrompt = `You write the body of a JavaScript async function.
Available bindings: one stub object per tool server (call its methods with
an arguments object and await the result), emit(value) to return the final
result, and print(...) for progress lines. Use only the tools listed below.
Reply with code only, no fences, no commentary.`

const pySystemPrompt = `You write a short Python script body.
Available bindings: one stub object per tool server (call its methods with
a dict of arguments), emit(value) to return the final result, and print()
for progress lines. Use only the tools listed below. Reply with code only,
no fences, no commentary.`

// ModelPlanner asks an OpenAI-compatible endpoint for an entry body.
type ModelPlanner struct {
	client openai.Client
	model  string
}

// NewModelPlanner constructs a planner against baseURL with the given key.
func NewModelPlanner(apiKey, baseURL, model string) *ModelPlanner {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &ModelPlanner{client: openai.NewClient(opts...), model: model}
}

func (p *ModelPlanner) Plan(ctx context.Context, intent, language string, selected []catalog.Descriptor) (string, error) {
	if len(selected) == 0 {
		return "", errdefs.New(errdefs.DiscoveryEmpty, "no tools to plan with")
	}
	system := jsSystemPrompt
	if language == codegen.LangPython {
		system = pySystemPrompt
	}
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system + "\n\n" + describeTools(selected)),
			openai.UserMessage(intent),
		},
		Temperature: param.NewOpt(0.2),
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errdefs.Wrap(errdefs.TransportError, "planning request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", errdefs.New(errdefs.TransportError, "planning response had no choices")
	}
	entry := stripFences(resp.Choices[0].Message.Content)
	if strings.TrimSpace(entry) == "" {
		return "", errdefs.New(errdefs.Internal, "planner produced an empty entry")
	}
	return entry, nil
}

// describeTools renders the selected descriptors as a compact prompt block.
func describeTools(selected []catalog.Descriptor) string {
	var b strings.Builder
	b.WriteString("Tools:\n")
	for _, d := range selected {
		fmt.Fprintf(&b, "- %s.%s: %s\n", codegen.ServerIdent(d.Server), d.Name, d.Description)
		for _, p := range d.Parameters {
			required := ""
			if p.Required {
				required = ", required"
			}
			fmt.Fprintf(&b, "    %s (%s%s): %s\n", p.Name, p.Type, required, p.Description)
		}
	}
	return b.String()
}

// stripFences removes a surrounding markdown code fence when the model adds
// one anyway.
func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
