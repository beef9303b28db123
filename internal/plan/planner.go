package plan

import (
	"context"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
)

// Planner turns an intent plus the discovered tools into the entry body of
// a runtime unit. The entry may only reference the injected stub bindings,
// emit, and print; the generator wraps it with the dispatcher preamble.
type Planner interface {
	Plan(ctx context.Context, intent, language string, selected []catalog.Descriptor) (string, error)
}
