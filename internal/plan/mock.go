package plan

import (
	"context"
	"sync"

	"github.com/DegrassiAaron/mcpcode/internal/catalog"
)

// MockPlanner returns canned entries for tests and demos.
type MockPlanner struct {
	mu      sync.Mutex
	Entries []string
	Err     error
	calls   int
}

// NewMockPlanner returns a planner that cycles through entries.
func NewMockPlanner(entries ...string) *MockPlanner {
	return &MockPlanner{Entries: entries}
}

func (m *MockPlanner) Plan(ctx context.Context, intent, language string, selected []catalog.Descriptor) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Entries) == 0 {
		return "emit(null);", nil
	}
	entry := m.Entries[m.calls%len(m.Entries)]
	m.calls++
	return entry, nil
}
