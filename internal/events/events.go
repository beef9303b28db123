package events

import "time"

// Type represents an emitted event type.
type Type string

const (
	ExecutionStarted  Type = "ExecutionStarted"
	ToolsDiscovered   Type = "ToolsDiscovered"
	UnitGenerated     Type = "UnitGenerated"
	RiskEvaluated     Type = "RiskEvaluated"
	SandboxStarted    Type = "SandboxStarted"
	SummaryReady      Type = "SummaryReady"
	ExecutionFinished Type = "ExecutionFinished"
	ExecutionError    Type = "ExecutionError"
)

// Event is the common envelope for renderer events.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// ExecutionStartedPayload is emitted at the beginning of an execution.
type ExecutionStartedPayload struct {
	ExecutionID string    `json:"execution_id"`
	Intent      string    `json:"intent"`
	Language    string    `json:"language"`
	StartedAt   time.Time `json:"started_at"`
}

// ToolsDiscoveredPayload lists the ranked tools bound into the unit.
type ToolsDiscoveredPayload struct {
	Tools  []string  `json:"tools"`
	Scores []float64 `json:"scores"`
}

// UnitGeneratedPayload describes the assembled runtime unit.
type UnitGeneratedPayload struct {
	StubCount         int `json:"stub_count"`
	TokenCostEstimate int `json:"token_cost_estimate"`
	EntryLines        int `json:"entry_lines"`
}

// RiskEvaluatedPayload carries the validator verdict.
type RiskEvaluatedPayload struct {
	Score  int    `json:"score"`
	Level  string `json:"level"`
	Denied bool   `json:"denied"`
}

// SandboxStartedPayload marks entry into the sandbox.
type SandboxStartedPayload struct {
	IsolationLevel string `json:"isolation_level"`
}

// SummaryReadyPayload is emitted when the bounded summary is available.
type SummaryReadyPayload struct {
	Summary         string `json:"summary"`
	RedactionsCount int    `json:"redactions_count"`
}

// ExecutionFinishedPayload closes the execution.
type ExecutionFinishedPayload struct {
	Success    bool      `json:"success"`
	WallMS     int64     `json:"wall_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// ExecutionErrorPayload records a failed execution.
type ExecutionErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
