package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/DegrassiAaron/mcpcode/internal/events"
)

// StdoutRenderer streams execution progress to a plain text writer.
type StdoutRenderer struct {
	w       io.Writer
	mu      sync.Mutex
	verbose bool
	quiet   bool
}

// NewStdoutRenderer creates a renderer for plain text streaming.
func NewStdoutRenderer(w io.Writer, verbose bool, quiet bool) *StdoutRenderer {
	return &StdoutRenderer{w: w, verbose: verbose, quiet: quiet}
}

func (r *StdoutRenderer) Emit(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Type {
	case events.ExecutionStarted:
		if payload, ok := event.Payload.(events.ExecutionStartedPayload); ok {
			if r.quiet {
				return
			}
			fmt.Fprintf(r.w, "mcpcode | run: %s | language: %s\n", payload.ExecutionID, payload.Language)
			if r.verbose {
				fmt.Fprintf(r.w, "intent: %s\n", payload.Intent)
			}
		}
	case events.ToolsDiscovered:
		if payload, ok := event.Payload.(events.ToolsDiscoveredPayload); ok {
			if r.quiet {
				return
			}
			parts := make([]string, len(payload.Tools))
			for i, tool := range payload.Tools {
				if i < len(payload.Scores) {
					parts[i] = fmt.Sprintf("%s (%.2f)", tool, payload.Scores[i])
				} else {
					parts[i] = tool
				}
			}
			fmt.Fprintf(r.w, "tools: %s\n", strings.Join(parts, ", "))
		}
	case events.UnitGenerated:
		if payload, ok := event.Payload.(events.UnitGeneratedPayload); ok {
			if r.quiet || !r.verbose {
				return
			}
			fmt.Fprintf(r.w, "unit: %d stubs, %d entry lines, ~%d context chars\n",
				payload.StubCount, payload.EntryLines, payload.TokenCostEstimate)
		}
	case events.RiskEvaluated:
		if payload, ok := event.Payload.(events.RiskEvaluatedPayload); ok {
			if r.quiet {
				return
			}
			verdict := "allowed"
			if payload.Denied {
				verdict = "denied"
			}
			fmt.Fprintf(r.w, "risk: %s (%d) %s\n", payload.Level, payload.Score, verdict)
		}
	case events.SandboxStarted:
		if payload, ok := event.Payload.(events.SandboxStartedPayload); ok {
			if r.quiet {
				return
			}
			fmt.Fprintf(r.w, "sandbox: %s\n", payload.IsolationLevel)
		}
	case events.SummaryReady:
		if payload, ok := event.Payload.(events.SummaryReadyPayload); ok {
			if payload.RedactionsCount > 0 && !r.quiet {
				fmt.Fprintf(r.w, "redacted: %d values\n", payload.RedactionsCount)
			}
			fmt.Fprintf(r.w, "mcpcode: %s\n", payload.Summary)
		}
	case events.ExecutionFinished:
		if payload, ok := event.Payload.(events.ExecutionFinishedPayload); ok {
			if r.quiet || !r.verbose {
				return
			}
			status := "ok"
			if !payload.Success {
				status = "failed"
			}
			fmt.Fprintf(r.w, "done: %s (%dms)\n", status, payload.WallMS)
		}
	case events.ExecutionError:
		if payload, ok := event.Payload.(events.ExecutionErrorPayload); ok {
			fmt.Fprintf(r.w, "\nError: %s: %s\n", payload.Kind, payload.Message)
		}
	}
}

func (r *StdoutRenderer) Close() error {
	return nil
}
