package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/audit"
	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/codegen"
	"github.com/DegrassiAaron/mcpcode/internal/config"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
	"github.com/DegrassiAaron/mcpcode/internal/events"
	"github.com/DegrassiAaron/mcpcode/internal/guard"
	"github.com/DegrassiAaron/mcpcode/internal/plan"
	"github.com/DegrassiAaron/mcpcode/internal/redact"
	"github.com/DegrassiAaron/mcpcode/internal/sandbox"
	"github.com/DegrassiAaron/mcpcode/internal/summarize"
)

// ToolCaller forwards one qualified tool invocation to a connected server.
// *rpc.Pool is the production implementation.
type ToolCaller interface {
	CallTool(ctx context.Context, fqn string, args map[string]any) (any, error)
}

// Options tunes one Execute call. Zero values fall back to catalog and
// sandbox defaults.
type Options struct {
	MaxTools       int
	Threshold      float64
	IsolationLevel string
	Limits         sandbox.ResourceLimits
	Network        config.NetworkPolicy
	EnvAllowlist   []string
	Redact         redact.Config
	Summary        summarize.Options
	OutputRoot     string
}

// Result is what one execution hands back. Redactions maps tokens to the
// original values for the caller's eyes only; it is never serialized.
type Result struct {
	ExecutionID     string            `json:"execution_id"`
	Success         bool              `json:"success"`
	Summary         string            `json:"summary"`
	ToolsSelected   []string          `json:"tools_selected,omitempty"`
	RiskScore       int               `json:"risk_score"`
	RiskLevel       string            `json:"risk_level,omitempty"`
	IsolationLevel  string            `json:"isolation_level,omitempty"`
	Metrics         sandbox.Metrics   `json:"metrics"`
	RedactionsCount int               `json:"redactions_count"`
	Redactions      map[string]string `json:"-"`
	ErrorKind       errdefs.Kind      `json:"error_kind,omitempty"`
}

// Engine drives the execute pipeline: discovery, generation, redaction,
// validation, sandboxed execution, summarization. Safe for concurrent use;
// per-call state lives on the stack.
type Engine struct {
	index    *catalog.Index
	gen      *codegen.Generator
	planner  plan.Planner
	tools    ToolCaller
	runtimes map[string]sandbox.Runtime
	trail    *audit.Trail
	events   func(events.Event)
	logger   *zap.Logger
}

// Params wires an Engine.
type Params struct {
	Index    *catalog.Index
	Gen      *codegen.Generator
	Planner  plan.Planner
	Tools    ToolCaller
	Runtimes map[string]sandbox.Runtime
	Trail    *audit.Trail
	Events   func(events.Event)
	Logger   *zap.Logger
}

// New constructs an Engine. Runtimes defaults to process, vm, and container.
func New(p Params) *Engine {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runtimes := p.Runtimes
	if runtimes == nil {
		runtimes = map[string]sandbox.Runtime{
			sandbox.LevelProcess:   sandbox.NewProcessRuntime(logger),
			sandbox.LevelVM:        sandbox.NewVMRuntime(logger),
			sandbox.LevelContainer: sandbox.NewContainerRuntime(logger),
		}
	}
	gen := p.Gen
	if gen == nil {
		gen = codegen.NewGenerator(logger)
	}
	planner := p.Planner
	if planner == nil {
		planner = plan.NewHeuristicPlanner()
	}
	return &Engine{
		index:    p.Index,
		gen:      gen,
		planner:  planner,
		tools:    p.Tools,
		runtimes: runtimes,
		trail:    p.Trail,
		events:   p.Events,
		logger:   logger,
	}
}

// notify hands an event to the configured sink, if any.
func (e *Engine) notify(t events.Type, payload any) {
	if e.events == nil {
		return
	}
	e.events(events.Event{Type: t, Timestamp: time.Now(), Payload: payload})
}

// Execute runs one intent end to end.
func (e *Engine) Execute(ctx context.Context, intent, language string, opts Options) (Result, error) {
	result := Result{ExecutionID: uuid.NewString()}
	tokenizer := redact.NewTokenizer(opts.Redact)

	// Every failed result carries a bounded, tokenized summary; originals
	// of redacted values never reach the Summary field.
	fail := func(phase string, err error) (Result, error) {
		kind := errdefs.KindOf(err)
		result.ErrorKind = kind
		summary := bounded(err.Error(), opts.Summary)
		if opts.Redact.Enabled {
			summary = tokenizer.Tokenize(summary)
		}
		result.Summary = summary
		result.Redactions = tokenizer.Redactions()
		result.RedactionsCount = tokenizer.Count()
		if phase != "" {
			e.emit(result, phase, audit.DecisionError, 0, 0, kind)
		}
		e.notify(events.ExecutionError, events.ExecutionErrorPayload{Kind: string(kind), Message: err.Error()})
		return result, err
	}

	if !codegen.IsSupportedLanguage(language) {
		return fail("", errdefs.Newf(errdefs.ConfigError, "unsupported language %q", language))
	}
	e.notify(events.ExecutionStarted, events.ExecutionStartedPayload{
		ExecutionID: result.ExecutionID,
		Intent:      intent,
		Language:    language,
		StartedAt:   time.Now(),
	})

	// Discovery.
	matches := e.index.Discover(intent, opts.MaxTools, opts.Threshold)
	if len(matches) == 0 {
		err := errdefs.Newf(errdefs.DiscoveryEmpty, "no tools matched intent")
		return fail(audit.PhaseDiscovery, err)
	}
	selected := make([]catalog.Descriptor, len(matches))
	scores := make([]float64, len(matches))
	for i, m := range matches {
		selected[i] = m.Descriptor
		scores[i] = m.Score
		result.ToolsSelected = append(result.ToolsSelected, m.Descriptor.FQN())
	}
	e.emit(result, audit.PhaseDiscovery, audit.DecisionOK, 0, 0, "")
	e.notify(events.ToolsDiscovered, events.ToolsDiscoveredPayload{Tools: result.ToolsSelected, Scores: scores})
	if err := cancelled(ctx); err != nil {
		return fail(audit.PhaseDiscovery, err)
	}

	// Generation: typed wrappers, planned entry, runtime unit.
	stubs, err := e.gen.Render(selected, language)
	if err != nil {
		return fail(audit.PhaseGeneration, err)
	}
	if opts.OutputRoot != "" {
		if _, err := e.gen.WriteIncremental(opts.OutputRoot, stubs); err != nil {
			return fail(audit.PhaseGeneration, err)
		}
	}
	entry, err := e.planner.Plan(ctx, intent, language, selected)
	if err != nil {
		return fail(audit.PhaseGeneration, err)
	}
	unit := assembleUnit(language, selected, stubs, entry)
	e.emit(result, audit.PhaseGeneration, audit.DecisionOK, 0, 0, "")
	e.notify(events.UnitGenerated, events.UnitGeneratedPayload{
		StubCount:         len(unit.Stubs),
		TokenCostEstimate: unit.TokenCostEstimate,
		EntryLines:        strings.Count(unit.Entry, "\n") + 1,
	})
	if err := cancelled(ctx); err != nil {
		return fail(audit.PhaseGeneration, err)
	}

	// Pre-execution redaction rewrites literals in the entry before any of
	// it reaches the sandbox or the wire.
	if opts.Redact.Enabled && opts.Redact.RedactBeforeExecution {
		redacted := tokenizer.Tokenize(unit.Entry)
		if redacted != unit.Entry {
			unit = assembleUnit(language, selected, stubs, redacted)
		}
		e.emit(result, audit.PhaseRedaction, audit.DecisionOK, 0, tokenizer.Count(), "")
	}

	// Validation.
	report, err := guard.Check(unit, guard.Options{Language: language, EnvAllowlist: opts.EnvAllowlist})
	result.RiskScore = report.Score
	result.RiskLevel = report.Level
	e.notify(events.RiskEvaluated, events.RiskEvaluatedPayload{Score: report.Score, Level: report.Level, Denied: report.Denied})
	if err != nil {
		kind := errdefs.KindOf(err)
		result.ErrorKind = kind
		result.Summary = bounded(err.Error(), opts.Summary)
		e.emit(result, audit.PhaseValidation, audit.DecisionDenied, report.Score, 0, kind)
		e.notify(events.ExecutionError, events.ExecutionErrorPayload{Kind: string(kind), Message: err.Error()})
		return result, err
	}
	e.emit(result, audit.PhaseValidation, audit.DecisionOK, report.Score, 0, "")
	if err := cancelled(ctx); err != nil {
		return fail(audit.PhaseValidation, err)
	}

	// Execution.
	runtime, err := sandbox.Select(e.runtimes, opts.IsolationLevel, report.Level, language)
	if err != nil {
		return fail(audit.PhaseExecution, err)
	}
	result.IsolationLevel = runtime.Level()
	e.notify(events.SandboxStarted, events.SandboxStartedPayload{IsolationLevel: runtime.Level()})
	sbx := sandbox.Context{
		IsolationLevel: runtime.Level(),
		Limits:         opts.Limits,
		Network:        opts.Network,
		EnvAllowlist:   opts.EnvAllowlist,
	}
	out, err := runtime.Run(ctx, unit, sbx, e.dispatcher())
	result.Metrics = out.Metrics
	if err != nil {
		return fail(audit.PhaseExecution, err)
	}
	if out.Metrics.ExitStatus != 0 {
		e.emit(result, audit.PhaseExecution, audit.DecisionError, 0, 0, "")
		summary := bounded(out.Stderr, opts.Summary)
		if summary == "" {
			summary = fmt.Sprintf("unit exited with status %d", out.Metrics.ExitStatus)
		}
		if opts.Redact.Enabled {
			summary = tokenizer.Tokenize(summary)
		}
		result.Summary = summary
		result.Redactions = tokenizer.Redactions()
		result.RedactionsCount = tokenizer.Count()
		e.notify(events.ExecutionFinished, events.ExecutionFinishedPayload{
			Success:    false,
			WallMS:     result.Metrics.WallMS,
			FinishedAt: time.Now(),
		})
		return result, nil
	}
	e.emit(result, audit.PhaseExecution, audit.DecisionOK, 0, 0, "")

	// Summarization, then post-execution redaction over the summary text.
	value := out.Value
	if !out.Emitted {
		value = out.Stdout
	}
	summary := summarize.Summarize(value, opts.Summary)
	e.emit(result, audit.PhaseSummarization, audit.DecisionOK, 0, 0, "")
	if opts.Redact.Enabled {
		summary = tokenizer.Tokenize(summary)
		e.emit(result, audit.PhaseRedaction, audit.DecisionOK, 0, tokenizer.Count(), "")
	}
	result.Summary = summary
	result.Redactions = tokenizer.Redactions()
	result.RedactionsCount = tokenizer.Count()
	result.Success = true
	e.notify(events.SummaryReady, events.SummaryReadyPayload{Summary: summary, RedactionsCount: result.RedactionsCount})
	e.notify(events.ExecutionFinished, events.ExecutionFinishedPayload{
		Success:    true,
		WallMS:     result.Metrics.WallMS,
		FinishedAt: time.Now(),
	})
	return result, nil
}

// dispatcher bridges sandboxed tool calls onto the pool.
func (e *Engine) dispatcher() sandbox.Dispatcher {
	return func(ctx context.Context, tool string, args map[string]any) (any, error) {
		if e.tools == nil {
			return nil, errdefs.Newf(errdefs.TransportError, "no tool transport configured")
		}
		e.logger.Debug("dispatching tool call", zap.String("tool", tool))
		return e.tools.CallTool(ctx, tool, args)
	}
}

func assembleUnit(language string, selected []catalog.Descriptor, stubs []codegen.StubFile, entry string) codegen.Unit {
	unit := codegen.Unit{
		Language:      language,
		Stubs:         stubs,
		Entry:         entry,
		RuntimeSource: codegen.BuildRuntimeUnit(language, selected, entry),
	}
	if language == codegen.LangTypeScript {
		unit.VMSource = codegen.BuildVMUnit(selected, entry)
	}
	unit.TokenCostEstimate = codegen.EstimateTokenCost(stubs, entry)
	return unit
}

// emit writes one audit record for the execution.
func (e *Engine) emit(result Result, phase, decision string, riskScore, redactions int, kind errdefs.Kind) {
	e.trail.Append(audit.Record{
		ExecutionID:     result.ExecutionID,
		Phase:           phase,
		Decision:        decision,
		RiskScore:       riskScore,
		ToolsSelected:   result.ToolsSelected,
		RedactionsCount: redactions,
		ErrorKind:       string(kind),
	})
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errdefs.Wrap(errdefs.Timeout, "execution deadline exceeded", err)
		}
		return errdefs.Wrap(errdefs.Cancelled, "execution cancelled", err)
	}
	return nil
}

// bounded trims free text to the summary size bound.
func bounded(text string, opts summarize.Options) string {
	max := opts.MaxUnits
	if max <= 0 {
		max = summarize.DefaultMaxUnits
	}
	if len(text) <= max {
		return strings.TrimRight(text, "\n")
	}
	return strings.TrimRight(text[:max], "\n") + "..."
}
