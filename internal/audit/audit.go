package audit

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// Pipeline phases an execution passes through.
const (
	PhaseDiscovery     = "discovery"
	PhaseGeneration    = "generation"
	PhaseRedaction     = "redaction"
	PhaseValidation    = "validation"
	PhaseExecution     = "execution"
	PhaseSummarization = "summarization"
)

// Phase decisions.
const (
	DecisionOK     = "ok"
	DecisionDenied = "denied"
	DecisionError  = "error"
)

// Record is one audit line. It carries counts and identifiers only; raw
// values that passed through redaction are never written here.
type Record struct {
	ExecutionID     string
	Phase           string
	Decision        string
	RiskScore       int
	ToolsSelected   []string
	RedactionsCount int
	ErrorKind       string
}

// Trail is an append-only JSONL audit log. A nil Trail drops records, so
// callers do not guard every emission.
type Trail struct {
	mu     sync.Mutex
	file   *os.File
	logger *zap.Logger
	start  time.Time
}

// NewTrail opens (or creates) the audit file for appending.
func NewTrail(path string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errdefs.Wrap(errdefs.IOError, "creating audit directory", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.IOError, "opening audit file", err)
	}
	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "wall_time",
		LevelKey:       zapcore.OmitKey,
		MessageKey:     zapcore.OmitKey,
		NameKey:        zapcore.OmitKey,
		CallerKey:      zapcore.OmitKey,
		StacktraceKey:  zapcore.OmitKey,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.NanosDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), zapcore.InfoLevel)
	return &Trail{
		file:   file,
		logger: zap.New(core),
		start:  time.Now(),
	}, nil
}

// Append writes one record. Failures are swallowed: auditing never takes
// down an execution.
func (t *Trail) Append(rec Record) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fields := []zap.Field{
		zap.Int64("monotonic_ns", time.Since(t.start).Nanoseconds()),
		zap.String("execution_id", rec.ExecutionID),
		zap.String("phase", rec.Phase),
		zap.String("decision", rec.Decision),
	}
	if rec.Phase == PhaseValidation {
		fields = append(fields, zap.Int("risk_score", rec.RiskScore))
	}
	// Always present, [] when discovery matched nothing.
	fields = append(fields, zap.Strings("tools_selected", rec.ToolsSelected))
	if rec.Phase == PhaseRedaction {
		fields = append(fields, zap.Int("redactions_count", rec.RedactionsCount))
	}
	if rec.ErrorKind != "" {
		fields = append(fields, zap.String("error_kind", rec.ErrorKind))
	}
	t.logger.Info("", fields...)
}

// Close flushes and closes the underlying file.
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.logger.Sync()
	return t.file.Close()
}
