package errdefs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure into one of the surfaced categories.
type Kind string

const (
	ConfigError         Kind = "ConfigError"
	DiscoveryEmpty      Kind = "DiscoveryEmpty"
	SchemaUnsupported   Kind = "SchemaUnsupported"
	SchemaRefUnresolved Kind = "SchemaRefUnresolved"
	PolicyDenied        Kind = "PolicyDenied"
	SandboxUnavailable  Kind = "SandboxUnavailable"
	Timeout             Kind = "Timeout"
	Cancelled           Kind = "Cancelled"
	ServerExited        Kind = "ServerExited"
	TransportError      Kind = "TransportError"
	ToolError           Kind = "ToolError"
	GenerationBusy      Kind = "GenerationBusy"
	NotFound            Kind = "NotFound"
	IOError             Kind = "IOError"
	Internal            Kind = "Internal"
)

// Error carries a kind alongside the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, errdefs.New(kind, ""))
// style sentinels work across wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors map to
// Internal; context cancellation and deadline errors map to their kinds even
// when nothing in the chain wrapped them.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}

// ExitCode maps an error kind to the CLI process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case DiscoveryEmpty:
		return 2
	case PolicyDenied:
		return 3
	case SandboxUnavailable:
		return 4
	case Timeout:
		return 5
	default:
		return 1
	}
}
