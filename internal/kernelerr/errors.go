// Package kernelerr implements the closed error taxonomy of spec.md §7 as
// tagged variants, each wrapping an optional cause with
// github.com/pkg/errors so diagnostics keep a stack trace across the
// kernel's internal call chain the way thrasher-corp/gocryptotrader wraps
// its config and exchange errors.
package kernelerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one member of the closed taxonomy.
type Kind string

const (
	InvalidPath            Kind = "InvalidPath"
	NoRoute                Kind = "NoRoute"
	QueueFull              Kind = "QueueFull"
	Paused                 Kind = "Paused"
	AccessDenied           Kind = "AccessDenied"
	PKRExpired             Kind = "PKRExpired"
	PKRUnknown             Kind = "PKRUnknown"
	HandlerError           Kind = "HandlerError"
	TimeoutKind            Kind = "Timeout"
	BuildCycle             Kind = "BuildCycle"
	BuildDependencyMissing Kind = "BuildDependencyMissing"
	DuplicateChannel       Kind = "DuplicateChannel"
	OperationCancelled     Kind = "OperationCancelled"
	PoolExhausted          Kind = "PoolExhausted"
)

// KernelError is the concrete error type surfaced through the public API.
// CallerID and Path are sanitized (redacted) when Debug is false; see
// Sanitize.
type KernelError struct {
	Kind      Kind
	Message   string
	CallerID  string
	Path      string
	TimeoutMs int64
	Kinds     []string // for BuildCycle: the cyclic facet kinds
	Needs     string   // for BuildDependencyMissing: the missing dependency kind
	cause     error
}

func (e *KernelError) Error() string {
	base := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *KernelError) Unwrap() error { return e.cause }

// Cause reports the original cause passed to the constructor, with the
// github.com/pkg/errors message/stack wrapping stripped (nil if none).
func (e *KernelError) Cause() error { return errors.Cause(e.cause) }

// Sanitize redacts CallerID/Path unless debug is true, per spec.md §7's
// "sanitized in non-debug mode" propagation rule.
func (e *KernelError) Sanitize(debug bool) *KernelError {
	if debug {
		return e
	}
	clone := *e
	if clone.CallerID != "" {
		clone.CallerID = "[redacted]"
	}
	if clone.Path != "" {
		clone.Path = "[redacted]"
	}
	return &clone
}

func new(kind Kind, msg string, cause error) *KernelError {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, msg)
	}
	return &KernelError{Kind: kind, Message: msg, cause: wrapped}
}

func NewInvalidPath(path string) *KernelError {
	e := new(InvalidPath, "path fails grammar or is empty", nil)
	e.Path = path
	return e
}

func NewNoRoute(path string) *KernelError {
	e := new(NoRoute, "unknown subsystem or no pattern matches", nil)
	e.Path = path
	return e
}

func NewQueueFull(path string) *KernelError {
	e := new(QueueFull, "accept rejected, queue full under reject policy", nil)
	e.Path = path
	return e
}

func NewPaused(path string) *KernelError {
	e := new(Paused, "accept attempted on a paused subsystem", nil)
	e.Path = path
	return e
}

func NewAccessDenied(callerID, path string) *KernelError {
	e := new(AccessDenied, "ACL denied", nil)
	e.CallerID = callerID
	e.Path = path
	return e
}

func NewPKRExpired(callerID string) *KernelError {
	e := new(PKRExpired, "PKR has expired", nil)
	e.CallerID = callerID
	return e
}

func NewPKRUnknown(callerID string) *KernelError {
	e := new(PKRUnknown, "PKR is not known to the registry", nil)
	e.CallerID = callerID
	return e
}

func NewHandlerError(path string, cause error) *KernelError {
	e := new(HandlerError, "uncaught exception in handler", cause)
	e.Path = path
	return e
}

func NewTimeout(timeoutMs int64) *KernelError {
	e := new(TimeoutKind, "response not received in time", nil)
	e.TimeoutMs = timeoutMs
	return e
}

func NewBuildCycle(kinds []string) *KernelError {
	e := new(BuildCycle, "topological sort detected a cycle", nil)
	e.Kinds = kinds
	return e
}

func NewBuildDependencyMissing(kind, needs string) *KernelError {
	e := new(BuildDependencyMissing, fmt.Sprintf("facet %q requires %q which is not available", kind, needs), nil)
	e.Needs = needs
	return e
}

func NewDuplicateChannel(route string) *KernelError {
	e := new(DuplicateChannel, "channel already registered", nil)
	e.Path = route
	return e
}

func NewOperationCancelled(reason string) *KernelError {
	return new(OperationCancelled, reason, nil)
}

func NewPoolExhausted() *KernelError {
	return new(PoolExhausted, "pool is bounded and construction is forbidden", nil)
}

// Is reports whether err is a KernelError of the given kind, following
// the same Is/As convention pkg/errors plays well with.
func Is(err error, kind Kind) bool {
	var ke *KernelError
	if !errors.As(err, &ke) {
		return false
	}
	return ke.Kind == kind
}
