// Package kernelerrors provides the kernel's structured error taxonomy.
// KernelError preserves the failure Kind and causal chain while still
// implementing the standard error interface, so callers can branch on Kind
// and still use errors.Is/errors.As across retries and compensation.
package kernelerrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from the kernel's error handling
// design. Every failure surfaced by the pipeline or the orchestrator is
// classified as exactly one of these.
type Kind string

const (
	// Validation is raised when a proposed call is rejected before any
	// side effect occurs. Never written to memory.
	Validation Kind = "validation"
	// ApprovalDenied covers denied, expired, and cancelled approval
	// outcomes. Terminal; no execution occurs.
	ApprovalDenied Kind = "approval_denied"
	// Execution is raised when the action handler throws or times out.
	// Side effects may have occurred; compensation may be attempted.
	Execution Kind = "execution"
	// Verification covers post-condition or invariant failures. Critical
	// variants trigger compensation.
	Verification Kind = "verification"
	// Compensation is raised when compensation itself fails or is
	// missing. The pipeline still reports the original failure.
	Compensation Kind = "compensation"
	// Policy covers role-call authorization denials, safe-mode admission
	// refusals, and circuit-breaker-open denials. No side effects occur.
	Policy Kind = "policy"
	// Internal covers unexpected kernel-internal exceptions. Always
	// caught at the orchestrator boundary and reported as an anomaly.
	Internal Kind = "internal"
)

// KernelError is a structured failure classified by Kind. Cause links to an
// underlying KernelError so chains survive round-tripping through
// serialized event payloads while still supporting errors.Is/errors.As via
// Unwrap.
type KernelError struct {
	Kind    Kind
	Message string
	Cause   *KernelError
}

// New constructs a KernelError of the given kind with the supplied message.
func New(kind Kind, message string) *KernelError {
	if message == "" {
		message = string(kind)
	}
	return &KernelError{Kind: kind, Message: message}
}

// Newf formats according to a format specifier and returns a KernelError of
// the given kind.
func Newf(kind Kind, format string, args ...any) *KernelError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap constructs a KernelError of the given kind that wraps an underlying
// error. The cause is converted into a KernelError chain so classification
// metadata survives serialization while still supporting errors.Is/As.
func Wrap(kind Kind, message string, cause error) *KernelError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &KernelError{Kind: kind, Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a KernelError chain, preserving
// an existing KernelError's Kind if the error already is one, and otherwise
// classifying it as Internal.
func FromError(err error) *KernelError {
	if err == nil {
		return nil
	}
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke
	}
	return &KernelError{Kind: Internal, Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap returns the underlying KernelError to support errors.Is/errors.As.
func (e *KernelError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a KernelError with the same Kind, enabling
// errors.Is(err, kernelerrors.New(kernelerrors.Policy, "")) style checks.
func (e *KernelError) Is(target error) bool {
	var ke *KernelError
	if !errors.As(target, &ke) {
		return false
	}
	return e.Kind == ke.Kind
}

// Of reports whether err is (or wraps) a KernelError of the given Kind.
func Of(err error, kind Kind) bool {
	var ke *KernelError
	if !errors.As(err, &ke) {
		return false
	}
	return ke.Kind == kind
}
