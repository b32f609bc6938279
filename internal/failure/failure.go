// Package failure defines the error taxonomy shared by all pipeline components.
//
// Every component returns plain wrapped errors; the ones that matter to the
// orchestrator carry a Kind so that retry policy, run reporting and process
// exit codes can be derived without string matching.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind string

const (
	KindUnknown           Kind = ""
	KindTimeoutExceeded   Kind = "TimeoutExceeded"
	KindExecutionError    Kind = "ExecutionError"
	KindBuildFailure      Kind = "BuildFailure"
	KindAuthFailure       Kind = "AuthFailure"
	KindPublishFailure    Kind = "PublishFailure"
	KindPublishRejected   Kind = "PublishRejected"
	KindProvisionTimeout  Kind = "ProvisionTimeout"
	KindProvisionError    Kind = "ProvisionError"
	KindRolloutTimedOut   Kind = "RolloutTimedOut"
	KindRolloutDegraded   Kind = "RolloutDegraded"
	KindCancelled         Kind = "Cancelled"
	KindInvalidDefinition Kind = "InvalidDefinition"
)

// Error is a classified error. Output holds captured diagnostic output
// (stderr tail, build log tail) when the failing component has any.
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Output string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithOutput creates a classified error carrying diagnostic output.
func WithOutput(kind Kind, op string, err error, output string) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Output: output}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// OutputOf returns the diagnostic output attached to err, if any.
func OutputOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Output
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTerminal reports whether err must not be retried at the stage level.
// Authorization, validation and explicit rejections are never transient.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindAuthFailure, KindPublishRejected, KindInvalidDefinition,
		KindRolloutDegraded, KindProvisionError, KindCancelled:
		return true
	}
	return false
}
