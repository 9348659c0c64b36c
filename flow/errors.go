// Package flow provides the workflow interpreter core for ArcFlow.
package flow

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced by the engine. These strings are part of the
// external contract: persisted execution records and API responses carry them
// verbatim.
const (
	// CodeUnknownNode indicates a workflow referenced a node type that is
	// not present in the registry. Fatal for the execution.
	CodeUnknownNode = "UNKNOWN_NODE"

	// CodeNodeNoEdge indicates a node returned an empty edge map, declaring
	// no outcome at all. Fatal for the execution.
	CodeNodeNoEdge = "NODE_NO_EDGE"

	// CodeNodeFailed indicates a node returned an unhandled error. The
	// execution fails and FailedNodeID points at the invocation.
	CodeNodeFailed = "NODE_FAILED"

	// CodeCancelled indicates the execution's cancellation signal was
	// observed between node invocations.
	CodeCancelled = "CANCELLED"

	// CodeWorkflowNotFound indicates an automation referenced a workflow
	// definition that no longer exists.
	CodeWorkflowNotFound = "WORKFLOW_NOT_FOUND"

	// CodeCronInvalid indicates a cron expression failed validation.
	CodeCronInvalid = "CRON_INVALID"

	// CodeVersionConflict indicates an optimistic-locked update lost the
	// race. Callers decide whether to retry; the engine never does.
	CodeVersionConflict = "VERSION_CONFLICT"

	// CodeValidationError is attached to issues reported by deep workflow
	// validation. Non-fatal.
	CodeValidationError = "VALIDATION_ERROR"

	// CodeReferenceError is surfaced by flex-record collaborator nodes as an
	// error? edge payload, never as a fatal throw.
	CodeReferenceError = "REFERENCE_ERROR"

	// CodeDuplicateNode indicates two node registrations share an id.
	// Registration-time only; startup treats it as fatal.
	CodeDuplicateNode = "DUPLICATE_NODE"

	// CodeInvalidDefinition indicates a workflow definition could not be
	// parsed into its invocation tree.
	CodeInvalidDefinition = "INVALID_DEFINITION"

	// CodeMaxStepsExceeded indicates the interpreter's loop guard tripped.
	CodeMaxStepsExceeded = "MAX_STEPS_EXCEEDED"
)

// Error is the structured error type used across the engine.
//
// Every error that crosses a package boundary carries a stable Code so
// callers can dispatch on it without string matching, plus an optional
// wrapped Cause for errors.Is/errors.As chains.
type Error struct {
	// Code is one of the Code* constants above.
	Code string

	// Message is the human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Errf builds an *Error with a formatted message.
func Errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around a cause.
func Wrap(code string, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the stable code from err, walking wrap chains. Returns ""
// when no *Error is found.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
