package models

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the category of error that occurred.
type ErrorKind string

const (
	// Model server unreachable or a request exceeded its deadline.
	ErrConnectivity ErrorKind = "connectivity"
	// Malformed request or response on the model server protocol.
	ErrProtocol ErrorKind = "protocol"
	// Physics or environment crash inside a simulation instance.
	ErrSimulation ErrorKind = "simulation"
	// Invalid run parameters. Fatal before any trial is dispatched.
	ErrConfiguration ErrorKind = "configuration"
)

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// FailureReason explains why a trial did not succeed.
type FailureReason string

const (
	FailureNone            FailureReason = ""
	FailureServerError     FailureReason = "server_error"
	FailureTimeout         FailureReason = "timeout"
	FailureWorkerCrash     FailureReason = "worker_crash"
	FailurePhysicalFailure FailureReason = "physical_failure"
	FailureCancelled       FailureReason = "cancelled"
)

// FailureReasons lists every non-empty reason in report order.
var FailureReasons = []FailureReason{
	FailureServerError,
	FailureTimeout,
	FailureWorkerCrash,
	FailurePhysicalFailure,
	FailureCancelled,
}

// IsError reports whether the reason stems from infrastructure rather than
// the policy's behavior in the scene.
func (r FailureReason) IsError() bool {
	switch r {
	case FailureServerError, FailureWorkerCrash, FailureCancelled:
		return true
	}
	return false
}
