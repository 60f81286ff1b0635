package orchestration

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/sagaflow/saga-system/orchestrator-service/domain"
)

// ResolutionError indicates a payload template that cannot be materialized.
// Retrying cannot fix a template, so the step fails without a remote call.
type ResolutionError struct {
	Expression string
	Reason     string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %q: %s", e.Expression, e.Reason)
}

// TransportError indicates the remote call never produced a response:
// connection refused, DNS failure, broken pipe. Retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates the per-call deadline expired. The remote side
// effect may or may not have been applied.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call deadline exceeded: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// ApplicationError indicates the remote service responded with an explicit
// error status. The action definitively did not apply.
type ApplicationError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ApplicationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote service returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote service returned %d: %s", e.StatusCode, e.Message)
}

// StoreFailure marks a durable-store write error raised while a saga was
// rolling back. It means the rollback was interrupted, not that a
// compensation action failed: the saga must stay compensating and be
// retried, never settled compensation_failed.
type StoreFailure struct {
	Err error
}

func (e *StoreFailure) Error() string {
	return fmt.Sprintf("store failure during rollback: %v", e.Err)
}

func (e *StoreFailure) Unwrap() error {
	return e.Err
}

// ClassifyError maps an execution error to the outcome error kind
func ClassifyError(err error) domain.ErrorKind {
	var resolutionErr *ResolutionError
	if errors.As(err, &resolutionErr) {
		return domain.ErrorKindResolution
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return domain.ErrorKindTimeout
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return domain.ErrorKindTransport
	}

	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return domain.ErrorKindApplication
	}

	return domain.ErrorKindTransport
}

// IsRetryable reports whether a failed attempt may be retried. Transport
// and timeout failures are retryable; application errors only when the
// step declares the action idempotent-safe; template errors never.
func IsRetryable(err error, idempotentSafe bool) bool {
	switch ClassifyError(err) {
	case domain.ErrorKindTransport, domain.ErrorKindTimeout:
		return true
	case domain.ErrorKindApplication:
		return idempotentSafe
	default:
		return false
	}
}
