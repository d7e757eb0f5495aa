// Package errs defines the error taxonomy shared by every orchestrator
// component, mirroring the teacher's EngineError{Message,Code} shape but
// with the categories spec.md §7 requires.
package errs

import "fmt"

// Kind identifies which category of failure an error belongs to, so
// callers can decide whether to retry, surface to an operator, or treat a
// workflow as terminally failed.
type Kind string

const (
	// KindValidation marks bad input at workflow creation time.
	KindValidation Kind = "VALIDATION"
	// KindWorkflowState marks an illegal state transition or a missing workflow.
	KindWorkflowState Kind = "WORKFLOW_STATE"
	// KindConnector marks a retryable connector failure (network, 5xx, timeout).
	KindConnector Kind = "CONNECTOR"
	// KindPermanentConnector marks a non-retryable connector failure (4xx semantic).
	KindPermanentConnector Kind = "PERMANENT_CONNECTOR"
	// KindLegalHold marks a step that cannot proceed because of a legal hold.
	KindLegalHold Kind = "LEGAL_HOLD"
	// KindIntegrity marks an audit hash-chain mismatch. Non-recoverable.
	KindIntegrity Kind = "INTEGRITY"
	// KindBackgroundJob marks a failure in a cron-driven background job (zombie scan).
	KindBackgroundJob Kind = "BACKGROUND_JOB"
)

// Error is the single error type used across the orchestrator. Code is a
// short machine-readable discriminator within a Kind (e.g. "NOT_FOUND",
// "ILLEGAL_TRANSITION"); Message is human-readable; Cause is the wrapped
// underlying error, if any.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons by Kind+Code, ignoring Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func newErr(k Kind, code, msg string, cause error) *Error {
	return &Error{Kind: k, Code: code, Message: msg, Cause: cause}
}

// Validation builds a ValidationError.
func Validation(code, msg string) *Error { return newErr(KindValidation, code, msg, nil) }

// WorkflowState builds a WorkflowStateError.
func WorkflowState(code, msg string) *Error { return newErr(KindWorkflowState, code, msg, nil) }

// WorkflowStatef builds a WorkflowStateError with a formatted message.
func WorkflowStatef(code, format string, args ...interface{}) *Error {
	return newErr(KindWorkflowState, code, fmt.Sprintf(format, args...), nil)
}

// Connector builds a retryable ConnectorError wrapping cause.
func Connector(code, msg string, cause error) *Error {
	return newErr(KindConnector, code, msg, cause)
}

// PermanentConnector builds a non-retryable PermanentConnectorError.
func PermanentConnector(code, msg string, cause error) *Error {
	return newErr(KindPermanentConnector, code, msg, cause)
}

// LegalHold builds a LegalHoldError.
func LegalHold(code, msg string) *Error { return newErr(KindLegalHold, code, msg, nil) }

// Integrity builds an IntegrityError.
func Integrity(code, msg string) *Error { return newErr(KindIntegrity, code, msg, nil) }

// BackgroundJob builds a BackgroundJobError wrapping cause.
func BackgroundJob(code, msg string, cause error) *Error {
	return newErr(KindBackgroundJob, code, msg, cause)
}

// Retryable reports whether an error's Kind is conventionally safe to retry
// with backoff. Only KindConnector is retryable; everything else is either
// permanent or requires operator/manual intervention.
func Retryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == KindConnector
}
