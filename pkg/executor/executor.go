// Package executor implements the per-external-system step executors
// (spec.md §4.6): thin handlers that load a workflow, enforce the
// identity-critical gate, invoke an injected connector, and emit the
// outcome back onto the bus.
//
// Grounded on the teacher's graph/tool.Tool-calling convention inside
// graph/node.go (a node wraps a side-effecting call, records success or
// failure, and lets the scheduler's RetryPolicy decide whether to retry)
// — generalized from one generic node type into one StepExecutor per
// external system, and from the teacher's scheduler-driven retry into
// internal/bus's generic backoff: a StepExecutor returns a retryable
// pkg/errs.Error on a non-final failed attempt, and the dispatcher
// re-enqueues the SAME topic with Attempt+1 after computing the backoff
// spec.md §4.5 specifies — which is exactly the re-emission spec.md §4.6
// step 6 describes, so there is no separate retry loop inside this
// package.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/internal/metrics"
	"github.com/dshills/erasureflow-go/pkg/connector"
	"github.com/dshills/erasureflow-go/pkg/errs"
	"github.com/dshills/erasureflow-go/pkg/topics"
	"github.com/dshills/erasureflow-go/pkg/workflow"
)

// Emitter publishes a topic event; satisfied by *bus.Dispatcher.
type Emitter interface {
	Emit(ctx context.Context, topic string, data map[string]interface{}) error
}

// WorkflowStore is the subset of *workflow.Manager a StepExecutor needs.
type WorkflowStore interface {
	Load(ctx context.Context, workflowID string) (*workflow.Workflow, error)
	UpdateStep(ctx context.Context, workflowID, stepName string, patch workflow.StepPatch) (*workflow.Workflow, error)
}

// HoldRecorder indexes a legal hold discovered mid-step so the expiry
// sweep (pkg/legalhold.Scanner) learns about it; satisfied by
// *legalhold.Manager. Optional — a nil HoldRecorder just means holds
// raised this way never expire-notify, which is fine for executors that
// don't wire one in (e.g. in tests).
type HoldRecorder interface {
	Record(ctx context.Context, workflowID, stepName, reason string, expiresAt time.Time) error
}

// StepExecutor drives one external system's deletion step.
type StepExecutor struct {
	System           string // one of policy.System's values: stripe, database, intercom, ...
	Topic            string // the topic this executor subscribes to
	NextTopic        string // identity-critical chain target; "" if none (spec.md §4.6 step 8)
	IdentityCritical bool

	Connector connector.Connector
	Workflows WorkflowStore
	Bus       Emitter
	Holds     HoldRecorder

	MaxRetries int
	Timeout    time.Duration

	Logger  *zap.SugaredLogger
	Metrics *metrics.Collector

	now func() time.Time
}

// New constructs a StepExecutor. maxRetries and timeout come from
// internal/config (spec.md §6's maxRetryAttempts and per-system
// connectorTimeoutMs).
func New(system, topic, nextTopic string, identityCritical bool, conn connector.Connector, workflows WorkflowStore, emitter Emitter, maxRetries int, timeout time.Duration, logger *zap.SugaredLogger, m *metrics.Collector) *StepExecutor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StepExecutor{
		System:           system,
		Topic:            topic,
		NextTopic:        nextTopic,
		IdentityCritical: identityCritical,
		Connector:        conn,
		Workflows:        workflows,
		Bus:              emitter,
		MaxRetries:       maxRetries,
		Timeout:          timeout,
		Logger:           logger,
		Metrics:          m,
		now:              time.Now,
	}
}

// Handle is the bus.Handler for e.Topic.
func (e *StepExecutor) Handle(ctx context.Context, evt bus.Event) error {
	var payload topics.StepPayload
	if err := topics.Decode(evt.Data, &payload); err != nil {
		return fmt.Errorf("executor[%s]: decode payload: %w", e.System, err)
	}
	if payload.WorkflowID == "" {
		return errs.Validation("MISSING_WORKFLOW_ID", "step event missing workflowId")
	}
	stepName := payload.StepName
	if stepName == "" {
		stepName = e.System
	}
	// evt.Attempt is the dispatcher's own retry counter (internal/bus
	// increments it on each re-enqueue without touching Data), so it is
	// authoritative whenever this event actually went through a
	// Dispatcher. payload.Attempt is only the fallback for direct
	// Handle() calls that construct a bus.Event by hand and never set
	// Attempt.
	attempt := evt.Attempt
	if attempt <= 0 {
		attempt = payload.Attempt
	}
	if attempt <= 0 {
		attempt = 1
	}

	wf, err := e.Workflows.Load(ctx, payload.WorkflowID)
	if err != nil {
		return err
	}
	if wf.Cancelled {
		return nil
	}

	// spec.md §4.6 step 2: parallel steps require the identity-critical
	// checkpoint before they may run at all.
	if !e.IdentityCritical && !wf.IdentityCriticalCompleted {
		return errs.WorkflowState("IDENTITY_CRITICAL_INCOMPLETE", "Identity-critical checkpoint not completed")
	}

	if _, err := e.Workflows.UpdateStep(ctx, payload.WorkflowID, stepName, workflow.StepPatch{
		Status:      statusPtr(workflow.StepInProgress),
		AttemptsSet: intPtr(attempt),
	}); err != nil {
		return err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if e.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	start := e.now()
	result, callErr := e.Connector.DeleteUser(callCtx, connector.UserIdentifiers{
		UserID:  payload.Users.UserID,
		Emails:  payload.Users.Emails,
		Phones:  payload.Users.Phones,
		Aliases: payload.Users.Aliases,
	})
	duration := e.now().Sub(start)

	if holdErr, ok := asLegalHold(callErr, result.Err); ok {
		return e.handleLegalHold(ctx, payload.WorkflowID, stepName, holdErr)
	}

	// spec.md §4.6 edge cases: an ambiguous result (no error but not
	// marked successful, or claimed success with no receipt) and a
	// timed-out connector call are both treated as failures.
	failed := callErr != nil || result.Err != nil || !result.Success || (result.Success && result.Receipt == "")
	if callCtx.Err() != nil {
		failed = true
	}

	if e.Metrics != nil {
		status := "success"
		if failed {
			status = "failure"
		}
		e.Metrics.RecordStepLatency(e.System, duration, status)
	}

	if !failed {
		return e.handleSuccess(ctx, payload.WorkflowID, stepName, attempt, result)
	}

	cause := callErr
	if cause == nil {
		cause = result.Err
	}
	if cause == nil {
		cause = fmt.Errorf("executor[%s]: connector reported failure with no error detail", e.System)
	}

	if attempt < e.MaxRetries {
		// Leave the step IN_PROGRESS; returning a retryable error makes the
		// dispatcher re-enqueue this same topic with Attempt+1 after its
		// configured backoff (spec.md §4.6 step 6).
		return errs.Connector("CONNECTOR_FAILURE", fmt.Sprintf("%s deletion attempt %d failed", e.System, attempt), cause)
	}
	return e.handleTerminalFailure(ctx, payload.WorkflowID, stepName, attempt, cause)
}

func (e *StepExecutor) handleSuccess(ctx context.Context, workflowID, stepName string, attempt int, result connector.Result) error {
	phase := identityPhase(e.IdentityCritical)
	if _, err := e.Workflows.UpdateStep(ctx, workflowID, stepName, workflow.StepPatch{
		Status:      statusPtr(workflow.StepDeleted),
		AttemptsSet: intPtr(attempt),
		Evidence: &workflow.Evidence{
			Receipt:     result.Receipt,
			Timestamp:   e.now().UTC(),
			APIResponse: result.APIResponse,
		},
	}); err != nil {
		return err
	}

	completed := topics.StepCompletedPayload{
		WorkflowID: workflowID, StepName: stepName, System: e.System,
		Receipt: result.Receipt, APIResponse: result.APIResponse, Attempts: attempt,
	}
	if err := e.emitEncoded(ctx, topics.StepCompleted, completed); err != nil {
		return err
	}
	if !e.IdentityCritical {
		if err := e.emitEncoded(ctx, topics.ParallelStepCompleted, completed); err != nil {
			return err
		}
	}
	if err := e.emitAuditLog(ctx, workflowID, "STEP_COMPLETED", map[string]interface{}{
		"stepName": stepName, "system": e.System, "receipt": result.Receipt, "attempts": attempt,
	}); err != nil {
		return err
	}
	if err := e.emitEncoded(ctx, topics.CheckpointValidation, topics.CheckpointValidationPayload{
		WorkflowID: workflowID, Phase: phase, StepName: stepName, Status: string(workflow.StepDeleted),
	}); err != nil {
		return err
	}

	return e.chainNext(ctx, workflowID)
}

// chainNext advances an identity-critical step to e.NextTopic (spec.md
// §4.6 step 8: stripe -> database). A legal hold is checkpoint-satisfying
// the same way a completed deletion is — the required set {stripe,
// database} still needs both members accounted for before the phase can
// close — so this is shared between handleSuccess and handleLegalHold
// rather than only firing on success.
func (e *StepExecutor) chainNext(ctx context.Context, workflowID string) error {
	if !e.IdentityCritical || e.NextTopic == "" {
		return nil
	}
	wf, err := e.Workflows.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	return e.emitEncoded(ctx, e.NextTopic, topics.StepPayload{
		WorkflowID: workflowID, Attempt: 1, Users: wf.Users,
	})
}

func (e *StepExecutor) handleTerminalFailure(ctx context.Context, workflowID, stepName string, attempt int, cause error) error {
	phase := identityPhase(e.IdentityCritical)
	if _, err := e.Workflows.UpdateStep(ctx, workflowID, stepName, workflow.StepPatch{
		Status:      statusPtr(workflow.StepFailed),
		AttemptsSet: intPtr(attempt),
	}); err != nil {
		return err
	}
	if err := e.emitEncoded(ctx, topics.StepFailed, topics.StepFailedPayload{
		WorkflowID: workflowID, StepName: stepName, System: e.System, Attempts: attempt, Error: cause.Error(),
	}); err != nil {
		return err
	}
	if err := e.emitAuditLog(ctx, workflowID, "STEP_FAILED", map[string]interface{}{
		"stepName": stepName, "system": e.System, "attempts": attempt, "error": cause.Error(),
	}); err != nil {
		return err
	}
	if err := e.emitEncoded(ctx, topics.CheckpointValidation, topics.CheckpointValidationPayload{
		WorkflowID: workflowID, Phase: phase, StepName: stepName, Status: string(workflow.StepFailed),
	}); err != nil {
		return err
	}
	// Terminal but not retryable: the dispatcher's own attempt ceiling has
	// already been reached for this event, so this only drives its
	// HandlerFailed monitoring hook.
	return errs.PermanentConnector("MAX_RETRIES_EXCEEDED", fmt.Sprintf("%s deletion failed permanently after %d attempts", e.System, attempt), cause)
}

func (e *StepExecutor) handleLegalHold(ctx context.Context, workflowID, stepName string, holdErr *errs.Error) error {
	phase := identityPhase(e.IdentityCritical)
	expiry := e.now().UTC().AddDate(0, 0, 365)
	// Open Question decision (SPEC_FULL.md #2): attempts are left
	// untouched on a mid-step legal hold; it is not a retry.
	if _, err := e.Workflows.UpdateStep(ctx, workflowID, stepName, workflow.StepPatch{
		Status:     statusPtr(workflow.StepLegalHold),
		HoldReason: holdErr.Message,
		HoldExpiry: expiry,
	}); err != nil {
		return err
	}
	if e.Holds != nil {
		if err := e.Holds.Record(ctx, workflowID, stepName, holdErr.Message, expiry); err != nil {
			return err
		}
	}
	if err := e.emitAuditLog(ctx, workflowID, "STEP_LEGAL_HOLD", map[string]interface{}{
		"stepName": stepName, "system": e.System, "reason": holdErr.Message,
	}); err != nil {
		return err
	}
	if err := e.emitEncoded(ctx, topics.CheckpointValidation, topics.CheckpointValidationPayload{
		WorkflowID: workflowID, Phase: phase, StepName: stepName, Status: string(workflow.StepLegalHold),
	}); err != nil {
		return err
	}
	return e.chainNext(ctx, workflowID)
}

func (e *StepExecutor) emitEncoded(ctx context.Context, topic string, payload interface{}) error {
	data, err := topics.Encode(payload)
	if err != nil {
		return err
	}
	return e.Bus.Emit(ctx, topic, data)
}

func (e *StepExecutor) emitAuditLog(ctx context.Context, workflowID, eventType string, data map[string]interface{}) error {
	return e.emitEncoded(ctx, topics.AuditLog, topics.AuditLogPayload{
		WorkflowID: workflowID, EventType: eventType, Data: data,
	})
}

func asLegalHold(err1, err2 error) (*errs.Error, bool) {
	if e, ok := err1.(*errs.Error); ok && e.Kind == errs.KindLegalHold {
		return e, true
	}
	if e, ok := err2.(*errs.Error); ok && e.Kind == errs.KindLegalHold {
		return e, true
	}
	return nil, false
}

func identityPhase(identityCritical bool) string {
	if identityCritical {
		return string(workflow.PhaseIdentityCritical)
	}
	return string(workflow.PhaseParallelDeletion)
}

func statusPtr(s workflow.StepStatus) *workflow.StepStatus { return &s }
func intPtr(n int) *int                                    { return &n }
