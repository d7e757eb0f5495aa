package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/pkg/topics"
	"github.com/dshills/erasureflow-go/pkg/workflow"
)

// IdentityCriticalOrchestrator implements spec.md §4.7: on workflow-created,
// validate phase = created, advance to identity-critical, and kick off the
// first identity-critical step, recording IDENTITY_CRITICAL_PHASE_STARTED
// on audit-log. No other side effects.
type IdentityCriticalOrchestrator struct {
	Workflows  WorkflowStore
	Bus        Emitter
	FirstTopic string // topics.StripeDeletion
	FirstStep  string // "stripe"

	Logger *zap.SugaredLogger
}

// Handle is the bus.Handler for topics.WorkflowCreated.
func (o *IdentityCriticalOrchestrator) Handle(ctx context.Context, evt bus.Event) error {
	var payload topics.WorkflowCreatedPayload
	if err := topics.Decode(evt.Data, &payload); err != nil {
		return err
	}

	wf, err := o.Workflows.Load(ctx, payload.WorkflowID)
	if err != nil {
		return err
	}
	if wf.Cancelled {
		return nil
	}
	if wf.Phase != workflow.PhaseCreated {
		// At-least-once delivery: a duplicate workflow-created for a
		// workflow that's already moved on is a no-op, not an error.
		return nil
	}

	if _, err := o.Workflows.AdvancePhase(ctx, payload.WorkflowID, workflow.PhaseIdentityCritical); err != nil {
		return err
	}

	if err := o.emitEncoded(ctx, topics.AuditLog, topics.AuditLogPayload{
		WorkflowID: payload.WorkflowID,
		EventType:  "IDENTITY_CRITICAL_PHASE_STARTED",
		Data:       map[string]interface{}{},
	}); err != nil {
		return err
	}

	return o.emitEncoded(ctx, o.FirstTopic, topics.StepPayload{
		WorkflowID: payload.WorkflowID,
		StepName:   o.FirstStep,
		System:     o.FirstStep,
		Attempt:    1,
		Users:      wf.Users,
	})
}

func (o *IdentityCriticalOrchestrator) emitEncoded(ctx context.Context, topic string, payload interface{}) error {
	data, err := topics.Encode(payload)
	if err != nil {
		return err
	}
	return o.Bus.Emit(ctx, topic, data)
}
