package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/pkg/errs"
	"github.com/dshills/erasureflow-go/pkg/topics"
)

// ParallelOrchestrator implements spec.md §4.9: on parallel-deletion-trigger,
// validate identityCriticalCompleted and fan out every requested system's
// step with no inter-dependency between them. (The phase transition itself
// is made by CheckpointValidator.advance before it emits this trigger, so
// this handler only needs to validate the precondition and fan out —
// advancing the phase again here would violate phase monotonicity.)
type ParallelOrchestrator struct {
	Workflows WorkflowStore
	Bus       Emitter

	Logger *zap.SugaredLogger
}

// Handle is the bus.Handler for topics.ParallelDeletionTrigger.
func (o *ParallelOrchestrator) Handle(ctx context.Context, evt bus.Event) error {
	var payload topics.ParallelDeletionTriggerPayload
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
	if !wf.IdentityCriticalCompleted {
		return errs.WorkflowState("IDENTITY_CRITICAL_INCOMPLETE", "parallel-deletion-trigger issued before identity-critical checkpoint completed")
	}

	for _, system := range payload.Systems {
		topic, ok := topics.StepTopics[system]
		if !ok {
			return fmt.Errorf("orchestrator: no step topic registered for system %q", system)
		}
		data, err := topics.Encode(topics.StepPayload{
			WorkflowID: payload.WorkflowID,
			StepName:   system,
			System:     system,
			Attempt:    1,
			Users:      wf.Users,
		})
		if err != nil {
			return err
		}
		if err := o.Bus.Emit(ctx, topic, data); err != nil {
			return err
		}
	}
	return nil
}
