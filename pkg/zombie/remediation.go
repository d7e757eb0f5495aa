package zombie

import (
	"context"

	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/pkg/policy"
	"github.com/dshills/erasureflow-go/pkg/topics"
	"github.com/dshills/erasureflow-go/pkg/workflow"
)

// WorkflowCreator is the narrow slice of pkg/workflow.Manager the
// remediation spawner needs — just enough to re-enter spec.md §4.4.
type WorkflowCreator interface {
	CreateWorkflow(ctx context.Context, req workflow.CreateRequest) (*workflow.Workflow, error)
}

// RemediationSpawner subscribes to create-erasure-request (spec.md
// §4.11 step 4): a positive zombie-data finding spawns a brand new
// erasure workflow for the same user, re-entering ordinary createWorkflow
// rather than retrying steps on the original, now-completed workflow.
type RemediationSpawner struct {
	Workflows WorkflowCreator

	Logger *zap.SugaredLogger
}

// Handle is the bus.Handler for topics.CreateErasureRequest.
func (r *RemediationSpawner) Handle(ctx context.Context, evt bus.Event) error {
	var payload topics.CreateErasureRequestPayload
	if err := topics.Decode(evt.Data, &payload); err != nil {
		return err
	}

	_, err := r.Workflows.CreateWorkflow(ctx, workflow.CreateRequest{
		Users:        payload.Users,
		Jurisdiction: policy.Jurisdiction(payload.Jurisdiction),
		RequestedBy:  "zombie-scanner",
		LegalProof:   payload.Reason,
	})
	return err
}
