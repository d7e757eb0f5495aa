package audit

import (
	"context"
	"fmt"
	"time"
)

// WorkflowCreatedAtLookup resolves a workflow's creation time, needed to
// recompute its genesis hash on the very first append. Declared narrowly
// (not pkg/workflow.Manager directly) to avoid audit depending on workflow,
// which already depends on audit.
type WorkflowCreatedAtLookup interface {
	CreatedAt(ctx context.Context, workflowID string) (time.Time, error)
}

// AuditLogEvent is the minimal shape Sink needs out of a decoded
// topics.AuditLogPayload — declared here rather than imported from
// pkg/topics to avoid audit depending on the workflow-typed topics package.
type AuditLogEvent struct {
	WorkflowID string
	EventType  string
	Data       map[string]interface{}
}

// Sink is the seam through which the bus handlers append to the hash chain:
// they emit audit-log and let Sink call Trail.Append, so their entries go
// through one code path regardless of which handler produced them. The one
// direct caller of Trail.Append is workflow.Manager.CreateWorkflow, which
// initializes the trail and appends WORKFLOW_CREATED itself.
type Sink struct {
	Trail     *Trail
	Workflows WorkflowCreatedAtLookup
}

// NewSink constructs a Sink.
func NewSink(trail *Trail, workflows WorkflowCreatedAtLookup) *Sink {
	return &Sink{Trail: trail, Workflows: workflows}
}

// Handle appends evt to workflowID's chain. Per spec.md §4.13, a publish
// failure here must not fail the originating workflow operation — this is
// why producers emit audit-log asynchronously via the bus rather than
// calling Append inline and propagating its error up their own call chain.
func (s *Sink) Handle(ctx context.Context, evt AuditLogEvent) error {
	if evt.WorkflowID == "" {
		return fmt.Errorf("audit: sink: missing workflowId")
	}
	createdAt, err := s.Workflows.CreatedAt(ctx, evt.WorkflowID)
	if err != nil {
		return fmt.Errorf("audit: sink: resolve createdAt for %s: %w", evt.WorkflowID, err)
	}
	_, err = s.Trail.Append(ctx, evt.WorkflowID, createdAt, Event{
		WorkflowID: evt.WorkflowID,
		EventType:  EventType(evt.EventType),
		Data:       evt.Data,
	})
	return err
}
