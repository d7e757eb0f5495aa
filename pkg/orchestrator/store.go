// Package orchestrator implements the phase-transition machinery that sits
// above the per-system step executors: the identity-critical orchestrator
// (spec.md §4.7), the checkpoint validator (§4.8), the parallel orchestrator
// (§4.9), and the completion handler (§4.10). Together these are the
// "join points" the teacher's graph engine handled with a generic DAG
// scheduler; here the topology is fixed, so each join point is its own
// small handler subscribed to one topic rather than a graph walk.
package orchestrator

import (
	"context"
	"time"

	"github.com/dshills/erasureflow-go/pkg/workflow"
)

// Emitter publishes a topic event; satisfied by *bus.Dispatcher.
type Emitter interface {
	Emit(ctx context.Context, topic string, data map[string]interface{}) error
}

// WorkflowStore is the subset of *workflow.Manager the orchestrator
// handlers need.
type WorkflowStore interface {
	Load(ctx context.Context, workflowID string) (*workflow.Workflow, error)
	AdvancePhase(ctx context.Context, workflowID string, next workflow.Phase) (*workflow.Workflow, error)
	RecordCheckpoint(ctx context.Context, workflowID string, phase workflow.Phase, result workflow.CheckpointRecord) (*workflow.Workflow, error)
	SetStatus(ctx context.Context, workflowID string, status workflow.Status) (*workflow.Workflow, error)
	SetIdentityCriticalCompleted(ctx context.Context, workflowID string) (*workflow.Workflow, error)
}

// CertificateIssuer generates and persists a workflow's certificate of
// destruction (spec.md §4.10 steps 1-4). Declared narrowly here rather than
// importing pkg/certificate directly, mirroring pkg/workflow.Emitter's
// dependency-direction trick.
type CertificateIssuer interface {
	IssueCertificate(ctx context.Context, workflowID string, completedAt time.Time) error
}

// ZombieScheduler schedules the post-completion re-verification pass
// (spec.md §4.11's scheduleZombieCheck).
type ZombieScheduler interface {
	Schedule(ctx context.Context, workflowID string, completedAt time.Time) error
}
