// Package zombie implements the post-completion re-verification pass
// spec.md §4.11 describes: schedule a future check when a workflow
// completes, and periodically scan due schedules for data that should
// have been deleted but still answers present.
//
// Grounded on the teacher's graph/store.Store CheckIdempotency +
// scheduled-resume convention (a durable record plus a periodic sweep,
// rather than an in-memory timer, so a scan survives a process restart)
// and other_examples/6f7cf296_HarshaReddyVardhan-banking-audit-compliance's
// status-lifecycle record shape (SCHEDULED → PROCESSING → COMPLETED/FAILED).
package zombie

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/policy"
	"github.com/dshills/erasureflow-go/pkg/topics"
	"github.com/dshills/erasureflow-go/pkg/workflow"
)

// Status is a zombie-check schedule record's lifecycle state.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Schedule is the durable record scheduleZombieCheck creates and the cron
// scanner mutates as it processes it.
type Schedule struct {
	ScheduleID     string                  `json:"scheduleId"`
	WorkflowID     string                  `json:"workflowId"`
	Users          workflow.UserIdentifiers `json:"userIdentifiers"`
	Jurisdiction   policy.Jurisdiction     `json:"jurisdiction"`
	SystemsToCheck []string                `json:"systemsToCheck"`
	ScheduledFor   time.Time               `json:"scheduledFor"`
	Status         Status                  `json:"status"`
	ZombieDetected bool                    `json:"zombieDataDetected"`
	Sources        []string                `json:"zombieDataSources,omitempty"`
}

// Emitter is the narrow slice of internal/bus.Dispatcher this package
// publishes through.
type Emitter interface {
	Emit(ctx context.Context, topic string, data map[string]interface{}) error
}

// WorkflowStore is the narrow slice of pkg/workflow.Manager the scheduler
// reads from.
type WorkflowStore interface {
	Load(ctx context.Context, workflowID string) (*workflow.Workflow, error)
}

// Scheduler implements spec.md §4.11's scheduleZombieCheck, and
// pkg/orchestrator.ZombieScheduler.
type Scheduler struct {
	Store     store.Store
	Workflows WorkflowStore
	Policies  *policy.Manager
	Bus       Emitter
}

// Schedule computes scheduledFor = completedAt + policy.ZombieCheckIntervalDays,
// persists a SCHEDULED record, and indexes it by workflow id.
func (s *Scheduler) Schedule(ctx context.Context, workflowID string, completedAt time.Time) error {
	wf, err := s.Workflows.Load(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("zombie: load workflow: %w", err)
	}
	pol := s.resolvePolicy(ctx, wf)

	systems := make([]string, len(policy.AllSystems))
	for i, sys := range policy.AllSystems {
		systems[i] = string(sys)
	}

	rec := Schedule{
		ScheduleID:     uuid.NewString(),
		WorkflowID:     workflowID,
		Users:          wf.Users,
		Jurisdiction:   wf.Jurisdiction,
		SystemsToCheck: systems,
		ScheduledFor:   completedAt.AddDate(0, 0, pol.ZombieCheckIntervalDays),
		Status:         StatusScheduled,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("zombie: marshal schedule: %w", err)
	}
	if err := s.Store.Set(ctx, store.NSZombieSchedules, rec.ScheduleID, raw); err != nil {
		return fmt.Errorf("zombie: persist schedule: %w", err)
	}
	if err := s.Store.Set(ctx, store.NSZombieChecksByWorkflow, workflowID, []byte(rec.ScheduleID)); err != nil {
		return fmt.Errorf("zombie: index schedule: %w", err)
	}

	return s.emitEncoded(ctx, topics.ZombieCheckScheduled, topics.ZombieCheckScheduledPayload{
		WorkflowID: workflowID, ScheduleID: rec.ScheduleID,
	})
}

func (s *Scheduler) resolvePolicy(ctx context.Context, wf *workflow.Workflow) policy.Policy {
	if app, found, err := s.Policies.GetPolicyApplication(ctx, wf.WorkflowID); err == nil && found {
		return app.Policy
	}
	return s.Policies.GetPolicyForJurisdiction(wf.Jurisdiction)
}

func (s *Scheduler) emitEncoded(ctx context.Context, topic string, payload interface{}) error {
	if s.Bus == nil {
		return nil
	}
	data, err := topics.Encode(payload)
	if err != nil {
		return err
	}
	return s.Bus.Emit(ctx, topic, data)
}
