package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/policy"
	"github.com/dshills/erasureflow-go/pkg/topics"
	"github.com/dshills/erasureflow-go/pkg/workflow"
)

// MetricsRecorder is the narrow slice of internal/metrics.Collector the
// checkpoint validator reports into.
type MetricsRecorder interface {
	RecordCheckpointResult(phase, result string)
}

// stepProgress is one step's contribution to a phase's join point.
type stepProgress struct {
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completedAt"`
}

// phaseProgress is the accumulated join-point state for one workflow/phase
// pair, persisted under store.CheckpointNamespace(workflowID) keyed by
// phase name.
type phaseProgress struct {
	Steps map[string]stepProgress `json:"steps"`
}

// CheckpointValidator implements spec.md §4.8: the join point that
// accumulates per-step completion records and, once a phase's required
// system set is fully accounted for, decides whether to advance the
// workflow and what status to stamp on it.
//
// Background has no system set of its own in this design: spec.md §4.9's
// parallel orchestrator fires every non-critical system (both the
// priority-3/4 "parallel" set and the priority-5 "background" set) from a
// single parallel-deletion-trigger, so the parallel-deletion checkpoint's
// required set covers both, and PhaseBackground is advanced through
// transparently the moment that checkpoint closes rather than gated by a
// checkpoint of its own.
type CheckpointValidator struct {
	Store     store.Store
	Workflows WorkflowStore
	Policies  *policy.Manager
	Bus       Emitter
	Metrics   MetricsRecorder

	Logger *zap.SugaredLogger
}

// Handle is the bus.Handler for topics.CheckpointValidation.
func (v *CheckpointValidator) Handle(ctx context.Context, evt bus.Event) error {
	var payload topics.CheckpointValidationPayload
	if err := topics.Decode(evt.Data, &payload); err != nil {
		return err
	}
	if payload.WorkflowID == "" || payload.StepName == "" {
		return fmt.Errorf("checkpoint: missing workflowId or stepName")
	}

	progress, err := v.loadProgress(ctx, payload.WorkflowID, payload.Phase)
	if err != nil {
		return err
	}
	mergeStep(progress, payload.StepName, payload.Status)
	if err := v.saveProgress(ctx, payload.WorkflowID, payload.Phase, progress); err != nil {
		return err
	}

	wf, err := v.Workflows.Load(ctx, payload.WorkflowID)
	if err != nil {
		return err
	}
	if wf.Cancelled {
		return nil
	}
	if string(wf.Phase) != payload.Phase {
		// The phase has already advanced past this event (a late-arriving
		// duplicate, or a step whose retry outlived the checkpoint): the
		// record above is kept for the audit/certificate trail, but it must
		// not re-trigger a transition (spec.md §4.8 tie-break rule).
		return nil
	}

	pol, err := v.resolvePolicy(ctx, wf)
	if err != nil {
		return err
	}
	required := requiredSystems(pol, wf.Phase)
	if len(required) == 0 {
		return nil
	}

	var validated, failed []string
	for _, sys := range required {
		rec, ok := progress.Steps[string(sys)]
		if !ok {
			return nil // not yet complete
		}
		if rec.Status == string(workflow.StepFailed) {
			failed = append(failed, string(sys))
		} else {
			validated = append(validated, string(sys))
		}
	}

	status := workflow.CheckpointPassed
	resultTopic := topics.CheckpointPassed
	eventType := "CHECKPOINT_PASSED"
	if len(failed) > 0 {
		status = workflow.CheckpointFailed
		resultTopic = topics.CheckpointFailed
		eventType = "CHECKPOINT_FAILED"
	}

	if _, err := v.Workflows.RecordCheckpoint(ctx, wf.WorkflowID, wf.Phase, workflow.CheckpointRecord{
		Status:         status,
		ValidatedSteps: validated,
		FailedSteps:    failed,
		Timestamp:      time.Now().UTC(),
	}); err != nil {
		return err
	}
	if v.Metrics != nil {
		v.Metrics.RecordCheckpointResult(string(wf.Phase), string(status))
	}
	if err := v.emitEncoded(ctx, resultTopic, topics.CheckpointResultPayload{
		WorkflowID: wf.WorkflowID, Phase: string(wf.Phase), Validated: validated, Failed: failed,
	}); err != nil {
		return err
	}
	if err := v.emitEncoded(ctx, topics.AuditLog, topics.AuditLogPayload{
		WorkflowID: wf.WorkflowID, EventType: eventType,
		Data: map[string]interface{}{"phase": wf.Phase, "validatedSteps": validated, "failedSteps": failed},
	}); err != nil {
		return err
	}

	return v.advance(ctx, wf, status)
}

// advance performs the phase-transition side effects once a checkpoint has
// closed, per spec.md §4.8 step 3 as resolved by the pinned Open Question:
// a failed checkpoint still advances the phase, it only changes the
// resulting workflow status.
func (v *CheckpointValidator) advance(ctx context.Context, wf *workflow.Workflow, status workflow.CheckpointStatus) error {
	switch wf.Phase {
	case workflow.PhaseIdentityCritical:
		if _, err := v.Workflows.SetIdentityCriticalCompleted(ctx, wf.WorkflowID); err != nil {
			return err
		}
		if _, err := v.Workflows.AdvancePhase(ctx, wf.WorkflowID, workflow.PhaseParallelDeletion); err != nil {
			return err
		}
		if status == workflow.CheckpointFailed {
			if _, err := v.Workflows.SetStatus(ctx, wf.WorkflowID, workflow.StatusAwaitingManualReview); err != nil {
				return err
			}
		}
		pol, err := v.resolvePolicy(ctx, wf)
		if err != nil {
			return err
		}
		nonCritical := append(append([]policy.System{}, pol.ParallelSystems()...), pol.BackgroundSystems()...)
		systems := make([]string, len(nonCritical))
		for i, s := range nonCritical {
			systems[i] = string(s)
		}
		return v.emitEncoded(ctx, topics.ParallelDeletionTrigger, topics.ParallelDeletionTriggerPayload{
			WorkflowID: wf.WorkflowID, Systems: systems,
		})

	case workflow.PhaseParallelDeletion:
		if _, err := v.Workflows.AdvancePhase(ctx, wf.WorkflowID, workflow.PhaseBackground); err != nil {
			return err
		}
		if _, err := v.Workflows.AdvancePhase(ctx, wf.WorkflowID, workflow.PhaseCompleted); err != nil {
			return err
		}
		finalStatus := workflow.StatusCompleted
		if status == workflow.CheckpointFailed {
			finalStatus = workflow.StatusCompletedWithExceptions
		}
		if _, err := v.Workflows.SetStatus(ctx, wf.WorkflowID, finalStatus); err != nil {
			return err
		}
		// The user lock is held only while the workflow is active; releasing
		// it lets a later request for the same user start a new workflow.
		lockKey := "user:" + wf.Users.UserID
		if raw, found, err := v.Store.Get(ctx, store.NSUserLock, lockKey); err != nil {
			return fmt.Errorf("checkpoint: read user lock: %w", err)
		} else if found && string(raw) == wf.WorkflowID {
			if err := v.Store.Delete(ctx, store.NSUserLock, lockKey); err != nil {
				return fmt.Errorf("checkpoint: release user lock: %w", err)
			}
		}
		return v.emitEncoded(ctx, topics.WorkflowCompleted, topics.WorkflowCompletedPayload{WorkflowID: wf.WorkflowID})
	}
	return nil
}

func (v *CheckpointValidator) resolvePolicy(ctx context.Context, wf *workflow.Workflow) (policy.Policy, error) {
	app, found, err := v.Policies.GetPolicyApplication(ctx, wf.WorkflowID)
	if err != nil {
		return policy.Policy{}, err
	}
	if found {
		return app.Policy, nil
	}
	return v.Policies.GetPolicyForJurisdiction(wf.Jurisdiction), nil
}

func requiredSystems(p policy.Policy, phase workflow.Phase) []policy.System {
	switch phase {
	case workflow.PhaseIdentityCritical:
		return p.IdentityCriticalSystems()
	case workflow.PhaseParallelDeletion:
		return append(append([]policy.System{}, p.ParallelSystems()...), p.BackgroundSystems()...)
	default:
		return nil
	}
}

// mergeStep applies newStatus to progress for stepName, honoring the rule
// that a later DELETED does not overwrite a prior FAILED for the same
// attempt (spec.md §4.8 step 1).
func mergeStep(progress *phaseProgress, stepName, newStatus string) {
	existing, ok := progress.Steps[stepName]
	if ok && existing.Status == string(workflow.StepFailed) && newStatus == string(workflow.StepDeleted) {
		return
	}
	progress.Steps[stepName] = stepProgress{Status: newStatus, CompletedAt: time.Now().UTC()}
}

func (v *CheckpointValidator) loadProgress(ctx context.Context, workflowID, phase string) (*phaseProgress, error) {
	raw, found, err := v.Store.Get(ctx, store.CheckpointNamespace(workflowID), phase)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load progress: %w", err)
	}
	if !found {
		return &phaseProgress{Steps: make(map[string]stepProgress)}, nil
	}
	var p phaseProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal progress: %w", err)
	}
	if p.Steps == nil {
		p.Steps = make(map[string]stepProgress)
	}
	return &p, nil
}

func (v *CheckpointValidator) saveProgress(ctx context.Context, workflowID, phase string, p *phaseProgress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal progress: %w", err)
	}
	if err := v.Store.Set(ctx, store.CheckpointNamespace(workflowID), phase, raw); err != nil {
		return fmt.Errorf("checkpoint: save progress: %w", err)
	}
	return nil
}

func (v *CheckpointValidator) emitEncoded(ctx context.Context, topic string, payload interface{}) error {
	data, err := topics.Encode(payload)
	if err != nil {
		return err
	}
	return v.Bus.Emit(ctx, topic, data)
}
