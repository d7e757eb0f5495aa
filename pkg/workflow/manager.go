package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/erasureflow-go/internal/cryptoutil"
	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/audit"
	"github.com/dshills/erasureflow-go/pkg/errs"
	"github.com/dshills/erasureflow-go/pkg/policy"
)

// Emitter publishes a topic event. Implemented by internal/bus.Dispatcher;
// declared narrowly here so pkg/workflow doesn't import internal/bus.
type Emitter interface {
	Emit(ctx context.Context, topic string, data map[string]interface{}) error
}

// CreateRequest is the input to CreateWorkflow.
type CreateRequest struct {
	Users        UserIdentifiers
	Jurisdiction policy.Jurisdiction
	RequestedBy  string
	LegalProof   string
}

// Manager creates, loads, and transactionally updates workflows.
type Manager struct {
	st       store.Store
	policies *policy.Manager
	trail    *audit.Trail
	emitter  Emitter
}

// NewManager constructs a workflow Manager.
func NewManager(st store.Store, policies *policy.Manager, trail *audit.Trail, emitter Emitter) *Manager {
	return &Manager{st: st, policies: policies, trail: trail, emitter: emitter}
}

// requestHash computes SHA-256 over the canonical serialization of
// (userIdentifiers, legalProof, jurisdiction), per spec.md §3.
func requestHash(req CreateRequest) (string, error) {
	canon, err := cryptoutil.Canonicalize(map[string]interface{}{
		"users":        req.Users,
		"legalProof":   req.LegalProof,
		"jurisdiction": req.Jurisdiction,
	})
	if err != nil {
		return "", fmt.Errorf("workflow: canonicalize request: %w", err)
	}
	return cryptoutil.Hash(canon), nil
}

// CreateWorkflow implements spec.md §4.4's createWorkflow: dedupe by
// request hash, dedupe by user lock, snapshot policy, persist, append
// WORKFLOW_CREATED, emit workflow-created.
func (m *Manager) CreateWorkflow(ctx context.Context, req CreateRequest) (*Workflow, error) {
	if req.Users.UserID == "" {
		return nil, errs.Validation("MISSING_USER_ID", "userId is required")
	}

	reqHash, err := requestHash(req)
	if err != nil {
		return nil, err
	}

	// Step 1: request-hash dedupe.
	if raw, found, err := m.st.Get(ctx, store.NSRequest, reqHash); err != nil {
		return nil, fmt.Errorf("workflow: lookup request hash: %w", err)
	} else if found {
		existing, err := m.Load(ctx, string(raw))
		if err != nil {
			return nil, err
		}
		return existing, nil
	}

	// Step 2: user-lock dedupe. CheckAndSet only succeeds if no lock exists.
	workflowID := uuid.NewString()
	lockKey := "user:" + req.Users.UserID
	acquired, err := m.st.CheckAndSet(ctx, store.NSUserLock, lockKey, false, nil, []byte(workflowID))
	if err != nil {
		return nil, fmt.Errorf("workflow: acquire user lock: %w", err)
	}
	if !acquired {
		raw, found, err := m.st.Get(ctx, store.NSUserLock, lockKey)
		if err != nil {
			return nil, fmt.Errorf("workflow: read user lock: %w", err)
		}
		if found {
			existing, err := m.Load(ctx, string(raw))
			if err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	// Step 3: resolve and snapshot policy.
	p := m.policies.GetPolicyForJurisdiction(req.Jurisdiction)
	now := time.Now().UTC()
	if err := m.policies.RecordPolicyApplication(ctx, workflowID, p, now); err != nil {
		return nil, err
	}

	// Step 4: construct and persist the initial record.
	wf := &Workflow{
		WorkflowID:    workflowID,
		RequestID:     reqHash,
		Users:         req.Users,
		Jurisdiction:  req.Jurisdiction,
		RequestedBy:   req.RequestedBy,
		LegalProof:    req.LegalProof,
		PolicyVersion: p.Version,
		Phase:         PhaseCreated,
		Status:        StatusInProgress,
		CreatedAt:     now,
		UpdatedAt:     now,
		Steps:         make(map[string]StepRecord),
		Checkpoints:   make(map[Phase]CheckpointRecord),
	}
	if err := m.save(ctx, wf); err != nil {
		return nil, err
	}
	if err := m.st.Set(ctx, store.NSRequest, reqHash, []byte(workflowID)); err != nil {
		return nil, fmt.Errorf("workflow: index request hash: %w", err)
	}

	// Step 5: initialize and append to the audit trail.
	if err := m.trail.Init(ctx, workflowID, now); err != nil {
		return nil, err
	}
	if _, err := m.trail.Append(ctx, workflowID, now, audit.Event{
		EventType: audit.EventWorkflowCreated,
		Data: map[string]interface{}{
			"userId":       req.Users.UserID,
			"jurisdiction": req.Jurisdiction,
			"requestHash":  reqHash,
		},
	}); err != nil {
		return nil, err
	}

	// Step 6: emit workflow-created.
	if m.emitter != nil {
		if err := m.emitter.Emit(ctx, "workflow-created", map[string]interface{}{
			"workflowId": workflowID,
		}); err != nil {
			return nil, fmt.Errorf("workflow: emit workflow-created: %w", err)
		}
	}

	return wf, nil
}

// Load retrieves a workflow by id.
func (m *Manager) Load(ctx context.Context, workflowID string) (*Workflow, error) {
	raw, found, err := m.st.Get(ctx, store.NSWorkflow, workflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow: load: %w", err)
	}
	if !found {
		return nil, errs.WorkflowState("NOT_FOUND", "workflow "+workflowID+" does not exist")
	}
	var wf Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("workflow: unmarshal: %w", err)
	}
	return &wf, nil
}

func (m *Manager) save(ctx context.Context, wf *Workflow) error {
	raw, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("workflow: marshal: %w", err)
	}
	if err := m.st.Set(ctx, store.NSWorkflow, wf.WorkflowID, raw); err != nil {
		return fmt.Errorf("workflow: save: %w", err)
	}
	return nil
}

// StepPatch is a partial update applied to one step record.
type StepPatch struct {
	Status      *StepStatus
	AttemptsSet *int
	Evidence    *Evidence
	HoldReason  string
	HoldExpiry  time.Time
}

// UpdateStep applies patch to workflowID's stepName record as a
// transactional read-modify-write (spec.md §4.4). Callers must not
// interleave updates to the same workflow without serialization — the
// dispatcher's per-workflow affinity (internal/bus) provides that.
func (m *Manager) UpdateStep(ctx context.Context, workflowID, stepName string, patch StepPatch) (*Workflow, error) {
	wf, err := m.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.IsTerminal() {
		return nil, errs.WorkflowStatef("ALREADY_TERMINAL", "workflow %s is already in terminal status %s", workflowID, wf.Status)
	}

	rec := wf.Steps[stepName]
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.AttemptsSet != nil {
		rec.Attempts = *patch.AttemptsSet
	}
	if patch.Evidence != nil {
		// Receipt idempotence (spec.md §8 invariant 6): once a receipt is
		// set, further writes of the same evidence are silent no-ops; a
		// different receipt for an already-DELETED step is refused rather
		// than overwritten, since a step is terminal once DELETED.
		if rec.Evidence.Receipt == "" {
			rec.Evidence = *patch.Evidence
		} else if rec.Evidence.Receipt != patch.Evidence.Receipt {
			return nil, errs.WorkflowStatef("RECEIPT_IMMUTABLE", "step %s already has receipt %q", stepName, rec.Evidence.Receipt)
		}
	}
	if patch.HoldReason != "" {
		rec.HoldReason = patch.HoldReason
		rec.HoldExpiry = patch.HoldExpiry
	}
	wf.Steps[stepName] = rec
	wf.UpdatedAt = time.Now().UTC()

	if err := m.save(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// RecordCheckpoint transactionally records phase's checkpoint result. It
// does not advance the workflow's phase; AdvancePhase does that.
func (m *Manager) RecordCheckpoint(ctx context.Context, workflowID string, phase Phase, result CheckpointRecord) (*Workflow, error) {
	wf, err := m.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.IsTerminal() {
		return nil, errs.WorkflowStatef("ALREADY_TERMINAL", "workflow %s is already in terminal status %s", workflowID, wf.Status)
	}
	wf.Checkpoints[phase] = result
	wf.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// AdvancePhase transactionally advances wf to next, failing if the
// transition isn't the single legal next step (spec.md §8 invariant 1).
func (m *Manager) AdvancePhase(ctx context.Context, workflowID string, next Phase) (*Workflow, error) {
	wf, err := m.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.CanAdvanceTo(next) {
		return nil, errs.WorkflowStatef("ILLEGAL_PHASE_TRANSITION", "workflow %s cannot advance from %s to %s", workflowID, wf.Phase, next)
	}
	wf.Phase = next
	wf.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// SetStatus transactionally updates wf's overall status.
func (m *Manager) SetStatus(ctx context.Context, workflowID string, status Status) (*Workflow, error) {
	wf, err := m.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	wf.Status = status
	wf.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// SetIdentityCriticalCompleted marks the workflow's identity-critical
// phase as fully satisfied, unblocking parallel-deletion triggers.
func (m *Manager) SetIdentityCriticalCompleted(ctx context.Context, workflowID string) (*Workflow, error) {
	wf, err := m.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	wf.IdentityCriticalCompleted = true
	wf.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// CreatedAt returns workflowID's creation timestamp, satisfying
// pkg/audit.WorkflowCreatedAtLookup so the audit sink can recompute a
// chain's genesis hash without importing this package.
func (m *Manager) CreatedAt(ctx context.Context, workflowID string) (time.Time, error) {
	wf, err := m.Load(ctx, workflowID)
	if err != nil {
		return time.Time{}, err
	}
	return wf.CreatedAt, nil
}

// Cancel marks workflowID cancelled. Workers observing a cancelled
// workflow drop pending events for it (spec.md §4.5).
func (m *Manager) Cancel(ctx context.Context, workflowID string) (*Workflow, error) {
	wf, err := m.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Cancelled {
		return wf, nil
	}
	wf.Cancelled = true
	wf.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}
