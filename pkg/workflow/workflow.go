// Package workflow implements the erasure workflow aggregate (spec.md §3)
// and its state manager: creation with idempotency-key/user-lock dedupe,
// transactional step/checkpoint updates, and phase transition validation.
//
// Grounded on the teacher's graph/state.go Reducer/merge-delta pattern for
// read-modify-write state updates, and on the teacher's
// CheckIdempotency/idempotency-key convention (graph/store/store.go) for
// the request-hash dedupe and receipt idempotence invariants.
package workflow

import (
	"time"

	"github.com/dshills/erasureflow-go/pkg/policy"
)

// Phase is a workflow's position in the fixed deletion pipeline. Phases
// only ever advance along this order (spec.md §8 invariant 1).
type Phase string

const (
	PhaseCreated           Phase = "created"
	PhaseIdentityCritical  Phase = "identity-critical"
	PhaseParallelDeletion  Phase = "parallel-deletion"
	PhaseBackground        Phase = "background"
	PhaseCompleted         Phase = "completed"
)

// phaseOrder fixes the legal advancement sequence; Workflow.CanAdvanceTo
// checks against it.
var phaseOrder = []Phase{PhaseCreated, PhaseIdentityCritical, PhaseParallelDeletion, PhaseBackground, PhaseCompleted}

func phaseIndex(p Phase) int {
	for i, ph := range phaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// Status is a workflow's overall outcome state.
type Status string

const (
	StatusInProgress            Status = "IN_PROGRESS"
	StatusAwaitingManualReview  Status = "AWAITING_MANUAL_REVIEW"
	StatusCompleted             Status = "COMPLETED"
	StatusCompletedWithExceptions Status = "COMPLETED_WITH_EXCEPTIONS"
	StatusFailed                Status = "FAILED"
)

// terminalStatuses are statuses a workflow cannot leave once entered.
var terminalStatuses = map[Status]bool{
	StatusCompleted:               true,
	StatusCompletedWithExceptions: true,
	StatusFailed:                  true,
}

// StepStatus is a step record's lifecycle state.
type StepStatus string

const (
	StepNotStarted StepStatus = "NOT_STARTED"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepDeleted    StepStatus = "DELETED"
	StepFailed     StepStatus = "FAILED"
	StepLegalHold  StepStatus = "LEGAL_HOLD"
)

// Evidence is the proof a step executor records on completion.
type Evidence struct {
	Receipt     string    `json:"receipt,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	APIResponse string    `json:"apiResponse,omitempty"`
}

// StepRecord tracks one external system's deletion progress within a workflow.
type StepRecord struct {
	Status   StepStatus `json:"status"`
	Attempts int        `json:"attempts"`
	Evidence Evidence   `json:"evidence"`

	// HoldReason/HoldExpiry are populated when Status == StepLegalHold.
	HoldReason string    `json:"holdReason,omitempty"`
	HoldExpiry time.Time `json:"holdExpiry,omitempty"`
}

// CheckpointStatus is a phase checkpoint's join-point outcome.
type CheckpointStatus string

const (
	CheckpointPassed CheckpointStatus = "PASSED"
	CheckpointFailed CheckpointStatus = "FAILED"
)

// CheckpointRecord is the join-point record for one phase.
type CheckpointRecord struct {
	Status         CheckpointStatus `json:"status"`
	ValidatedSteps []string         `json:"validatedSteps"`
	FailedSteps    []string         `json:"failedSteps"`
	Timestamp      time.Time        `json:"timestamp"`
}

// UserIdentifiers identifies the data subject an erasure request targets.
type UserIdentifiers struct {
	UserID  string   `json:"userId"`
	Emails  []string `json:"emails,omitempty"`
	Phones  []string `json:"phones,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

// Workflow is the primary aggregate: one erasure request's full state.
type Workflow struct {
	WorkflowID  string          `json:"workflowId"`
	RequestID   string          `json:"requestId"`
	Users       UserIdentifiers `json:"users"`
	Jurisdiction policy.Jurisdiction `json:"jurisdiction"`
	RequestedBy string          `json:"requestedBy"`
	LegalProof  string          `json:"legalProof"`
	PolicyVersion string        `json:"policyVersion"`

	Phase  Phase  `json:"phase"`
	Status Status `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	IdentityCriticalCompleted bool `json:"identityCriticalCompleted"`

	Steps       map[string]StepRecord       `json:"steps"`
	Checkpoints map[Phase]CheckpointRecord `json:"checkpoints"`

	// Cancelled marks a workflow-level cancel (spec.md §4.5, §5).
	Cancelled bool `json:"cancelled"`

	// DataLineage is an opaque snapshot of upstream data-lineage metadata,
	// passed through unmodified — the orchestrator never interprets it.
	DataLineage map[string]interface{} `json:"dataLineage,omitempty"`
}

// CanAdvanceTo reports whether transitioning from w's current phase to
// next is legal: strictly the next phase in phaseOrder (spec.md §8
// invariant 1 — phase monotonicity).
func (w *Workflow) CanAdvanceTo(next Phase) bool {
	cur := phaseIndex(w.Phase)
	tgt := phaseIndex(next)
	return cur >= 0 && tgt == cur+1
}

// IsTerminal reports whether w's status cannot change further without an
// explicit manual override.
func (w *Workflow) IsTerminal() bool {
	return terminalStatuses[w.Status]
}
