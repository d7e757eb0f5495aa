// Package topics names every event topic on the internal bus (spec.md
// §6) and gives each one a fixed Go struct schema plus Encode/Decode
// helpers, so handlers never probe a duck-typed map[string]interface{}
// for optional fields.
//
// Grounded on SPEC_FULL.md's DESIGN NOTES redesign directive: "Reshape as
// tagged variants: each event topic has a fixed record schema; the
// dispatcher routes by topic tag, not by probing fields." internal/bus
// keeps Event.Data as map[string]interface{} (so the dispatcher itself
// stays payload-agnostic, matching the teacher's topology-agnostic
// scheduler), and this package is the single seam where every producer
// and consumer agrees on what a topic's map actually contains.
package topics

import (
	"encoding/json"
	"fmt"

	"github.com/dshills/erasureflow-go/pkg/workflow"
)

// Topic name constants, matching spec.md §6's event topic list exactly.
const (
	WorkflowCreated         = "workflow-created"
	StripeDeletion          = "stripe-deletion"
	DatabaseDeletion        = "database-deletion"
	IntercomDeletion        = "intercom-deletion"
	SendgridDeletion        = "sendgrid-deletion"
	CRMDeletion             = "crm-deletion"
	AnalyticsDeletion       = "analytics-deletion"
	StepCompleted           = "step-completed"
	StepFailed              = "step-failed"
	ParallelStepCompleted   = "parallel-step-completed"
	CheckpointValidation    = "checkpoint-validation"
	CheckpointPassed        = "checkpoint-passed"
	CheckpointFailed        = "checkpoint-failed"
	ParallelDeletionTrigger = "parallel-deletion-trigger"
	WorkflowCompleted       = "workflow-completed"
	ZombieCheckScheduled    = "zombie-check-scheduled"
	ZombieCheckCompleted    = "zombie-check-completed"
	ZombieDataDetected      = "zombie-data-detected"
	CreateErasureRequest    = "create-erasure-request"
	AuditLog                = "audit-log"
	CompletionNotification  = "completion-notification"
	LegalHoldExpired        = "legal-hold-expired"
)

// StepTopics maps each fixed external system to the topic its step
// executor subscribes to (spec.md §4.6).
var StepTopics = map[string]string{
	"stripe":    StripeDeletion,
	"database":  DatabaseDeletion,
	"intercom":  IntercomDeletion,
	"sendgrid":  SendgridDeletion,
	"crm":       CRMDeletion,
	"analytics": AnalyticsDeletion,
}

// Encode converts v (one of this package's payload structs) into the
// map[string]interface{} bus.Event.Data expects, via a JSON round trip —
// the same generic-marshal approach internal/cryptoutil.Canonicalize uses
// for canonicalization.
func Encode(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("topics: encode: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("topics: encode: %w", err)
	}
	return m, nil
}

// Decode populates out (a pointer to one of this package's payload
// structs) from a bus.Event.Data map.
func Decode(data map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("topics: decode: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("topics: decode: %w", err)
	}
	return nil
}

// WorkflowCreatedPayload is workflow-created's schema.
type WorkflowCreatedPayload struct {
	WorkflowID string `json:"workflowId"`
}

// StepPayload is every *-deletion topic's schema (spec.md §4.6 step 1:
// "Parse input {workflowId, userIdentifiers, stepName, attempt} (lenient —
// reject only on missing required fields)").
type StepPayload struct {
	WorkflowID string                    `json:"workflowId"`
	StepName   string                    `json:"stepName"`
	System     string                    `json:"system"`
	Attempt    int                       `json:"attempt"`
	Users      workflow.UserIdentifiers `json:"userIdentifiers"`
}

// StepCompletedPayload is step-completed's and parallel-step-completed's
// schema.
type StepCompletedPayload struct {
	WorkflowID  string `json:"workflowId"`
	StepName    string `json:"stepName"`
	System      string `json:"system"`
	Receipt     string `json:"receipt"`
	APIResponse string `json:"apiResponse"`
	Attempts    int    `json:"attempts"`
}

// StepFailedPayload is step-failed's schema.
type StepFailedPayload struct {
	WorkflowID string `json:"workflowId"`
	StepName   string `json:"stepName"`
	System     string `json:"system"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
}

// CheckpointValidationPayload is checkpoint-validation's schema — one
// step's completion report to the checkpoint validator (spec.md §4.8).
type CheckpointValidationPayload struct {
	WorkflowID string `json:"workflowId"`
	Phase      string `json:"phase"`
	StepName   string `json:"stepName"`
	Status     string `json:"status"`
}

// CheckpointResultPayload is checkpoint-passed's and checkpoint-failed's
// schema.
type CheckpointResultPayload struct {
	WorkflowID string   `json:"workflowId"`
	Phase      string   `json:"phase"`
	Validated  []string `json:"validatedSteps,omitempty"`
	Failed     []string `json:"failedSteps,omitempty"`
}

// ParallelDeletionTriggerPayload is parallel-deletion-trigger's schema.
type ParallelDeletionTriggerPayload struct {
	WorkflowID string   `json:"workflowId"`
	Systems    []string `json:"systems"`
}

// WorkflowCompletedPayload is workflow-completed's schema.
type WorkflowCompletedPayload struct {
	WorkflowID string `json:"workflowId"`
}

// AuditLogPayload is audit-log's schema — the seam through which the bus
// handlers append to the hash-chained trail (spec.md §4.3).
type AuditLogPayload struct {
	WorkflowID string                 `json:"workflowId"`
	EventType  string                 `json:"eventType"`
	Data       map[string]interface{} `json:"data"`
}

// ZombieCheckScheduledPayload is zombie-check-scheduled's schema.
type ZombieCheckScheduledPayload struct {
	WorkflowID string `json:"workflowId"`
	ScheduleID string `json:"scheduleId"`
}

// ZombieCheckCompletedPayload is zombie-check-completed's schema.
type ZombieCheckCompletedPayload struct {
	WorkflowID string   `json:"workflowId"`
	ScheduleID string   `json:"scheduleId"`
	Detected   bool     `json:"zombieDataDetected"`
	Sources    []string `json:"zombieDataSources,omitempty"`
}

// ZombieDataDetectedPayload is zombie-data-detected's schema.
type ZombieDataDetectedPayload struct {
	WorkflowID     string   `json:"workflowId"`
	Sources        []string `json:"zombieDataSources"`
	Severity       string   `json:"severity"`
	AlertLegalTeam bool     `json:"alertLegalTeam"`
}

// CreateErasureRequestPayload is create-erasure-request's schema — the
// remediation-workflow spawn spec.md §4.11 describes.
type CreateErasureRequestPayload struct {
	Users              workflow.UserIdentifiers `json:"userIdentifiers"`
	Jurisdiction       string                    `json:"jurisdiction"`
	RequestedBy        string                    `json:"requestedBy"`
	LegalProof         string                    `json:"legalProof"`
	Reason             string                    `json:"reason"`
	OriginalWorkflowID string                    `json:"originalWorkflowId"`
}

// CompletionNotificationPayload is completion-notification's schema.
type CompletionNotificationPayload struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
}

// LegalHoldExpiredPayload is legal-hold-expired's schema.
type LegalHoldExpiredPayload struct {
	WorkflowID string `json:"workflowId"`
	StepName   string `json:"stepName"`
	ExpiredAt  string `json:"expiredAt"`
}
