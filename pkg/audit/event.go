// Package audit implements the append-only, hash-chained per-workflow
// event log (spec.md §4.3) and its integrity verification.
//
// Grounded on other_examples/ed35965a_Mike-Gemutly-ArmorClaw's
// audit.ComplianceEntry{PreviousHash,EntryHash} hash-chain shape and
// other_examples/6f7cf296_HarshaReddyVardhan-banking-audit-compliance's
// domain.AuditEvent (uuid-keyed, typed EventType, timestamped). Replay is
// grounded on the teacher's CheckpointV2/ResumeFromCheckpoint machinery,
// repurposed as audit-trail reconstruction rather than execution resume.
package audit

import "time"

// EventType enumerates every audit event kind spec.md §4.3 names.
type EventType string

const (
	EventWorkflowCreated       EventType = "WORKFLOW_CREATED"
	EventStepStarted           EventType = "STEP_STARTED"
	EventStepCompleted         EventType = "STEP_COMPLETED"
	EventStepFailed            EventType = "STEP_FAILED"
	EventStateUpdated          EventType = "STATE_UPDATED"
	EventCheckpointPassed      EventType = "CHECKPOINT_PASSED"
	EventCheckpointFailed      EventType = "CHECKPOINT_FAILED"
	EventCertificateGenerated EventType = "CERTIFICATE_GENERATED"
	EventZombieCheckScheduled  EventType = "ZOMBIE_CHECK_SCHEDULED"
	EventZombieCheckCompleted  EventType = "ZOMBIE_CHECK_COMPLETED"
	EventZombieCheckFailed     EventType = "ZOMBIE_CHECK_FAILED"
	EventIdentityCriticalPhaseStarted EventType = "IDENTITY_CRITICAL_PHASE_STARTED"
)

// Event is one audit record prior to chaining. EventID is assigned by the
// trail on append; Data carries event-specific fields (step name, status,
// receipt, ...) and Metadata carries cross-cutting context (actor,
// correlation id) that isn't part of the event's semantic payload.
type Event struct {
	EventID    string                 `json:"eventId"`
	WorkflowID string                 `json:"workflowId"`
	EventType  EventType              `json:"eventType"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Entry is an Event bound into the hash chain.
type Entry struct {
	Event        Event  `json:"event"`
	Hash         string `json:"hash"`
	PreviousHash string `json:"previousHash"`
}
