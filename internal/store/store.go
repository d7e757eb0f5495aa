// Package store implements the namespaced key-value persistence contract
// components depend on: get/set/delete/getGroup/keys over isolated
// namespaces (workflow, request, certificate, audit_trails,
// zombie_check_schedules, zombie_checks_by_workflow, policy_applications,
// system_data, per-workflow checkpoints).
//
// Grounded on the teacher's graph/store.Store[S] interface shape
// (SaveStep/LoadLatest/CheckIdempotency/PendingEvents/MarkEventsEmitted)
// but reshaped from a typed-state-snapshot store into the raw
// namespaced-bytes store the spec's component design calls for; callers
// marshal their own records. The durability, last-writer-wins, and
// read-your-writes contracts below mirror the teacher's doc comments on
// Store[S].
package store

import (
	"context"
	"errors"
)

// ErrNotFound is a sentinel for a missing namespace/key pair. The backends in
// this package do not return it: Get reports a missing key as found == false
// with a nil error.
var ErrNotFound = errors.New("store: not found")

// Store is the namespaced key-value abstraction every component persists
// through. Namespaces isolate unrelated record families so callers never
// need to prefix keys themselves.
//
// Implementations MUST make writes durable before Set/Delete return, MUST
// treat Set as last-writer-wins within a namespace+key, and MUST guarantee
// that a reader observing one of a caller's writes also observes every
// earlier write the same caller made to the same key (read-your-writes).
// Implementations MAY batch underlying I/O but not at the cost of those
// guarantees.
type Store interface {
	// Get retrieves the raw value for ns/key. found is false and err is nil
	// when the key does not exist.
	Get(ctx context.Context, ns, key string) (value []byte, found bool, err error)

	// Set durably stores value under ns/key, replacing any existing value.
	Set(ctx context.Context, ns, key string, value []byte) error

	// Delete removes ns/key. Deleting a missing key is not an error.
	Delete(ctx context.Context, ns, key string) error

	// GetGroup returns every value currently stored in ns, in unspecified order.
	GetGroup(ctx context.Context, ns string) ([][]byte, error)

	// Keys returns every key in ns whose name has the given prefix ("" matches all).
	Keys(ctx context.Context, ns, prefix string) ([]string, error)

	// CheckAndSet atomically checks whether ns/key's current value compares
	// equal to expectFound/expect, and if so, writes newValue and returns
	// true. It returns false (without error) on a mismatch, giving callers
	// compare-and-swap semantics for records such as the user lock and
	// idempotency keys without needing a separate locking primitive.
	CheckAndSet(ctx context.Context, ns, key string, expectFound bool, expect, newValue []byte) (bool, error)

	// Close releases any resources held by the store (connections, files).
	Close() error
}

// Well-known namespaces, matching spec §6's persistence layout.
const (
	NSWorkflow               = "workflow"
	NSRequest                = "request"
	NSCertificate            = "certificate"
	NSAuditTrails            = "audit_trails"
	NSZombieSchedules        = "zombie_check_schedules"
	NSZombieChecksByWorkflow = "zombie_checks_by_workflow"
	NSPolicyApplications     = "policy_applications"
	NSSystemData             = "system_data"
	NSUserLock               = "user_lock"
	NSLegalHold              = "legal_hold"

	// NSMonitoringOutbox is the transactional outbox pkg/monitoring.FanOut
	// stages records in before they're durably mirrored into one of the
	// three stream namespaces below — so a crash between "decided which
	// stream" and "wrote the stream record" neither loses nor silently
	// duplicates a monitoring entry.
	NSMonitoringOutbox             = "monitoring_outbox"
	NSWorkflowStatusStream         = "workflow_status_stream"
	NSErrorNotificationStream      = "error_notifications_stream"
	NSCompletionNotificationStream = "completion_notifications_stream"
)

// CheckpointNamespace returns the per-workflow checkpoint namespace name,
// matching spec §6's `gdpr-checkpoint-{workflowId}` convention.
func CheckpointNamespace(workflowID string) string {
	return "gdpr-checkpoint-" + workflowID
}
