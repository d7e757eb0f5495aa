// Package connector defines the per-external-system deletion connector
// interface (spec.md §6) and a set of deterministic fakes used by tests
// and local development — real connectors (Stripe, the primary database,
// Intercom, SendGrid, the CRM, analytics, object storage) are out of
// scope per spec.md §1 and are injected at wiring time.
//
// Grounded on the teacher's graph/tool.Tool interface shape
// (Name()/Call(ctx, input) (output, error), context-respecting, idempotent
// where possible) — generalized from an LLM-callable tool into a
// deletion-specific two-method contract.
package connector

import "context"

// UserIdentifiers mirrors workflow.UserIdentifiers without importing
// pkg/workflow, keeping connectors free of orchestration dependencies.
type UserIdentifiers struct {
	UserID  string
	Emails  []string
	Phones  []string
	Aliases []string
}

// Result is a connector's outcome for one deletion call.
type Result struct {
	Success     bool
	Receipt     string
	APIResponse string
	Err         error
}

// Connector is the contract every per-system deletion adapter implements.
type Connector interface {
	// Name identifies the system this connector targets, matching one of
	// the fixed system names (stripe, database, intercom, sendgrid, crm,
	// analytics).
	Name() string

	// DeleteUser requests deletion of every record matching ids and
	// returns its outcome. Implementations MUST respect ctx cancellation
	// and SHOULD treat "not found" as success (spec.md §7:
	// PermanentConnectorError "not-found treated as success").
	DeleteUser(ctx context.Context, ids UserIdentifiers) (Result, error)

	// VerifyDeletion reports whether ids still has data present in this
	// system — used by the zombie scanner's re-verification pass.
	VerifyDeletion(ctx context.Context, ids UserIdentifiers) (bool, error)
}

// ObjectStoreConnector extends Connector with the bucket-scanning
// operations spec.md §6 calls out specifically for object storage.
type ObjectStoreConnector interface {
	Connector

	ScanBucket(ctx context.Context, ids UserIdentifiers) ([]string, error)
	DeleteFiles(ctx context.Context, keys []string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
