package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/erasureflow-go/internal/store"
)

// Manager resolves jurisdictional policy and snapshots the resolved policy
// against a workflow id so later re-reads cannot drift even if the
// built-in tables are updated in a later release (spec.md §4.2:
// "recordPolicyApplication snapshots the full policy so later re-reads
// cannot drift").
type Manager struct {
	store    store.Store
	policies map[Jurisdiction]Policy
}

// Option configures a Manager at construction, following the teacher's
// functional-options convention (graph.Options / With*).
type Option func(*Manager)

// WithPolicies overrides the built-in policy table, for tests that need
// to exercise jurisdictions with custom rules.
func WithPolicies(policies map[Jurisdiction]Policy) Option {
	return func(m *Manager) { m.policies = policies }
}

// NewManager constructs a Manager backed by st, using the built-in
// EU/US/OTHER policies unless overridden with WithPolicies.
func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{store: st, policies: builtinPolicies}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetPolicyForJurisdiction resolves j to its policy. An unrecognized
// jurisdiction resolves to OTHER rather than erroring (spec.md §4.2).
func (m *Manager) GetPolicyForJurisdiction(j Jurisdiction) Policy {
	if p, ok := m.policies[j]; ok {
		return p
	}
	return m.policies[Other]
}

// GetRetentionRule resolves the retention rule for system within j's policy.
func (m *Manager) GetRetentionRule(j Jurisdiction, system System) (RetentionRule, error) {
	return m.GetPolicyForJurisdiction(j).RetentionRuleFor(system)
}

// GetConfidenceThresholds returns j's auto-delete/manual-review thresholds.
func (m *Manager) GetConfidenceThresholds(j Jurisdiction) ConfidenceThresholds {
	return m.GetPolicyForJurisdiction(j).ConfidenceThresholds
}

// GetZombieCheckInterval returns j's zombie re-verification interval in days.
func (m *Manager) GetZombieCheckInterval(j Jurisdiction) int {
	return m.GetPolicyForJurisdiction(j).ZombieCheckIntervalDays
}

// Application is the immutable snapshot of a policy bound to a workflow at
// creation time.
type Application struct {
	WorkflowID string    `json:"workflowId"`
	Policy     Policy    `json:"policy"`
	AppliedAt  time.Time `json:"appliedAt"`
}

// RecordPolicyApplication snapshots policy against workflowID so that
// future reads return exactly what was applied at creation, independent of
// any later change to the built-in tables.
func (m *Manager) RecordPolicyApplication(ctx context.Context, workflowID string, p Policy, appliedAt time.Time) error {
	app := Application{WorkflowID: workflowID, Policy: p, AppliedAt: appliedAt}
	raw, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("policy: marshal application: %w", err)
	}
	return m.store.Set(ctx, store.NSPolicyApplications, workflowID, raw)
}

// GetPolicyApplication returns the snapshot recorded for workflowID.
func (m *Manager) GetPolicyApplication(ctx context.Context, workflowID string) (Application, bool, error) {
	raw, found, err := m.store.Get(ctx, store.NSPolicyApplications, workflowID)
	if err != nil {
		return Application{}, false, fmt.Errorf("policy: get application: %w", err)
	}
	if !found {
		return Application{}, false, nil
	}
	var app Application
	if err := json.Unmarshal(raw, &app); err != nil {
		return Application{}, false, fmt.Errorf("policy: unmarshal application: %w", err)
	}
	return app, true, nil
}
