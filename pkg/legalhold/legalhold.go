// Package legalhold implements spec.md §4.12's applyHold operation and
// the expiry sweep SPEC_FULL.md adds on top of it: spec.md describes
// placing a hold but says nothing about what happens once
// maxDurationDays elapses, so this package also maintains a durable
// index of active holds and a periodic sweep that surfaces — but never
// auto-releases — expired ones.
//
// Grounded on
// other_examples/01b4e0a1_orneryd-Mimir__nornicdb-pkg-retention-retention.go.go's
// retention-rule evaluation pattern (a rule has a duration; a sweep
// compares "applied + duration" against now and flags what's past it)
// and other_examples/ed35965a_Mike-Gemutly-ArmorClaw's hash-chain
// Conditions/MaxDurationDays-shaped hold records.
package legalhold

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/topics"
	"github.com/dshills/erasureflow-go/pkg/workflow"
)

// HoldRecord is the durable index entry the expiry sweep scans, keyed
// workflowId:stepName within store.NSLegalHold.
type HoldRecord struct {
	WorkflowID string    `json:"workflowId"`
	StepName   string    `json:"stepName"`
	Reason     string    `json:"reason"`
	AppliedAt  time.Time `json:"appliedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	// Notified marks that legal-hold-expired has already fired for this
	// hold, so the sweep doesn't re-emit it every tick until it's released.
	Notified bool `json:"notified"`
}

func indexKey(workflowID, stepName string) string { return workflowID + ":" + stepName }

// WorkflowStore is the narrow slice of pkg/workflow.Manager ApplyHold needs.
type WorkflowStore interface {
	UpdateStep(ctx context.Context, workflowID, stepName string, patch workflow.StepPatch) (*workflow.Workflow, error)
}

// Emitter is the narrow slice of internal/bus.Dispatcher this package
// publishes through.
type Emitter interface {
	Emit(ctx context.Context, topic string, data map[string]interface{}) error
}

// Manager applies and indexes legal holds.
type Manager struct {
	Store     store.Store
	Workflows WorkflowStore
	Bus       Emitter

	Logger *zap.SugaredLogger
}

// ApplyHold implements spec.md §4.12: sets stepName's status to
// LEGAL_HOLD on workflowID, records the reason and computed expiry, and
// indexes the hold for the expiry sweep.
func (m *Manager) ApplyHold(ctx context.Context, workflowID, stepName string, conditions []string, maxDurationDays int) error {
	now := time.Now().UTC()
	expiresAt := now.AddDate(0, 0, maxDurationDays)
	reason := strings.Join(conditions, ", ")

	hold := workflow.StepLegalHold
	if _, err := m.Workflows.UpdateStep(ctx, workflowID, stepName, workflow.StepPatch{
		Status: &hold, HoldReason: reason, HoldExpiry: expiresAt,
	}); err != nil {
		return fmt.Errorf("legalhold: update step: %w", err)
	}
	if err := m.Record(ctx, workflowID, stepName, reason, expiresAt); err != nil {
		return err
	}
	return m.emitEncoded(ctx, topics.AuditLog, topics.AuditLogPayload{
		WorkflowID: workflowID, EventType: "STEP_LEGAL_HOLD",
		Data: map[string]interface{}{"stepName": stepName, "reason": reason, "expiresAt": expiresAt},
	})
}

// Record indexes a hold without patching the step — used by
// pkg/executor when a connector raises a legal hold mid-execution (it
// has already patched the step itself), so the expiry sweep still learns
// about holds that weren't applied through ApplyHold directly.
func (m *Manager) Record(ctx context.Context, workflowID, stepName, reason string, expiresAt time.Time) error {
	rec := HoldRecord{
		WorkflowID: workflowID, StepName: stepName, Reason: reason,
		AppliedAt: time.Now().UTC(), ExpiresAt: expiresAt,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("legalhold: marshal record: %w", err)
	}
	if err := m.Store.Set(ctx, store.NSLegalHold, indexKey(workflowID, stepName), raw); err != nil {
		return fmt.Errorf("legalhold: persist record: %w", err)
	}
	return nil
}

func (m *Manager) emitEncoded(ctx context.Context, topic string, payload interface{}) error {
	if m.Bus == nil {
		return nil
	}
	data, err := topics.Encode(payload)
	if err != nil {
		return err
	}
	return m.Bus.Emit(ctx, topic, data)
}
