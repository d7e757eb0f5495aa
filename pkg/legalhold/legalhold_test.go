package legalhold

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/audit"
	"github.com/dshills/erasureflow-go/pkg/policy"
	"github.com/dshills/erasureflow-go/pkg/topics"
	"github.com/dshills/erasureflow-go/pkg/workflow"
)

type recordingBus struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recordingBus) Emit(_ context.Context, topic string, data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, bus.Event{Topic: topic, Data: data})
	return nil
}

func (r *recordingBus) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Topic == topic {
			n++
		}
	}
	return n
}

func newTestSetup(t *testing.T) (*workflow.Manager, *recordingBus, store.Store) {
	t.Helper()
	st := store.NewMemStore()
	pol := policy.NewManager(st)
	trail := audit.NewTrail(st)
	rb := &recordingBus{}
	mgr := workflow.NewManager(st, pol, trail, rb)
	return mgr, rb, st
}

func TestApplyHoldPatchesStepAndIndexesRecord(t *testing.T) {
	ctx := context.Background()
	mgr, rb, st := newTestSetup(t)
	wf, err := mgr.CreateWorkflow(ctx, workflow.CreateRequest{
		Users:        workflow.UserIdentifiers{UserID: "u1"},
		Jurisdiction: policy.EU,
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	rb.events = nil

	m := &Manager{Store: st, Workflows: mgr, Bus: rb}
	if err := m.ApplyHold(ctx, wf.WorkflowID, "stripe", []string{"pending litigation"}, 30); err != nil {
		t.Fatalf("apply hold: %v", err)
	}

	got, err := mgr.Load(ctx, wf.WorkflowID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	step := got.Steps["stripe"]
	if step.Status != workflow.StepLegalHold {
		t.Fatalf("expected stripe step LEGAL_HOLD, got %s", step.Status)
	}
	if step.HoldReason != "pending litigation" {
		t.Fatalf("unexpected hold reason: %q", step.HoldReason)
	}

	raw, found, err := st.Get(ctx, store.NSLegalHold, indexKey(wf.WorkflowID, "stripe"))
	if err != nil || !found {
		t.Fatalf("expected an indexed hold record, found=%v err=%v", found, err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty hold record")
	}

	if rb.count(topics.AuditLog) != 1 {
		t.Fatalf("expected 1 audit-log emit, got %d", rb.count(topics.AuditLog))
	}
}

func TestRecordIndexesWithoutPatchingStep(t *testing.T) {
	ctx := context.Background()
	mgr, _, st := newTestSetup(t)
	wf, err := mgr.CreateWorkflow(ctx, workflow.CreateRequest{
		Users:        workflow.UserIdentifiers{UserID: "u1"},
		Jurisdiction: policy.EU,
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	m := &Manager{Store: st, Workflows: mgr}
	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := m.Record(ctx, wf.WorkflowID, "database", "court order", expiry); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := mgr.Load(ctx, wf.WorkflowID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Steps["database"].Status == workflow.StepLegalHold {
		t.Fatal("Record must not mutate the step's status")
	}

	_, found, err := st.Get(ctx, store.NSLegalHold, indexKey(wf.WorkflowID, "database"))
	if err != nil || !found {
		t.Fatalf("expected an indexed hold record, found=%v err=%v", found, err)
	}
}

func TestExpiredSurfacesPastHoldsOnceAndNeverReleases(t *testing.T) {
	ctx := context.Background()
	mgr, rb, st := newTestSetup(t)
	wf, err := mgr.CreateWorkflow(ctx, workflow.CreateRequest{
		Users:        workflow.UserIdentifiers{UserID: "u1"},
		Jurisdiction: policy.EU,
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	m := &Manager{Store: st, Workflows: mgr, Bus: rb}
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := m.Record(ctx, wf.WorkflowID, "stripe", "pending litigation", past); err != nil {
		t.Fatalf("record: %v", err)
	}
	rb.events = nil

	scanner := &Scanner{Store: st, Bus: rb}
	expired, err := scanner.Expired(ctx)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(expired) != 1 || expired[0].WorkflowID != wf.WorkflowID {
		t.Fatalf("expected 1 expired hold for %s, got %+v", wf.WorkflowID, expired)
	}
	if rb.count(topics.LegalHoldExpired) != 1 {
		t.Fatalf("expected 1 legal-hold-expired emit, got %d", rb.count(topics.LegalHoldExpired))
	}

	got, err := mgr.Load(ctx, wf.WorkflowID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Steps["stripe"].Status == workflow.StepDeleted {
		t.Fatal("Expired must never release a hold")
	}

	// A second sweep must not re-notify the same hold.
	expired2, err := scanner.Expired(ctx)
	if err != nil {
		t.Fatalf("expired (2nd pass): %v", err)
	}
	if len(expired2) != 0 {
		t.Fatalf("expected no re-notification on a second sweep, got %d", len(expired2))
	}
	if rb.count(topics.LegalHoldExpired) != 1 {
		t.Fatalf("expected still exactly 1 legal-hold-expired emit after a second sweep, got %d", rb.count(topics.LegalHoldExpired))
	}
}

func TestExpiredSkipsHoldsNotYetPastDuration(t *testing.T) {
	ctx := context.Background()
	mgr, rb, st := newTestSetup(t)
	wf, err := mgr.CreateWorkflow(ctx, workflow.CreateRequest{
		Users:        workflow.UserIdentifiers{UserID: "u1"},
		Jurisdiction: policy.EU,
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	m := &Manager{Store: st, Workflows: mgr}
	future := time.Now().AddDate(0, 0, 365)
	if err := m.Record(ctx, wf.WorkflowID, "stripe", "pending litigation", future); err != nil {
		t.Fatalf("record: %v", err)
	}
	rb.events = nil

	scanner := &Scanner{Store: st, Bus: rb}
	expired, err := scanner.Expired(ctx)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected no expired holds, got %d", len(expired))
	}
}
