package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/audit"
	"github.com/dshills/erasureflow-go/pkg/policy"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEmitter) Emit(_ context.Context, topic string, _ map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, topic)
	return nil
}

func (r *recordingEmitter) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == topic {
			n++
		}
	}
	return n
}

func newTestManager() (*Manager, *recordingEmitter, store.Store) {
	st := store.NewMemStore()
	pol := policy.NewManager(st)
	trail := audit.NewTrail(st)
	emitter := &recordingEmitter{}
	return NewManager(st, pol, trail, emitter), emitter, st
}

func TestCreateWorkflowBasic(t *testing.T) {
	ctx := context.Background()
	m, emitter, _ := newTestManager()

	wf, err := m.CreateWorkflow(ctx, CreateRequest{
		Users:        UserIdentifiers{UserID: "u1", Emails: []string{"u1@x.com"}},
		Jurisdiction: policy.EU,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if wf.Phase != PhaseCreated || wf.Status != StatusInProgress {
		t.Fatalf("unexpected initial state: phase=%s status=%s", wf.Phase, wf.Status)
	}
	if emitter.count("workflow-created") != 1 {
		t.Fatalf("expected 1 workflow-created emit, got %d", emitter.count("workflow-created"))
	}
}

func TestCreateWorkflowRequestHashDedupe(t *testing.T) {
	ctx := context.Background()
	m, emitter, _ := newTestManager()

	req := CreateRequest{
		Users:        UserIdentifiers{UserID: "u1", Emails: []string{"u1@x.com"}},
		Jurisdiction: policy.EU,
		LegalProof:   "proof-1",
	}
	wf1, err := m.CreateWorkflow(ctx, req)
	if err != nil {
		t.Fatalf("create 1: %v", err)
	}
	wf2, err := m.CreateWorkflow(ctx, req)
	if err != nil {
		t.Fatalf("create 2: %v", err)
	}
	if wf1.WorkflowID != wf2.WorkflowID {
		t.Fatalf("expected same workflow id on dedupe, got %s vs %s", wf1.WorkflowID, wf2.WorkflowID)
	}
	if emitter.count("workflow-created") != 1 {
		t.Fatalf("expected exactly 1 WORKFLOW_CREATED emit across dedupe calls, got %d", emitter.count("workflow-created"))
	}
}

func TestCreateWorkflowConcurrentSameUserResolvesToOneWorkflow(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	const n = 10
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wf, err := m.CreateWorkflow(ctx, CreateRequest{
				Users:        UserIdentifiers{UserID: "concurrent-user"},
				Jurisdiction: policy.US,
				LegalProof:   "same-proof",
			})
			if err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			ids[i] = wf.WorkflowID
		}(i)
	}
	wg.Wait()

	first := ids[0]
	for i, id := range ids {
		if id != first {
			t.Fatalf("call %d resolved to a different workflow id: %s vs %s", i, id, first)
		}
	}
}

func TestUpdateStepReceiptIdempotence(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	wf, err := m.CreateWorkflow(ctx, CreateRequest{Users: UserIdentifiers{UserID: "u2"}, Jurisdiction: policy.EU})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted := StepDeleted
	if _, err := m.UpdateStep(ctx, wf.WorkflowID, "stripe", StepPatch{
		Status:   &deleted,
		Evidence: &Evidence{Receipt: "receipt-1"},
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Re-executing with the same receipt is a silent no-op.
	if _, err := m.UpdateStep(ctx, wf.WorkflowID, "stripe", StepPatch{
		Evidence: &Evidence{Receipt: "receipt-1"},
	}); err != nil {
		t.Fatalf("idempotent re-write should not error: %v", err)
	}

	// A different receipt for an already-set step is refused.
	if _, err := m.UpdateStep(ctx, wf.WorkflowID, "stripe", StepPatch{
		Evidence: &Evidence{Receipt: "receipt-2"},
	}); err == nil {
		t.Fatal("expected error when overwriting an existing receipt with a different value")
	}

	loaded, err := m.Load(ctx, wf.WorkflowID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Steps["stripe"].Evidence.Receipt != "receipt-1" {
		t.Fatalf("receipt mutated: %q", loaded.Steps["stripe"].Evidence.Receipt)
	}
}

func TestAdvancePhaseEnforcesMonotonicity(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	wf, err := m.CreateWorkflow(ctx, CreateRequest{Users: UserIdentifiers{UserID: "u3"}, Jurisdiction: policy.EU})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := m.AdvancePhase(ctx, wf.WorkflowID, PhaseParallelDeletion); err == nil {
		t.Fatal("expected skipping identity-critical to be rejected")
	}
	updated, err := m.AdvancePhase(ctx, wf.WorkflowID, PhaseIdentityCritical)
	if err != nil {
		t.Fatalf("legal advance: %v", err)
	}
	if updated.Phase != PhaseIdentityCritical {
		t.Fatalf("expected phase identity-critical, got %s", updated.Phase)
	}
}

func TestUpdateStepOnTerminalWorkflowFails(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()
	wf, err := m.CreateWorkflow(ctx, CreateRequest{Users: UserIdentifiers{UserID: "u4"}, Jurisdiction: policy.EU})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.SetStatus(ctx, wf.WorkflowID, StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	deleted := StepDeleted
	if _, err := m.UpdateStep(ctx, wf.WorkflowID, "stripe", StepPatch{Status: &deleted}); err == nil {
		t.Fatal("expected update on terminal workflow to fail")
	}
}
