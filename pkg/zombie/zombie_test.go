package zombie

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/audit"
	"github.com/dshills/erasureflow-go/pkg/connector"
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

func (r *recordingBus) last(topic string) (map[string]interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Topic == topic {
			return r.events[i].Data, true
		}
	}
	return nil, false
}

type fakeVerifier struct {
	present bool
	err     error
}

func (f *fakeVerifier) Name() string { return "fake" }

func (f *fakeVerifier) DeleteUser(_ context.Context, _ connector.UserIdentifiers) (connector.Result, error) {
	return connector.Result{Success: true}, nil
}

func (f *fakeVerifier) VerifyDeletion(_ context.Context, _ connector.UserIdentifiers) (bool, error) {
	return f.present, f.err
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

func TestSchedulerPersistsAndIndexesSchedule(t *testing.T) {
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
	s := &Scheduler{Store: st, Workflows: mgr, Policies: policy.NewManager(st), Bus: rb}

	completedAt := wf.CreatedAt
	if err := s.Schedule(ctx, wf.WorkflowID, completedAt); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	raw, found, err := st.Get(ctx, store.NSZombieChecksByWorkflow, wf.WorkflowID)
	if err != nil || !found {
		t.Fatalf("expected an index entry, found=%v err=%v", found, err)
	}
	scheduleID := string(raw)

	schedRaw, found, err := st.Get(ctx, store.NSZombieSchedules, scheduleID)
	if err != nil || !found {
		t.Fatalf("expected a schedule record, found=%v err=%v", found, err)
	}
	_ = schedRaw

	if rb.count(topics.ZombieCheckScheduled) != 1 {
		t.Fatalf("expected 1 zombie-check-scheduled emit, got %d", rb.count(topics.ZombieCheckScheduled))
	}
}

func TestScannerDetectsZombieDataAndSpawnsRemediation(t *testing.T) {
	ctx := context.Background()
	mgr, rb, st := newTestSetup(t)
	wf, err := mgr.CreateWorkflow(ctx, workflow.CreateRequest{
		Users:        workflow.UserIdentifiers{UserID: "u1", Emails: []string{"u1@x.com"}},
		Jurisdiction: policy.EU,
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	rb.events = nil

	s := &Scheduler{Store: st, Workflows: mgr, Policies: policy.NewManager(st), Bus: rb}
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Schedule(ctx, wf.WorkflowID, past); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	rb.events = nil

	scanner := &Scanner{
		Store: st,
		Bus:   rb,
		Connectors: map[string]connector.Connector{
			"stripe":    &fakeVerifier{present: true},
			"database":  &fakeVerifier{present: false},
			"intercom":  &fakeVerifier{present: false},
			"sendgrid":  &fakeVerifier{present: false},
			"crm":       &fakeVerifier{present: false},
			"analytics": &fakeVerifier{present: false},
		},
		now: func() time.Time { return time.Now() },
	}

	if err := scanner.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if rb.count(topics.ZombieCheckCompleted) != 1 {
		t.Fatalf("expected 1 zombie-check-completed emit, got %d", rb.count(topics.ZombieCheckCompleted))
	}
	if rb.count(topics.ZombieDataDetected) != 1 {
		t.Fatalf("expected 1 zombie-data-detected emit, got %d", rb.count(topics.ZombieDataDetected))
	}
	data, ok := rb.last(topics.CreateErasureRequest)
	if !ok {
		t.Fatal("expected a create-erasure-request emit")
	}
	var payload topics.CreateErasureRequestPayload
	if err := topics.Decode(data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.OriginalWorkflowID != wf.WorkflowID || payload.Users.UserID != "u1" {
		t.Fatalf("unexpected remediation payload: %+v", payload)
	}

	spawner := &RemediationSpawner{Workflows: mgr}
	evt := bus.Event{Topic: topics.CreateErasureRequest, Data: data}
	if err := spawner.Handle(ctx, evt); err != nil {
		t.Fatalf("spawn remediation: %v", err)
	}
}

func TestScannerSkipsNotYetDueSchedules(t *testing.T) {
	ctx := context.Background()
	mgr, rb, st := newTestSetup(t)
	wf, err := mgr.CreateWorkflow(ctx, workflow.CreateRequest{
		Users:        workflow.UserIdentifiers{UserID: "u1"},
		Jurisdiction: policy.EU,
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	s := &Scheduler{Store: st, Workflows: mgr, Policies: policy.NewManager(st), Bus: rb}
	future := time.Now().AddDate(0, 0, 365)
	if err := s.Schedule(ctx, wf.WorkflowID, future); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	rb.events = nil

	scanner := &Scanner{Store: st, Bus: rb, Connectors: map[string]connector.Connector{}}
	if err := scanner.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(rb.events) != 0 {
		t.Fatalf("expected no emits for a not-yet-due schedule, got %d", len(rb.events))
	}
}
