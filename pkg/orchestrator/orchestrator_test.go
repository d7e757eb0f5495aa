package orchestrator

import (
	"context"
	"sync"
	"testing"

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

type testEnv struct {
	mgr      *workflow.Manager
	bus      *recordingBus
	st       store.Store
	policies *policy.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemStore()
	pol := policy.NewManager(st)
	trail := audit.NewTrail(st)
	rb := &recordingBus{}
	mgr := workflow.NewManager(st, pol, trail, rb)
	return &testEnv{mgr: mgr, bus: rb, st: st, policies: pol}
}

func (e *testEnv) createWorkflow(t *testing.T, jurisdiction policy.Jurisdiction) *workflow.Workflow {
	t.Helper()
	wf, err := e.mgr.CreateWorkflow(context.Background(), workflow.CreateRequest{
		Users:        workflow.UserIdentifiers{UserID: "u1", Emails: []string{"u1@x.com"}},
		Jurisdiction: jurisdiction,
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	e.bus.events = nil
	return wf
}

func checkpointPayload(workflowID, phase, stepName, status string) map[string]interface{} {
	data, _ := topics.Encode(topics.CheckpointValidationPayload{
		WorkflowID: workflowID, Phase: phase, StepName: stepName, Status: status,
	})
	return data
}
