package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/pkg/policy"
	"github.com/dshills/erasureflow-go/pkg/topics"
	"github.com/dshills/erasureflow-go/pkg/workflow"
)

type recordingIssuer struct {
	calls int
	err   error
}

func (r *recordingIssuer) IssueCertificate(_ context.Context, _ string, _ time.Time) error {
	r.calls++
	return r.err
}

type recordingScheduler struct {
	calls int
	err   error
}

func (r *recordingScheduler) Schedule(_ context.Context, _ string, _ time.Time) error {
	r.calls++
	return r.err
}

func workflowCompletedEvent(workflowID string) bus.Event {
	data, _ := topics.Encode(topics.WorkflowCompletedPayload{WorkflowID: workflowID})
	return bus.Event{Topic: topics.WorkflowCompleted, WorkflowID: workflowID, Data: data}
}

func TestCompletionHandlerIssuesCertificateAndSchedulesZombieCheck(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	wf := env.createWorkflow(t, policy.EU)
	if _, err := env.mgr.SetStatus(ctx, wf.WorkflowID, workflow.StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	env.bus.events = nil
	issuer := &recordingIssuer{}
	scheduler := &recordingScheduler{}
	h := &CompletionHandler{Workflows: env.mgr, Bus: env.bus, Certificates: issuer, Zombies: scheduler}

	if err := h.Handle(ctx, workflowCompletedEvent(wf.WorkflowID)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if issuer.calls != 1 {
		t.Fatalf("expected 1 IssueCertificate call, got %d", issuer.calls)
	}
	if scheduler.calls != 1 {
		t.Fatalf("expected 1 Schedule call, got %d", scheduler.calls)
	}
	data, ok := env.bus.last(topics.CompletionNotification)
	if !ok {
		t.Fatal("expected a completion-notification emit")
	}
	var notice topics.CompletionNotificationPayload
	if err := topics.Decode(data, &notice); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if notice.Status != string(workflow.StatusCompleted) {
		t.Fatalf("unexpected status in notification: %s", notice.Status)
	}
}

func TestCompletionHandlerNilSafeWithoutIssuerOrScheduler(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	wf := env.createWorkflow(t, policy.EU)
	if _, err := env.mgr.SetStatus(ctx, wf.WorkflowID, workflow.StatusCompletedWithExceptions); err != nil {
		t.Fatalf("set status: %v", err)
	}
	env.bus.events = nil
	h := &CompletionHandler{Workflows: env.mgr, Bus: env.bus}

	if err := h.Handle(ctx, workflowCompletedEvent(wf.WorkflowID)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	data, ok := env.bus.last(topics.CompletionNotification)
	if !ok {
		t.Fatal("expected a completion-notification emit even without certificate/zombie hooks")
	}
	var notice topics.CompletionNotificationPayload
	if err := topics.Decode(data, &notice); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if notice.Status != string(workflow.StatusCompletedWithExceptions) {
		t.Fatalf("unexpected status in notification: %s", notice.Status)
	}
}

func TestCompletionHandlerIgnoresCancelledWorkflow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	wf := env.createWorkflow(t, policy.EU)
	if _, err := env.mgr.Cancel(ctx, wf.WorkflowID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	env.bus.events = nil
	issuer := &recordingIssuer{}
	h := &CompletionHandler{Workflows: env.mgr, Bus: env.bus, Certificates: issuer}

	if err := h.Handle(ctx, workflowCompletedEvent(wf.WorkflowID)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if issuer.calls != 0 {
		t.Fatalf("expected no certificate issuance for a cancelled workflow, got %d", issuer.calls)
	}
	if len(env.bus.events) != 0 {
		t.Fatalf("expected no emits for a cancelled workflow, got %d", len(env.bus.events))
	}
}
