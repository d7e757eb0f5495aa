package certificate

import (
	"context"
	"sync"
	"testing"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/internal/cryptoutil"
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

func newTestGenerator(t *testing.T) (*Generator, *workflow.Manager, *recordingBus) {
	t.Helper()
	st := store.NewMemStore()
	pol := policy.NewManager(st)
	trail := audit.NewTrail(st)
	rb := &recordingBus{}
	mgr := workflow.NewManager(st, pol, trail, rb)
	gen := &Generator{Store: st, Workflows: mgr, Trail: trail, Policies: pol, Bus: rb}
	return gen, mgr, rb
}

func TestIssueCertificateSignsWhenPolicyRequires(t *testing.T) {
	ctx := context.Background()
	gen, mgr, rb := newTestGenerator(t)
	wf, err := mgr.CreateWorkflow(ctx, workflow.CreateRequest{
		Users:        workflow.UserIdentifiers{UserID: "u1"},
		Jurisdiction: policy.EU,
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	deleted := workflow.StepDeleted
	evidence := &workflow.Evidence{Receipt: "rcpt-1", APIResponse: "ok"}
	if _, err := mgr.UpdateStep(ctx, wf.WorkflowID, "stripe", workflow.StepPatch{Status: &deleted, Evidence: evidence}); err != nil {
		t.Fatalf("update step: %v", err)
	}
	failed := workflow.StepFailed
	if _, err := mgr.UpdateStep(ctx, wf.WorkflowID, "database", workflow.StepPatch{Status: &failed}); err != nil {
		t.Fatalf("update step: %v", err)
	}

	pub, priv, err := cryptoutil.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	gen.SigningKey = priv

	issuedAt := wf.CreatedAt
	if err := gen.IssueCertificate(ctx, wf.WorkflowID, issuedAt); err != nil {
		t.Fatalf("issue certificate: %v", err)
	}

	cert, found, err := gen.Get(ctx, wf.WorkflowID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected a persisted certificate")
	}
	if cert.Signature == "" {
		t.Fatal("expected a signature since EU's policy signs certificates")
	}
	payload, err := cryptoutil.Canonicalize(signedFields{
		WorkflowID: wf.WorkflowID, AuditHashRoot: cert.AuditHashRoot,
		PolicyVersion: cert.PolicyVersion, IssuedAt: issuedAt,
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	ok, err := cryptoutil.Verify(pub, payload, cert.Signature)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify against the signing key's public half")
	}
	if _, ok := cert.Receipts["stripe"]; !ok {
		t.Fatal("expected a receipt for the deleted stripe step")
	}
	if len(cert.Exceptions) != 1 || cert.Exceptions[0].System != "database" {
		t.Fatalf("expected one exception for the failed database step, got %+v", cert.Exceptions)
	}

	data, ok := rb.last(topics.AuditLog)
	if !ok {
		t.Fatal("expected an audit-log emit")
	}
	var auditPayload topics.AuditLogPayload
	if err := topics.Decode(data, &auditPayload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if auditPayload.EventType != "CERTIFICATE_GENERATED" {
		t.Fatalf("unexpected audit event type: %s", auditPayload.EventType)
	}
}

func TestIssueCertificateUnsignedWithoutSigningKey(t *testing.T) {
	ctx := context.Background()
	gen, mgr, _ := newTestGenerator(t)
	wf, err := mgr.CreateWorkflow(ctx, workflow.CreateRequest{
		Users:        workflow.UserIdentifiers{UserID: "u1"},
		Jurisdiction: policy.EU,
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	if err := gen.IssueCertificate(ctx, wf.WorkflowID, wf.CreatedAt); err != nil {
		t.Fatalf("issue certificate: %v", err)
	}

	cert, found, err := gen.Get(ctx, wf.WorkflowID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected a persisted certificate")
	}
	if cert.Signature != "" {
		t.Fatal("expected an unsigned certificate when no signing key is configured")
	}
}

func TestIssueCertificateLegalHoldIsException(t *testing.T) {
	ctx := context.Background()
	gen, mgr, _ := newTestGenerator(t)
	wf, err := mgr.CreateWorkflow(ctx, workflow.CreateRequest{
		Users:        workflow.UserIdentifiers{UserID: "u1"},
		Jurisdiction: policy.EU,
	})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	hold := workflow.StepLegalHold
	if _, err := mgr.UpdateStep(ctx, wf.WorkflowID, "stripe", workflow.StepPatch{Status: &hold, HoldReason: "open-dispute"}); err != nil {
		t.Fatalf("update step: %v", err)
	}

	if err := gen.IssueCertificate(ctx, wf.WorkflowID, wf.CreatedAt); err != nil {
		t.Fatalf("issue certificate: %v", err)
	}

	cert, _, err := gen.Get(ctx, wf.WorkflowID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(cert.Exceptions) != 1 || cert.Exceptions[0].Reason != "open-dispute" {
		t.Fatalf("expected a legal-hold exception with the hold reason, got %+v", cert.Exceptions)
	}
}
