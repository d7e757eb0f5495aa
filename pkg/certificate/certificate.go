// Package certificate implements the certificate-of-destruction generator
// (spec.md §4.10 steps 1-4): once a workflow completes, gather every
// step's evidence into a receipt ledger, anchor it to the audit trail's
// current hash, optionally sign it, and persist it under
// certificate:{workflowId}.
//
// Grounded on other_examples/71ee2000_FairForge-vaultaire's proof-record
// shape (content hash + optional signature, persisted under a content-
// addressed key) and the teacher's functional-options-free plain-struct
// constructor convention.
package certificate

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/erasureflow-go/internal/cryptoutil"
	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/policy"
	"github.com/dshills/erasureflow-go/pkg/topics"
	"github.com/dshills/erasureflow-go/pkg/workflow"
)

// Emitter is the narrow slice of internal/bus.Dispatcher the generator
// uses to append CERTIFICATE_GENERATED to the audit trail via audit-log,
// the same indirection the other bus handlers use rather than calling
// pkg/audit.Trail.Append directly.
type Emitter interface {
	Emit(ctx context.Context, topic string, data map[string]interface{}) error
}

// WorkflowStore is the narrow slice of pkg/workflow.Manager the generator
// reads from.
type WorkflowStore interface {
	Load(ctx context.Context, workflowID string) (*workflow.Workflow, error)
}

// AuditTrail is the narrow slice of pkg/audit.Trail the generator reads
// from, declared locally to avoid a direct pkg/audit import.
type AuditTrail interface {
	LastHash(ctx context.Context, workflowID string, createdAt time.Time) (string, error)
}

// Receipt is one system's completed-deletion evidence, copied verbatim
// into the certificate.
type Receipt struct {
	System      string `json:"system"`
	Receipt     string `json:"receipt,omitempty"`
	APIResponse string `json:"apiResponse,omitempty"`
}

// Exception is one system whose deletion did not complete cleanly — a
// terminal failure or a standing legal hold — listed so the certificate
// never implies a clean deletion it cannot back up.
type Exception struct {
	System string `json:"system"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Certificate is the persisted record issued for a completed workflow.
type Certificate struct {
	CertificateID string             `json:"certificateId"`
	WorkflowID    string             `json:"workflowId"`
	AuditHashRoot string             `json:"auditHashRoot"`
	PolicyVersion string             `json:"policyVersion"`
	IssuedAt      time.Time          `json:"issuedAt"`
	Receipts      map[string]Receipt `json:"receipts"`
	Exceptions    []Exception        `json:"exceptions,omitempty"`
	// Signature is the hex-encoded ed25519 signature over
	// (workflowId, auditHashRoot, policyVersion, issuedAt), present only
	// when the workflow's policy has signCertificates = true.
	Signature string `json:"signature,omitempty"`
}

// signedFields is the exact tuple spec.md §4.10 step 3 names as the
// signature's covered content.
type signedFields struct {
	WorkflowID    string    `json:"workflowId"`
	AuditHashRoot string    `json:"auditHashRoot"`
	PolicyVersion string    `json:"policyVersion"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// Generator issues certificates of destruction, implementing
// pkg/orchestrator.CertificateIssuer.
type Generator struct {
	Store     store.Store
	Workflows WorkflowStore
	Trail     AuditTrail
	Policies  *policy.Manager
	Bus       Emitter

	// SigningKey signs certificates when a workflow's policy requires it.
	// A nil key with signCertificates = true is a configuration error: the
	// certificate is still issued, unsigned, and the omission is recorded
	// in the audit entry's data rather than silently producing a signed-
	// looking certificate with an empty signature.
	SigningKey ed25519.PrivateKey
}

// IssueCertificate implements spec.md §4.10 steps 1-4.
func (g *Generator) IssueCertificate(ctx context.Context, workflowID string, issuedAt time.Time) error {
	wf, err := g.Workflows.Load(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("certificate: load workflow: %w", err)
	}

	pol := g.resolvePolicy(ctx, wf)

	receipts := make(map[string]Receipt)
	var exceptions []Exception
	for system, rec := range wf.Steps {
		switch rec.Status {
		case workflow.StepDeleted:
			receipts[system] = Receipt{System: system, Receipt: rec.Evidence.Receipt, APIResponse: rec.Evidence.APIResponse}
		case workflow.StepFailed:
			exceptions = append(exceptions, Exception{System: system, Status: string(rec.Status), Reason: "deletion failed after exhausting retries"})
		case workflow.StepLegalHold:
			exceptions = append(exceptions, Exception{System: system, Status: string(rec.Status), Reason: rec.HoldReason})
		}
	}

	auditHashRoot, err := g.Trail.LastHash(ctx, workflowID, wf.CreatedAt)
	if err != nil {
		return fmt.Errorf("certificate: resolve audit hash root: %w", err)
	}

	cert := Certificate{
		CertificateID: uuid.NewString(),
		WorkflowID:    workflowID,
		AuditHashRoot: auditHashRoot,
		PolicyVersion: wf.PolicyVersion,
		IssuedAt:      issuedAt,
		Receipts:      receipts,
		Exceptions:    exceptions,
	}

	signed := false
	if pol.SignCertificates && g.SigningKey != nil {
		payload, err := cryptoutil.Canonicalize(signedFields{
			WorkflowID: workflowID, AuditHashRoot: auditHashRoot,
			PolicyVersion: wf.PolicyVersion, IssuedAt: issuedAt,
		})
		if err != nil {
			return fmt.Errorf("certificate: canonicalize signed fields: %w", err)
		}
		cert.Signature = cryptoutil.Sign(g.SigningKey, payload)
		signed = true
	}

	raw, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("certificate: marshal: %w", err)
	}
	if err := g.Store.Set(ctx, store.NSCertificate, workflowID, raw); err != nil {
		return fmt.Errorf("certificate: persist: %w", err)
	}

	return g.emitEncoded(ctx, topics.AuditLog, topics.AuditLogPayload{
		WorkflowID: workflowID,
		EventType:  "CERTIFICATE_GENERATED",
		Data: map[string]interface{}{
			"auditHashRoot": auditHashRoot,
			"signed":        signed,
			"exceptions":    len(exceptions),
		},
	})
}

// Get returns the persisted certificate for workflowID, if one exists.
func (g *Generator) Get(ctx context.Context, workflowID string) (Certificate, bool, error) {
	raw, found, err := g.Store.Get(ctx, store.NSCertificate, workflowID)
	if err != nil {
		return Certificate{}, false, fmt.Errorf("certificate: get: %w", err)
	}
	if !found {
		return Certificate{}, false, nil
	}
	var cert Certificate
	if err := json.Unmarshal(raw, &cert); err != nil {
		return Certificate{}, false, fmt.Errorf("certificate: unmarshal: %w", err)
	}
	return cert, true, nil
}

func (g *Generator) resolvePolicy(ctx context.Context, wf *workflow.Workflow) policy.Policy {
	if app, found, err := g.Policies.GetPolicyApplication(ctx, wf.WorkflowID); err == nil && found {
		return app.Policy
	}
	return g.Policies.GetPolicyForJurisdiction(wf.Jurisdiction)
}

func (g *Generator) emitEncoded(ctx context.Context, topic string, payload interface{}) error {
	data, err := topics.Encode(payload)
	if err != nil {
		return err
	}
	return g.Bus.Emit(ctx, topic, data)
}
