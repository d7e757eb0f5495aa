package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/pkg/topics"
)

// CompletionHandler implements spec.md §4.10's orchestration steps 5-6
// (certificate issuance itself lives in pkg/certificate, scheduling in
// pkg/zombie — both injected here as narrow interfaces): on
// workflow-completed, issue the certificate of destruction, schedule the
// post-completion zombie check, and notify.
type CompletionHandler struct {
	Workflows    WorkflowStore
	Bus          Emitter
	Certificates CertificateIssuer
	Zombies      ZombieScheduler

	Logger *zap.SugaredLogger
}

// Handle is the bus.Handler for topics.WorkflowCompleted.
func (h *CompletionHandler) Handle(ctx context.Context, evt bus.Event) error {
	var payload topics.WorkflowCompletedPayload
	if err := topics.Decode(evt.Data, &payload); err != nil {
		return err
	}

	wf, err := h.Workflows.Load(ctx, payload.WorkflowID)
	if err != nil {
		return err
	}
	if wf.Cancelled {
		return nil
	}

	completedAt := time.Now().UTC()
	if h.Certificates != nil {
		if err := h.Certificates.IssueCertificate(ctx, payload.WorkflowID, completedAt); err != nil {
			return err
		}
	}
	if h.Zombies != nil {
		if err := h.Zombies.Schedule(ctx, payload.WorkflowID, completedAt); err != nil {
			return err
		}
	}

	data, err := topics.Encode(topics.CompletionNotificationPayload{
		WorkflowID: payload.WorkflowID,
		Status:     string(wf.Status),
	})
	if err != nil {
		return err
	}
	return h.Bus.Emit(ctx, topics.CompletionNotification, data)
}
