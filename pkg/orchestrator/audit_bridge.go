package orchestrator

import (
	"context"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/pkg/audit"
	"github.com/dshills/erasureflow-go/pkg/topics"
)

// AuditBridge decodes an audit-log bus.Event into audit.AuditLogEvent and
// hands it to a *audit.Sink. It exists because pkg/audit cannot import
// pkg/topics without creating an import cycle (topics -> workflow ->
// audit), so the topic-shaped decode has to live on this side of the seam.
type AuditBridge struct {
	Sink *audit.Sink
}

// Handle is the bus.Handler for topics.AuditLog.
func (b *AuditBridge) Handle(ctx context.Context, evt bus.Event) error {
	var payload topics.AuditLogPayload
	if err := topics.Decode(evt.Data, &payload); err != nil {
		return err
	}
	return b.Sink.Handle(ctx, audit.AuditLogEvent{
		WorkflowID: payload.WorkflowID,
		EventType:  payload.EventType,
		Data:       payload.Data,
	})
}
