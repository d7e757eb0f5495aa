// Package monitoring implements spec.md §4.13's fan-out: every
// STATE_UPDATED, STEP_*, CHECKPOINT_*, CERTIFICATE_GENERATED, and
// ZOMBIE_* event gets mirrored into one of three append-only streams
// (workflowStatus, errorNotifications, completionNotifications) that
// exist purely for external observability — nothing in the workflow's
// own correctness depends on them, so a publish failure is logged and
// swallowed rather than surfaced as a workflow error.
//
// Grounded on the teacher's graph/store.Store's PendingEvents/
// MarkEventsEmitted transactional outbox (graph/store/memory.go,
// graph/store/sqlite.go): a record is durably staged before the
// publish is attempted, and only marked emitted once the publish
// actually lands, so a crash mid-publish can always be recovered by a
// later Flush instead of silently losing the record.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/internal/bus"
	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/topics"
)

// Stream names, matching spec.md §4.13's three fan-out destinations.
const (
	StreamWorkflowStatus           = "workflowStatus"
	StreamErrorNotifications       = "errorNotifications"
	StreamCompletionNotifications = "completionNotifications"
)

var streamNamespace = map[string]string{
	StreamWorkflowStatus:          store.NSWorkflowStatusStream,
	StreamErrorNotifications:      store.NSErrorNotificationStream,
	StreamCompletionNotifications: store.NSCompletionNotificationStream,
}

// Record is one fan-out entry, staged in the outbox and then mirrored
// into its destination stream namespace once published.
type Record struct {
	ID         string                 `json:"id"`
	Stream     string                 `json:"stream"`
	WorkflowID string                 `json:"workflowId"`
	EventType  string                 `json:"eventType"`
	Data       map[string]interface{} `json:"data"`
	CreatedAt  time.Time              `json:"createdAt"`
	Emitted    bool                   `json:"emitted"`
}

// FanOut is the bus.Handler for topics.AuditLog (registered alongside
// pkg/orchestrator.AuditBridge's subscription to the same topic — the dispatcher
// supports more than one handler per topic) and also implements
// bus.MonitorSink for the dispatcher's own terminal-failure/cancellation
// hooks.
type FanOut struct {
	Store store.Store

	Logger *zap.SugaredLogger

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// New constructs a FanOut.
func New(st store.Store, logger *zap.SugaredLogger) *FanOut {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FanOut{Store: st, Logger: logger}
}

// Handle classifies evt (an audit-log event) into one of the three
// streams and stages + publishes it. Per spec.md §4.13, a failure here
// must never fail the workflow, so every error is logged and swallowed.
func (f *FanOut) Handle(ctx context.Context, evt bus.Event) error {
	var payload topics.AuditLogPayload
	if err := topics.Decode(evt.Data, &payload); err != nil {
		f.Logger.Warnw("monitoring: decode audit-log payload", "error", err)
		return nil
	}
	stream := classify(payload.EventType)
	if stream == "" {
		return nil
	}

	rec := Record{
		ID: uuid.NewString(), Stream: stream, WorkflowID: payload.WorkflowID,
		EventType: payload.EventType, Data: payload.Data, CreatedAt: f.clock(),
	}
	if err := f.enqueue(ctx, rec); err != nil {
		f.Logger.Warnw("monitoring: enqueue failed", "error", err, "workflowId", payload.WorkflowID)
		return nil
	}
	f.publish(ctx, rec)
	return nil
}

// HandlerFailed implements bus.MonitorSink: a terminal (non-retryable)
// handler failure is itself an error-notification-worthy event.
func (f *FanOut) HandlerFailed(workflowID, topic string, attempt int, err error) {
	ctx := context.Background()
	rec := Record{
		ID: uuid.NewString(), Stream: StreamErrorNotifications, WorkflowID: workflowID,
		EventType: "HANDLER_FAILED",
		Data:      map[string]interface{}{"topic": topic, "attempt": attempt, "error": err.Error()},
		CreatedAt: f.clock(),
	}
	if enqErr := f.enqueue(ctx, rec); enqErr != nil {
		f.Logger.Warnw("monitoring: enqueue handler-failed", "error", enqErr, "workflowId", workflowID)
		return
	}
	f.publish(ctx, rec)
}

// WorkflowCancelled implements bus.MonitorSink.
func (f *FanOut) WorkflowCancelled(workflowID string) {
	ctx := context.Background()
	rec := Record{
		ID: uuid.NewString(), Stream: StreamWorkflowStatus, WorkflowID: workflowID,
		EventType: "WORKFLOW_CANCELLED", Data: map[string]interface{}{}, CreatedAt: f.clock(),
	}
	if err := f.enqueue(ctx, rec); err != nil {
		f.Logger.Warnw("monitoring: enqueue workflow-cancelled", "error", err, "workflowId", workflowID)
		return
	}
	f.publish(ctx, rec)
}

// Flush re-attempts publish for every outbox record not yet marked
// emitted — the recovery path for whatever Handle/HandlerFailed's
// inline publish attempt swallowed. Meant to run on the same cron tick
// as pkg/zombie.Scanner.Scan.
func (f *FanOut) Flush(ctx context.Context) error {
	raws, err := f.Store.GetGroup(ctx, store.NSMonitoringOutbox)
	if err != nil {
		return fmt.Errorf("monitoring: flush: list outbox: %w", err)
	}
	for _, raw := range raws {
		var rec Record
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr != nil {
			f.Logger.Warnw("monitoring: flush: unmarshal outbox record", "error", jsonErr)
			continue
		}
		if rec.Emitted {
			continue
		}
		f.publish(ctx, rec)
	}
	return nil
}

func (f *FanOut) enqueue(ctx context.Context, rec Record) error {
	return f.save(ctx, rec)
}

func (f *FanOut) publish(ctx context.Context, rec Record) {
	ns, ok := streamNamespace[rec.Stream]
	if !ok {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		f.Logger.Warnw("monitoring: marshal stream record", "error", err)
		return
	}
	if err := f.Store.Set(ctx, ns, rec.ID, raw); err != nil {
		f.Logger.Warnw("monitoring: publish failed, will retry on next flush", "error", err, "stream", rec.Stream)
		return
	}
	rec.Emitted = true
	if err := f.save(ctx, rec); err != nil {
		f.Logger.Warnw("monitoring: mark emitted failed", "error", err, "recordId", rec.ID)
	}
}

func (f *FanOut) save(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("monitoring: marshal outbox record: %w", err)
	}
	return f.Store.Set(ctx, store.NSMonitoringOutbox, rec.ID, raw)
}

func (f *FanOut) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now().UTC()
}

func classify(eventType string) string {
	switch {
	case containsAny(eventType, "FAILED", "DATA_DETECTED") || eventType == "STEP_LEGAL_HOLD" || eventType == "LEGAL_HOLD_EXPIRED":
		return StreamErrorNotifications
	case containsAny(eventType, "CERTIFICATE_GENERATED", "WORKFLOW_COMPLETED", "ZOMBIE_CHECK_COMPLETED"):
		return StreamCompletionNotifications
	case containsAny(eventType, "STATE_UPDATED", "STEP_", "CHECKPOINT_", "WORKFLOW_CREATED", "ZOMBIE_CHECK_SCHEDULED"):
		return StreamWorkflowStatus
	default:
		return ""
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
