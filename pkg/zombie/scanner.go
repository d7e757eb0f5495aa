package zombie

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/connector"
	"github.com/dshills/erasureflow-go/pkg/topics"
)

// Scanner is the cron-driven sweep spec.md §4.11 describes: every tick,
// every SCHEDULED record whose scheduledFor has passed is re-verified
// against the live systems, and any residual data trips a remediation
// workflow.
type Scanner struct {
	Store      store.Store
	Bus        Emitter
	Connectors map[string]connector.Connector

	Logger *zap.SugaredLogger

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// Scan walks every due schedule once. It is meant to be invoked on a
// fixed interval (design: every 6 hours, per spec.md §4.11) by whatever
// process-level cron driver cmd/erasureflowd wires up.
func (s *Scanner) Scan(ctx context.Context) error {
	now := time.Now
	if s.now != nil {
		now = s.now
	}

	raws, err := s.Store.GetGroup(ctx, store.NSZombieSchedules)
	if err != nil {
		return fmt.Errorf("zombie: scan: list schedules: %w", err)
	}

	var firstErr error
	for _, raw := range raws {
		var rec Schedule
		if err := json.Unmarshal(raw, &rec); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("zombie: scan: unmarshal schedule: %w", err)
			}
			continue
		}
		if rec.Status != StatusScheduled || rec.ScheduledFor.After(now()) {
			continue
		}
		if err := s.process(ctx, rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Scanner) process(ctx context.Context, rec Schedule) error {
	rec.Status = StatusProcessing
	if err := s.save(ctx, rec); err != nil {
		return s.fail(ctx, rec, err)
	}

	var sources []string
	for _, system := range rec.SystemsToCheck {
		conn, ok := s.Connectors[system]
		if !ok {
			continue
		}
		present, err := conn.VerifyDeletion(ctx, connector.UserIdentifiers{
			UserID: rec.Users.UserID, Emails: rec.Users.Emails, Phones: rec.Users.Phones, Aliases: rec.Users.Aliases,
		})
		if err != nil {
			return s.fail(ctx, rec, fmt.Errorf("zombie: verify %s: %w", system, err))
		}
		if present {
			sources = append(sources, system)
		}
	}

	rec.ZombieDetected = len(sources) > 0
	rec.Sources = sources
	rec.Status = StatusCompleted
	if err := s.save(ctx, rec); err != nil {
		return s.fail(ctx, rec, err)
	}

	if err := s.emitEncoded(ctx, topics.ZombieCheckCompleted, topics.ZombieCheckCompletedPayload{
		WorkflowID: rec.WorkflowID, ScheduleID: rec.ScheduleID, Detected: rec.ZombieDetected, Sources: sources,
	}); err != nil {
		return err
	}
	if err := s.emitEncoded(ctx, topics.AuditLog, topics.AuditLogPayload{
		WorkflowID: rec.WorkflowID, EventType: "ZOMBIE_CHECK_COMPLETED",
		Data: map[string]interface{}{"scheduleId": rec.ScheduleID, "zombieDataDetected": rec.ZombieDetected, "sources": sources},
	}); err != nil {
		return err
	}

	if rec.ZombieDetected {
		if err := s.emitEncoded(ctx, topics.ZombieDataDetected, topics.ZombieDataDetectedPayload{
			WorkflowID: rec.WorkflowID, Sources: sources, Severity: "HIGH", AlertLegalTeam: true,
		}); err != nil {
			return err
		}
		if err := s.emitEncoded(ctx, topics.CreateErasureRequest, topics.CreateErasureRequestPayload{
			Users: rec.Users, Jurisdiction: string(rec.Jurisdiction), Reason: "ZOMBIE_DATA_DETECTED",
			OriginalWorkflowID: rec.WorkflowID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) fail(ctx context.Context, rec Schedule, cause error) error {
	rec.Status = StatusFailed
	_ = s.save(ctx, rec)
	_ = s.emitEncoded(ctx, topics.AuditLog, topics.AuditLogPayload{
		WorkflowID: rec.WorkflowID, EventType: "ZOMBIE_CHECK_FAILED",
		Data: map[string]interface{}{"scheduleId": rec.ScheduleID, "error": cause.Error()},
	})
	return cause
}

func (s *Scanner) save(ctx context.Context, rec Schedule) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("zombie: marshal schedule: %w", err)
	}
	return s.Store.Set(ctx, store.NSZombieSchedules, rec.ScheduleID, raw)
}

func (s *Scanner) emitEncoded(ctx context.Context, topic string, payload interface{}) error {
	if s.Bus == nil {
		return nil
	}
	data, err := topics.Encode(payload)
	if err != nil {
		return err
	}
	return s.Bus.Emit(ctx, topic, data)
}
