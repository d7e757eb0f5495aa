package legalhold

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/internal/store"
	"github.com/dshills/erasureflow-go/pkg/topics"
)

// Scanner sweeps store.NSLegalHold for holds past their expiry.
// SPEC_FULL.md's supplemented feature: this never releases a hold —
// release stays a manual operator action — it only surfaces the
// condition via legal-hold-expired so a human can act on it.
type Scanner struct {
	Store store.Store
	Bus   Emitter

	Logger *zap.SugaredLogger

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// Expired walks every indexed hold once, emitting legal-hold-expired
// for any past ExpiresAt that hasn't already been notified, and returns
// the records it flagged. Meant to run on the same cron tick as
// pkg/zombie.Scanner.Scan.
func (s *Scanner) Expired(ctx context.Context) ([]HoldRecord, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}

	raws, err := s.Store.GetGroup(ctx, store.NSLegalHold)
	if err != nil {
		return nil, fmt.Errorf("legalhold: scan: list holds: %w", err)
	}

	var expired []HoldRecord
	var firstErr error
	for _, raw := range raws {
		var rec HoldRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("legalhold: scan: unmarshal hold: %w", err)
			}
			continue
		}
		if rec.Notified || rec.ExpiresAt.After(now()) {
			continue
		}

		rec.Notified = true
		if err := s.save(ctx, rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.emitEncoded(ctx, topics.LegalHoldExpired, topics.LegalHoldExpiredPayload{
			WorkflowID: rec.WorkflowID, StepName: rec.StepName, ExpiredAt: rec.ExpiresAt.UTC().Format(time.RFC3339),
		}); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		expired = append(expired, rec)
	}
	return expired, firstErr
}

func (s *Scanner) save(ctx context.Context, rec HoldRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("legalhold: marshal hold: %w", err)
	}
	return s.Store.Set(ctx, store.NSLegalHold, indexKey(rec.WorkflowID, rec.StepName), raw)
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
