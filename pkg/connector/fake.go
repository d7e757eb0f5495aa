package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/erasureflow-go/pkg/errs"
)

// Fake is a deterministic, in-memory Connector used by tests and local
// development. FailuresBeforeSuccess lets a test script a connector that
// fails N times then succeeds, exercising the dispatcher's retry path
// (spec.md §8 boundary case: "a connector that fails twice then
// succeeds").
type Fake struct {
	name                  string
	mu                    sync.Mutex
	calls                 map[string]int
	FailuresBeforeSuccess int
	AlwaysFail            bool
	Latent                map[string]bool   // userIDs still "present" for zombie checks
	LegalHold             map[string]string // userID -> hold reason; DeleteUser reports a hold instead of deleting
}

// NewFake constructs a Fake connector named name.
func NewFake(name string) *Fake {
	return &Fake{
		name:      name,
		calls:     make(map[string]int),
		Latent:    make(map[string]bool),
		LegalHold: make(map[string]string),
	}
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) DeleteUser(ctx context.Context, ids UserIdentifiers) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	f.mu.Lock()
	if reason, held := f.LegalHold[ids.UserID]; held {
		f.mu.Unlock()
		return Result{Err: errs.LegalHold("HELD", reason)}, nil
	}
	f.calls[ids.UserID]++
	attempt := f.calls[ids.UserID]
	f.mu.Unlock()

	if f.AlwaysFail || attempt <= f.FailuresBeforeSuccess {
		return Result{Success: false, Err: fmt.Errorf("connector %s: simulated failure (attempt %d)", f.name, attempt)}, nil
	}
	return Result{
		Success:     true,
		Receipt:     fmt.Sprintf("%s-receipt-%s-%d", f.name, ids.UserID, attempt),
		APIResponse: fmt.Sprintf(`{"status":"deleted","system":%q}`, f.name),
	}, nil
}

func (f *Fake) VerifyDeletion(ctx context.Context, ids UserIdentifiers) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Latent[ids.UserID], nil
}

// MarkZombieData flags userID as still present in this connector's
// system, simulating reappeared data for zombie-scan tests.
func (f *Fake) MarkZombieData(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Latent[userID] = true
}

// MarkLegalHold makes DeleteUser report a legal hold for userID instead of
// attempting deletion, simulating a hold discovered mid-execution
// (spec.md §4.6 edge case).
func (f *Fake) MarkLegalHold(userID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LegalHold[userID] = reason
}
