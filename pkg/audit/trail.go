package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/erasureflow-go/internal/cryptoutil"
	"github.com/dshills/erasureflow-go/internal/store"
)

// Trail is the hash-chained audit log for one workflow. Entries are
// appended through Append and persisted as an ordered list under the
// workflow's key in the audit_trails namespace.
type Trail struct {
	st store.Store
}

// NewTrail constructs a Trail backed by st.
func NewTrail(st store.Store) *Trail {
	return &Trail{st: st}
}

// record is the on-disk representation of a workflow's full chain.
type record struct {
	WorkflowID string  `json:"workflowId"`
	Entries    []Entry `json:"entries"`
}

// Genesis computes the fixed starting hash for workflowID's chain:
// SHA-256("genesis:{workflowId}:{createdAt}"), per spec.md §3.
func Genesis(workflowID string, createdAt time.Time) string {
	seed := fmt.Sprintf("genesis:%s:%s", workflowID, createdAt.Format(time.RFC3339Nano))
	return cryptoutil.Hash([]byte(seed))
}

// Init creates an empty chain for workflowID anchored at its genesis hash.
// Must be called once, before the first Append, per spec.md §4.4 step 5.
func (t *Trail) Init(ctx context.Context, workflowID string, createdAt time.Time) error {
	_, found, err := t.load(ctx, workflowID)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	return t.save(ctx, record{WorkflowID: workflowID, Entries: nil})
}

// Append computes event's hash by chaining it onto the workflow's current
// last hash (or its genesis hash if the chain is empty) and persists the
// extended chain. Returns the fully-populated Entry.
func (t *Trail) Append(ctx context.Context, workflowID string, createdAt time.Time, evt Event) (Entry, error) {
	rec, found, err := t.load(ctx, workflowID)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		rec = record{WorkflowID: workflowID}
	}

	prev := Genesis(workflowID, createdAt)
	if n := len(rec.Entries); n > 0 {
		prev = rec.Entries[n-1].Hash
	}

	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	evt.WorkflowID = workflowID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	payload, err := cryptoutil.Canonicalize(evt)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: canonicalize event: %w", err)
	}
	entry := Entry{
		Event:        evt,
		Hash:         cryptoutil.LinkHash(prev, payload),
		PreviousHash: prev,
	}

	rec.Entries = append(rec.Entries, entry)
	if err := t.save(ctx, rec); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Entries returns the full ordered chain for workflowID.
func (t *Trail) Entries(ctx context.Context, workflowID string) ([]Entry, error) {
	rec, found, err := t.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return rec.Entries, nil
}

// LastHash returns the most recent hash in workflowID's chain — the
// "audit hash root" the certificate generator anchors to (spec.md §4.10).
func (t *Trail) LastHash(ctx context.Context, workflowID string, createdAt time.Time) (string, error) {
	entries, err := t.Entries(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return Genesis(workflowID, createdAt), nil
	}
	return entries[len(entries)-1].Hash, nil
}

// VerifyIntegrity recomputes every link in workflowID's chain and reports
// whether the stored hashes still match (spec.md §4.3, §8 invariant 4).
func (t *Trail) VerifyIntegrity(ctx context.Context, workflowID string, createdAt time.Time) (bool, error) {
	idx, err := t.DetectTampering(ctx, workflowID, createdAt)
	if err != nil {
		return false, err
	}
	return idx < 0, nil
}

// DetectTampering walks workflowID's chain and returns the index of the
// first entry whose recomputed hash no longer matches its stored hash, or
// -1 if the entire chain is intact.
func (t *Trail) DetectTampering(ctx context.Context, workflowID string, createdAt time.Time) (int, error) {
	entries, err := t.Entries(ctx, workflowID)
	if err != nil {
		return -1, err
	}
	prev := Genesis(workflowID, createdAt)
	for i, e := range entries {
		if e.PreviousHash != prev {
			return i, nil
		}
		payload, err := cryptoutil.Canonicalize(e.Event)
		if err != nil {
			return i, fmt.Errorf("audit: canonicalize entry %d: %w", i, err)
		}
		recomputed := cryptoutil.LinkHash(prev, payload)
		if recomputed != e.Hash {
			return i, nil
		}
		prev = e.Hash
	}
	return -1, nil
}

// Replay reconstructs the ordered event history for workflowID, verifying
// the chain as it goes, returning an error the moment tampering is found.
// This is the audit analogue of the teacher's ResumeFromCheckpoint: an
// operator investigating an IntegrityError uses it to see exactly how far
// the trail can be trusted before the break.
func (t *Trail) Replay(ctx context.Context, workflowID string, createdAt time.Time) ([]Event, error) {
	idx, err := t.DetectTampering(ctx, workflowID, createdAt)
	if err != nil {
		return nil, err
	}
	entries, err := t.Entries(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if idx >= 0 {
		events := make([]Event, idx)
		for i := 0; i < idx; i++ {
			events[i] = entries[i].Event
		}
		return events, fmt.Errorf("audit: tampering detected at entry %d", idx)
	}
	events := make([]Event, len(entries))
	for i, e := range entries {
		events[i] = e.Event
	}
	return events, nil
}

func (t *Trail) load(ctx context.Context, workflowID string) (record, bool, error) {
	raw, found, err := t.st.Get(ctx, store.NSAuditTrails, workflowID)
	if err != nil {
		return record{}, false, fmt.Errorf("audit: load trail: %w", err)
	}
	if !found {
		return record{}, false, nil
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, false, fmt.Errorf("audit: unmarshal trail: %w", err)
	}
	return rec, true, nil
}

func (t *Trail) save(ctx context.Context, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal trail: %w", err)
	}
	if err := t.st.Set(ctx, store.NSAuditTrails, rec.WorkflowID, raw); err != nil {
		return fmt.Errorf("audit: save trail: %w", err)
	}
	return nil
}
