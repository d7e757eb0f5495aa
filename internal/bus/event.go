// Package bus implements the topic-based pub/sub event dispatcher (spec.md
// §4.5): a bounded worker pool with per-workflow shard affinity, at-least-
// once delivery, and a timer-wheel backoff for retries so a retrying event
// never ties up a worker goroutine.
//
// Grounded on the teacher's graph/scheduler.go Frontier — a heap-ordered,
// channel-backed work queue providing deterministic ordering and
// backpressure. The erasure domain doesn't need OrderKey's replay
// determinism (events aren't replayed in a fixed order across runs, only
// within one workflow's own submission order), so the heap is dropped in
// favor of one plain channel per shard — submission order on a channel
// already gives FIFO per-shard delivery, which is exactly spec.md §4.5's
// per-workflow ordering guarantee once workflowId hashes to a fixed shard.
package bus

import "context"

// Event is one unit of work on the bus. Per REDESIGN FLAGS, this is a
// tagged variant rather than a duck-typed payload: Topic selects the
// schema Data is expected to follow, and handlers registered for that
// topic are the only code that interprets Data's fields.
type Event struct {
	Topic      string
	WorkflowID string
	Data       map[string]interface{}
	Attempt    int
}

// Handler processes one Event. A returned error that satisfies
// pkg/errs.Retryable schedules a backoff retry of the same event; any
// other error is terminal for this delivery and is only logged/monitored.
type Handler func(ctx context.Context, evt Event) error
