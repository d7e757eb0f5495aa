package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/erasureflow-go/pkg/errs"
)

// ErrQueueFull is returned by TryEmit when the target shard's queue is at
// capacity (spec.md §6: "API returns 503" — callers map this to whatever
// their transport's equivalent is).
var ErrQueueFull = errors.New("bus: queue full")

// ErrClosed is returned by Emit/TryEmit after Close has been called.
var ErrClosed = errors.New("bus: dispatcher closed")

// Dispatcher is the parallel worker pool described in spec.md §4.5 and
// §5: a fixed set of workers, one per shard, each draining its own
// bounded FIFO queue. Events bearing the same WorkflowID always land on
// the same shard, so two events for one workflow are always processed in
// submission order; across workflows, delivery is fully concurrent.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	workerPoolSize int
	queueCapacity  int
	maxAttempts    int
	initialDelay   time.Duration
	multiplier     float64

	logger  *zap.SugaredLogger
	metrics Metrics
	monitor MonitorSink

	cancelledFn func(workflowID string) (bool, error)
	onCancelled func(workflowID string)
	notified    sync.Map // workflowID -> struct{}, cancellation-notified once

	shards []chan Event
	wg     sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// New constructs a Dispatcher. Handlers must be registered and Start
// called before any Emit is delivered.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers:       make(map[string][]Handler),
		workerPoolSize: 4,
		queueCapacity:  256,
		maxAttempts:    3,
		initialDelay:   time.Second,
		multiplier:     2.0,
		logger:         zap.NewNop().Sugar(),
		closed:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.shards = make([]chan Event, d.workerPoolSize)
	for i := range d.shards {
		d.shards[i] = make(chan Event, d.queueCapacity)
	}
	return d
}

// RegisterHandler subscribes h to topic. Multiple handlers may subscribe
// to the same topic; all are invoked for each delivered event, in
// registration order.
func (d *Dispatcher) RegisterHandler(topic string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = append(d.handlers[topic], h)
}

// Start launches one worker goroutine per shard. Workers run until ctx is
// cancelled or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := range d.shards {
		d.wg.Add(1)
		go d.runWorker(ctx, i)
	}
}

// Close stops accepting new events and waits for in-flight workers to
// drain their shards' already-queued events.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	d.wg.Wait()
	return nil
}

// Emit delivers an event to its shard, blocking until capacity is
// available or ctx is cancelled — the backpressure behavior spec.md §4.5
// calls for when the producer is itself a handler doing fan-out.
func (d *Dispatcher) Emit(ctx context.Context, topic string, data map[string]interface{}) error {
	return d.emit(ctx, topic, data, 1, true)
}

// TryEmit delivers an event without blocking: it fails immediately with
// ErrQueueFull if the target shard is at capacity, matching spec.md §6's
// "cron retries on next tick; API returns 503" distinction from Emit's
// blocking behavior.
func (d *Dispatcher) TryEmit(ctx context.Context, topic string, data map[string]interface{}) error {
	return d.emit(ctx, topic, data, 1, false)
}

func (d *Dispatcher) emit(ctx context.Context, topic string, data map[string]interface{}, attempt int, block bool) error {
	select {
	case <-d.closed:
		return ErrClosed
	default:
	}

	workflowID, _ := data["workflowId"].(string)
	shard := shardFor(workflowID, len(d.shards))
	evt := Event{Topic: topic, WorkflowID: workflowID, Data: data, Attempt: attempt}

	q := d.shards[shard]
	if d.metrics != nil {
		d.metrics.SetQueueDepth(shard, len(q))
	}

	if !block {
		select {
		case q <- evt:
			return nil
		default:
			if d.metrics != nil {
				d.metrics.IncBackpressure(topic)
			}
			return ErrQueueFull
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.closed:
		return ErrClosed
	case q <- evt:
		return nil
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, shard int) {
	defer d.wg.Done()
	q := d.shards[shard]
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.closed:
			// Drain remaining queued events before exiting so Close
			// observes a fully-flushed shard.
			for {
				select {
				case evt := <-q:
					d.deliver(ctx, evt)
				default:
					return
				}
			}
		case evt := <-q:
			d.deliver(ctx, evt)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt Event) {
	if d.cancelledFn != nil {
		cancelled, err := d.cancelledFn(evt.WorkflowID)
		if err != nil {
			d.logger.Warnw("bus: cancellation check failed", "workflowId", evt.WorkflowID, "error", err)
		} else if cancelled {
			if _, already := d.notified.LoadOrStore(evt.WorkflowID, struct{}{}); !already {
				if d.onCancelled != nil {
					d.onCancelled(evt.WorkflowID)
				}
				if d.monitor != nil {
					d.monitor.WorkflowCancelled(evt.WorkflowID)
				}
			}
			return
		}
	}

	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[evt.Topic]...)
	d.mu.RUnlock()

	if len(handlers) == 0 {
		d.logger.Debugw("bus: no handler registered", "topic", evt.Topic)
		return
	}

	if d.metrics != nil {
		d.metrics.IncInflight(evt.Topic)
	}
	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			d.handleFailure(evt, err)
		} else if d.metrics != nil {
			d.metrics.IncDelivered(evt.Topic, "ok")
		}
	}
	if d.metrics != nil {
		d.metrics.DecInflight(evt.Topic)
	}
}

func (d *Dispatcher) handleFailure(evt Event, err error) {
	if errs.Retryable(err) && evt.Attempt < d.maxAttempts {
		delay := d.backoff(evt.Attempt)
		if d.metrics != nil {
			d.metrics.IncRetries(evt.Topic)
		}
		d.logger.Infow("bus: scheduling retry", "topic", evt.Topic, "workflowId", evt.WorkflowID,
			"attempt", evt.Attempt, "delay", delay, "error", err)
		next := evt
		next.Attempt++
		time.AfterFunc(delay, func() {
			select {
			case <-d.closed:
				return
			default:
			}
			shard := shardFor(next.WorkflowID, len(d.shards))
			select {
			case d.shards[shard] <- next:
			default:
				d.logger.Errorw("bus: retry dropped, shard full", "topic", next.Topic, "workflowId", next.WorkflowID)
			}
		})
		return
	}

	if d.metrics != nil {
		d.metrics.IncDelivered(evt.Topic, "failed")
	}
	d.logger.Errorw("bus: handler failed terminally", "topic", evt.Topic, "workflowId", evt.WorkflowID,
		"attempt", evt.Attempt, "error", err)
	if d.monitor != nil {
		d.monitor.HandlerFailed(evt.WorkflowID, evt.Topic, evt.Attempt, err)
	}
}

// backoff computes initialDelay * multiplier^(attempt-1), matching
// spec.md §4.5's formula exactly (no jitter — unlike the teacher's
// computeBackoff, spec.md §4.5 specifies the formula precisely enough
// that adding jitter would make delays it doesn't ask for; callers wanting
// jitter can wrap WithRetryPolicy's inputs themselves).
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := float64(d.initialDelay)
	for i := 1; i < attempt; i++ {
		delay *= d.multiplier
	}
	return time.Duration(delay)
}

// Shards reports the dispatcher's shard count, exposed for tests asserting
// per-workflow affinity.
func (d *Dispatcher) Shards() int { return len(d.shards) }
