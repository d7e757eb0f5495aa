package bus

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Dispatcher at construction, following the same
// functional-options convention used by pkg/policy.Manager and grounded in
// the teacher's graph.Options/With* constructors.
type Option func(*Dispatcher)

// WithWorkerPoolSize sets the number of worker goroutines (and therefore
// shards — one shard per worker keeps the shard-affinity invariant
// trivially true). Default 4.
func WithWorkerPoolSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workerPoolSize = n
		}
	}
}

// WithQueueCapacity sets the bounded capacity of each shard's queue.
// Default 256.
func WithQueueCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueCapacity = n
		}
	}
}

// WithRetryPolicy sets the dispatcher's generic backoff-retry parameters
// (spec.md §4.5, §6 maxRetryAttempts/initialRetryDelayMs/
// retryBackoffMultiplier). Defaults: 3 attempts, 1s initial delay, x2.
func WithRetryPolicy(maxAttempts int, initialDelay time.Duration, multiplier float64) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if initialDelay > 0 {
			d.initialDelay = initialDelay
		}
		if multiplier > 0 {
			d.multiplier = multiplier
		}
	}
}

// WithLogger injects process logging, following SPEC_FULL.md's ambient
// stack (zap, threaded through every long-lived component).
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics injects a metrics sink for queue depth, inflight counts, and
// retry totals (internal/metrics.Collector).
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithMonitor registers a sink notified of terminal (non-retried) handler
// failures and of cancellation drops, independent of any topic handler —
// used to wire pkg/monitoring's fan-out without the bus importing it
// directly.
func WithMonitor(sink MonitorSink) Option {
	return func(d *Dispatcher) {
		if sink != nil {
			d.monitor = sink
		}
	}
}

// WithCancellationChecker injects the predicate the dispatcher uses to
// decide whether a workflow has been cancelled (spec.md §4.5, §5) before
// delivering an event. When unset, no workflow is ever treated as
// cancelled.
func WithCancellationChecker(fn func(workflowID string) (bool, error)) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.cancelledFn = fn
		}
	}
}

// WithOnCancelled registers the hook invoked exactly once per workflow the
// first time the dispatcher observes it cancelled, letting the caller
// append the single STATE_UPDATED(cancelled) audit entry spec.md §4.5
// requires without the bus depending on pkg/audit.
func WithOnCancelled(fn func(workflowID string)) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.onCancelled = fn
		}
	}
}
