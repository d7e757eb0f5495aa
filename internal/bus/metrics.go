package bus

// Metrics is the narrow metrics sink the dispatcher reports into,
// implemented by internal/metrics.Collector. Declared here (rather than
// importing internal/metrics) to keep the dependency pointing the
// conventional way: internal/metrics has no knowledge of bus.Event.
type Metrics interface {
	SetQueueDepth(shard int, depth int)
	IncInflight(topic string)
	DecInflight(topic string)
	IncRetries(topic string)
	IncBackpressure(topic string)
	IncDelivered(topic string, outcome string)
}

// MonitorSink receives terminal handler failures and cancellation
// notices, implemented by pkg/monitoring.FanOut.
type MonitorSink interface {
	HandlerFailed(workflowID, topic string, attempt int, err error)
	WorkflowCancelled(workflowID string)
}
