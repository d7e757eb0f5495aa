// Package tracing wraps bus handlers in OpenTelemetry spans, one span per
// delivered event.
//
// Grounded on the teacher's graph/emit.OTelEmitter (graph/emit/otel.go):
// each event becomes a span named after the event, carrying its
// identifying fields as attributes and its status set to error when the
// handler failed — generalized here from the teacher's node_start/
// node_end lifecycle events to this domain's bus.Event delivery.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/erasureflow-go/internal/bus"
)

// WrapHandler returns h instrumented to open a span named topic around
// every delivery, tagged with the event's workflow id and attempt, and
// marked as an error span when h returns one.
func WrapHandler(tracer trace.Tracer, topic string, h bus.Handler) bus.Handler {
	if tracer == nil {
		return h
	}
	return func(ctx context.Context, evt bus.Event) error {
		ctx, span := tracer.Start(ctx, topic, trace.WithAttributes(
			attribute.String("workflow.id", evt.WorkflowID),
			attribute.String("bus.topic", evt.Topic),
			attribute.Int("bus.attempt", evt.Attempt),
		))
		defer span.End()

		err := h(ctx, evt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
