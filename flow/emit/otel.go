package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter creates an OpenTelemetry span per event.
//
// Each event becomes a point-in-time span named after the event (e.g.
// "node:completed") carrying workflowId, executionId, node identity and
// timing as attributes. Failure events set the span's error status.
//
// Setup:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("arcflow"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter around a tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit implements Emitter by recording the event as an immediately-ended
// span. Events are points in time; node durations travel as the
// duration_ms attribute rather than span length.
func (o *OTelEmitter) Emit(event Event) {
	event = event.stamped()

	_, span := o.tracer.Start(context.Background(), event.Name)
	defer span.End()

	span.SetAttributes(
		attribute.String("workflow_id", event.WorkflowID),
		attribute.String("execution_id", event.ExecutionID),
	)
	if event.NodeID != "" {
		span.SetAttributes(
			attribute.String("node_id", event.NodeID),
			attribute.String("node_type", event.NodeType),
		)
	}
	if event.DurationMs > 0 {
		span.SetAttributes(attribute.Int64("duration_ms", event.DurationMs))
	}
	for k, v := range event.Meta {
		span.SetAttributes(attribute.String("meta."+k, fmt.Sprintf("%v", v)))
	}

	if event.Error != "" {
		span.SetStatus(codes.Error, event.Error)
		span.RecordError(fmt.Errorf("%s", event.Error))
	}
}

// Flush forces export of pending spans when the tracer originates from an
// SDK tracer provider. Call before process shutdown.
func Flush(ctx context.Context, tp trace.TracerProvider) error {
	if sdk, ok := tp.(*sdktrace.TracerProvider); ok {
		return sdk.ForceFlush(ctx)
	}
	return nil
}
