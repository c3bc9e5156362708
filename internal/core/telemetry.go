package core

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "wholesale-fulfillment/core"

// The global providers are no-ops until cmd/server installs real ones.
var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	transitionCounter, _ = meter.Int64Counter("fulfillment.order.transitions",
		metric.WithDescription("Committed order status transitions"))
	invoiceCounter, _ = meter.Int64Counter("fulfillment.invoices.created",
		metric.WithDescription("Invoices created on delivery confirmation"))
	transientCounter, _ = meter.Int64Counter("fulfillment.transient_failures",
		metric.WithDescription("Operations that failed with a retryable error"))
)

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan closes span, marking it failed when err is non-nil.
func endSpan(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if IsTransient(err) {
			transientCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
		}
	}
	span.End()
}

func countTransition(ctx context.Context, to OrderStatus) {
	transitionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
}
