package middleware

import (
	"context"

	rebus "github.com/riezebosch/Rebus.AzureServiceBus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/riezebosch/Rebus.AzureServiceBus"

// Otel wraps a transport with OpenTelemetry tracing and counters: a producer
// span per Send, a consumer span per Receive that yields a message.
func Otel(next rebus.Transport, opts ...Option) rebus.Transport {
	options := options{
		tracer: otel.Tracer(scope),
		meter:  otel.Meter(scope),
	}
	for _, o := range opts {
		o(&options)
	}

	sent, _ := options.meter.Int64Counter("rebus.transport.sent")
	received, _ := options.meter.Int64Counter("rebus.transport.received")

	return &otelTransport{
		next:     next,
		tracer:   options.tracer,
		sent:     sent,
		received: received,
	}
}

type otelTransport struct {
	next     rebus.Transport
	tracer   trace.Tracer
	sent     metric.Int64Counter
	received metric.Int64Counter
}

func (t *otelTransport) Address() string { return t.next.Address() }

func (t *otelTransport) CreateQueue(ctx context.Context, address string) error {
	return t.next.CreateQueue(ctx, address)
}

func (t *otelTransport) Send(ctx context.Context, destination string, msg *rebus.TransportMessage, tx *rebus.TransactionContext) error {
	ctx, span := t.tracer.Start(ctx, "transport.send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rebus"),
			attribute.String("messaging.destination", destination),
			attribute.String("messaging.operation", "publish"),
		),
	)
	defer span.End()

	err := t.next.Send(ctx, destination, msg, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	t.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("messaging.destination", destination)))
	return nil
}

func (t *otelTransport) Receive(ctx context.Context, tx *rebus.TransactionContext) (*rebus.TransportMessage, error) {
	ctx, span := t.tracer.Start(ctx, "transport.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rebus"),
			attribute.String("messaging.destination", t.next.Address()),
			attribute.String("messaging.operation", "receive"),
		),
	)
	defer span.End()

	msg, err := t.next.Receive(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if msg != nil {
		t.received.Add(ctx, 1, metric.WithAttributes(attribute.String("messaging.destination", t.next.Address())))
	}
	return msg, nil
}

type options struct {
	tracer trace.Tracer
	meter  metric.Meter
}

type Option func(*options)

func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}
