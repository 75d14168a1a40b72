// OpenTelemetry tracing support for frame transport calls.
package telemetry

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/transport"
)

// Tracer wraps OpenTelemetry tracing with transport-specific helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer with the given name from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer with the given name from tp.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Call Spans ---

// StartCallSpan starts a client span for a remote call.
func (t *Tracer) StartCallSpan(ctx context.Context, typ, method string, id int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "ift.call "+typ+"."+method, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("ift.type", typ),
		attribute.String("ift.method", method),
		attribute.Int("ift.callback_id", id),
	)
	return ctx, span
}

// EndCallSpan ends a call span with its outcome.
func (t *Tracer) EndCallSpan(span trace.Span, err error) {
	if err != nil {
		if code := errors.Code(err); code != "" {
			span.SetAttributes(attribute.String("ift.error.code", code.String()))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// CallTracer is a transport.Observer that records a span per call and a
// span event per dropped message.
type CallTracer struct {
	transport.NopObserver

	tracer *Tracer

	mu    sync.Mutex
	spans map[int]trace.Span
}

var _ transport.Observer = (*CallTracer)(nil)

// NewCallTracer creates a call tracer. A nil tracer uses GetTracer.
func NewCallTracer(t *Tracer) *CallTracer {
	if t == nil {
		t = GetTracer()
	}
	return &CallTracer{
		tracer: t,
		spans:  make(map[int]trace.Span),
	}
}

// CallStarted opens the span for call id.
func (c *CallTracer) CallStarted(typ, method string, id int) {
	_, span := c.tracer.StartCallSpan(context.Background(), typ, method, id)
	c.mu.Lock()
	c.spans[id] = span
	c.mu.Unlock()
}

// CallFinished ends the span for call id.
func (c *CallTracer) CallFinished(typ, method string, id int, err error) {
	c.mu.Lock()
	span, ok := c.spans[id]
	delete(c.spans, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.tracer.EndCallSpan(span, err)
}

// MessageDropped records the drop on the call span it concerns when the
// call is still open, otherwise on a short span of its own.
func (c *CallTracer) MessageDropped(reason transport.DropReason, origin string, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("ift.drop.reason", string(reason)),
		attribute.String("ift.origin", origin),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("ift.error", err.Error()))
	}

	if coded := errors.As(err); coded != nil {
		if id, convErr := strconv.Atoi(coded.Metadata()["callback_id"]); convErr == nil {
			c.mu.Lock()
			span, ok := c.spans[id]
			c.mu.Unlock()
			if ok {
				span.AddEvent("message_dropped", trace.WithAttributes(attrs...))
				return
			}
		}
	}

	_, span := c.tracer.StartSpan(context.Background(), "ift.drop", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attrs...)
	span.End()
}

// Open returns the number of calls with an open span.
func (c *CallTracer) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}
