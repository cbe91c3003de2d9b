package tracing

import (
    "context"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

const tracerName = "go-chanpool"

var enabled atomic.Bool

// Setup configures a global tracer provider when enable=true.
// It returns a shutdown function which should be deferred.
func Setup(enable bool) (func(context.Context) error, error) {
    enabled.Store(enable)
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil {
        enabled.Store(false)
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
    otel.SetTracerProvider(tp)
    return tp.Shutdown, nil
}

// Span wraps an optional otel span. The zero value is a no-op.
type Span struct {
    span trace.Span
}

// StartSpan starts a tracing span if tracing is enabled.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
    if !enabled.Load() {
        return ctx, Span{}
    }
    ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
    return ctx, Span{span: span}
}

// SetAttributes records attributes on the span.
func (s Span) SetAttributes(attrs ...attribute.KeyValue) {
    if s.span != nil {
        s.span.SetAttributes(attrs...)
    }
}

// RecordError marks the span as failed when err is non-nil.
func (s Span) RecordError(err error) {
    if s.span == nil || err == nil {
        return
    }
    s.span.RecordError(err)
    s.span.SetStatus(codes.Error, err.Error())
}

// End finishes the span.
func (s Span) End() {
    if s.span != nil {
        s.span.End()
    }
}
