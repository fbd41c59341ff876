// Package observability configures OpenTelemetry tracing for offsync.
package observability

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation scope for every offsync span.
const TracerName = "github.com/roach88/offsync"

// Exporter names accepted by Init.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Init installs the global tracer provider and returns its shutdown function.
//
// "none" (or "") installs a no-op provider. "stdout" writes finished spans as
// JSON to w.
func Init(exporter, service string, w io.Writer) (func(context.Context) error, error) {
	switch strings.ToLower(strings.TrimSpace(exporter)) {
	case "", ExporterNone:
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil

	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", service),
			)),
		)
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	}

	return nil, fmt.Errorf("unknown tracing exporter %q (want none or stdout)", exporter)
}

// Tracer returns the offsync tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span on tracer with the given attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
