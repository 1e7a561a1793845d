// Package tracing wires OpenTelemetry with the stdout exporter. Spans are
// no-ops until Init installs a provider.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kkkkikiki/vaxmatch"

// setup holds one tracer provider and the file its exporter writes to.
type setup struct {
	once     sync.Once
	err      error
	provider *sdktrace.TracerProvider
	out      io.Closer
}

var global = &setup{}

// Init installs a global tracer provider exporting to outputFile, or stdout
// when outputFile is empty. Only the first call has an effect; later calls
// leave the output file untouched.
func Init(serviceName, serviceVersion, outputFile string) error {
	if err := global.init(serviceName, serviceVersion, stdoutExporter(outputFile)); err != nil {
		return err
	}
	otel.SetTracerProvider(global.provider)
	return nil
}

// InitWithExporter installs a global tracer provider using exporter.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	err := global.init(serviceName, serviceVersion, func() (sdktrace.SpanExporter, io.Closer, error) {
		return exporter, nil, nil
	})
	if err != nil {
		return err
	}
	otel.SetTracerProvider(global.provider)
	return nil
}

// Shutdown flushes the installed provider, if any, and closes its output file.
func Shutdown(ctx context.Context) error {
	return global.shutdown(ctx)
}

func stdoutExporter(outputFile string) func() (sdktrace.SpanExporter, io.Closer, error) {
	return func() (sdktrace.SpanExporter, io.Closer, error) {
		if outputFile == "" {
			exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
			return exporter, nil, err
		}
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, nil, err
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return exporter, f, nil
	}
}

func (s *setup) init(serviceName, serviceVersion string, newExporter func() (sdktrace.SpanExporter, io.Closer, error)) error {
	s.once.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				attribute.String("service.name", serviceName),
				attribute.String("service.version", serviceVersion),
			),
		)
		if err != nil {
			s.err = err
			return
		}

		exporter, out, err := newExporter()
		if err != nil {
			s.err = err
			return
		}

		s.out = out
		s.provider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
	})
	return s.err
}

func (s *setup) shutdown(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	err := s.provider.Shutdown(ctx)
	if s.out != nil {
		if cerr := s.out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.out = nil
	}
	return err
}

// StartSpan starts an internal span carrying the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err on the span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
