package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"log/slog"
)

var resource *sdkresource.Resource
var initResourcesOnce sync.Once
var initObserverOnce sync.Once

// Wrappers for OpenTelemetry trace package
var WithAttributes = trace.WithAttributes
var SpanFromContext = trace.SpanFromContext

type ObserverInterface interface {
	Shutdown(ctx context.Context) error
	Tracer(name string) trace.Tracer
	CreateSpan(ctx context.Context, name string) (context.Context, trace.Span)
}
type observer struct {
	tp *sdktrace.TracerProvider
}

var oi *observer

func NewLocalObserver() ObserverInterface {
	// Initialize the TracerProvider and Tracer.
	initObserverOnce.Do(func() {
		tp, _ := initStdoutProvider()
		oi = &observer{
			tp: tp,
		}
	})

	return oi
}

// NewObserver creates a new Observer instance.
func NewObserver(address string) (ObserverInterface, error) {
	// Initialize the TracerProvider and Tracer.
	var tp *sdktrace.TracerProvider
	var err error
	initObserverOnce.Do(func() {
		if address == "" {
			tp, err = initStdoutProvider()
			oi = &observer{
				tp: tp,
			}
		} else {
			tp, err = initTracerProvider(address)
			oi = &observer{
				tp: tp,
			}
		}
	})

	return oi, err
}

// Observer returns the observer instance. 
// If no observer has been initialized, it will create a local observer with stdout output.
func Observer() ObserverInterface {
	if oi == nil {
		// Auto-initialize with local observer if not already initialized
		// This provides a safe default instead of panicking
		return NewLocalObserver()
	}

	return oi
}

// Shutdown stops the observer.
func (o *observer) Shutdown(ctx context.Context) error {
	return o.tp.Shutdown(ctx)
}

// Tracer returns the tracer.
func (o *observer) Tracer(name string) trace.Tracer {
	return o.tp.Tracer(name)
}

// CreateSpan starts a new span under the package's own tracer.
func (o *observer) CreateSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer("fujialign")
	return tracer.Start(ctx, name)
}

// WrapJob wraps a queue job handler invocation in a span, recording
// success/failure at the worker's lease/process/ack boundary.
func WrapJob(ctx context.Context, jobKind string, fn func(context.Context) error) error {
	tracer := Observer().Tracer(fmt.Sprintf("job %s", jobKind))
	ctx, span := tracer.Start(ctx, jobKind)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "job failed", "kind", jobKind, "error", err)
	}
	if span.IsRecording() {
		if err != nil {
			span.AddEvent("job failed", trace.WithAttributes(attribute.String("error", err.Error())))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.AddEvent("job completed successfully")
			span.SetStatus(codes.Ok, "OK")
		}
	}

	return err
}

// initResource builds the process-wide OTel resource once and shares it
// between the stdout and OTLP tracer providers.
func initResource() *sdkresource.Resource {
	initResourcesOnce.Do(func() {
		extraResources, _ := sdkresource.New(
			context.Background(),
			sdkresource.WithOS(),
			sdkresource.WithProcess(),
			sdkresource.WithHost(),
			sdkresource.WithAttributes(
				attribute.String("application", "fujialign"),
				attribute.String("service.name", "fujialign"),
				attribute.String("service.namespace", "alignment-pipeline"),
				attribute.String("application.version", "0.0.1"),
			),
		)
		resource, _ = sdkresource.Merge(
			sdkresource.Default(),
			extraResources,
		)
	})
	return resource
}

func initStdoutProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize stdouttrace export pipeline: %v", err))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(initResource()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

func initTracerProvider(address string) (*sdktrace.TracerProvider, error) {
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}
	conn, err := grpc.NewClient(address,
		// Note the use of insecure transport here. TLS is recommended in production.
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}

	// Set up a trace exporter
	exporter, err := otlptracegrpc.New(context.Background(), otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(initResource()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
