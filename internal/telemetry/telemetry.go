// Package telemetry installs the OpenTelemetry trace and log pipelines for the aim service.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"driftpursuit/aimsolver/internal/config"
)

// ServiceName is reported as the service.name resource attribute.
const ServiceName = "aimsolver"

// Providers owns the installed pipelines and shuts them down together.
type Providers struct {
	Traces *sdktrace.TracerProvider
	Logs   *sdklog.LoggerProvider
}

// Option adjusts Setup, mostly for tests.
type Option func(*setupOptions)

type setupOptions struct {
	spanProcessors []sdktrace.SpanProcessor
	logProcessors  []sdklog.Processor
}

// WithSpanProcessor registers an extra span processor such as a tracetest.SpanRecorder.
func WithSpanProcessor(processor sdktrace.SpanProcessor) Option {
	return func(o *setupOptions) { o.spanProcessors = append(o.spanProcessors, processor) }
}

// WithLogProcessor registers an extra log processor and enables the log pipeline without an
// exporter endpoint.
func WithLogProcessor(processor sdklog.Processor) Option {
	return func(o *setupOptions) { o.logProcessors = append(o.logProcessors, processor) }
}

// Setup builds the providers and installs them as the OpenTelemetry globals. Without an
// endpoint spans are still created so trace identifiers reach the logs, but nothing is exported.
func Setup(ctx context.Context, cfg config.TelemetryConfig, opts ...Option) (*Providers, error) {
	var options setupOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
	}
	for _, processor := range options.spanProcessors {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(processor))
	}
	logOpts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, processor := range options.logProcessors {
		logOpts = append(logOpts, sdklog.WithProcessor(processor))
	}

	if cfg.OTLPEndpoint != "" {
		//1.- Both exporters share the collector endpoint and transport security.
		traceClientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		logClientOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			traceClientOpts = append(traceClientOpts, otlptracegrpc.WithInsecure())
			logClientOpts = append(logClientOpts, otlploggrpc.WithInsecure())
		}
		traceExporter, err := otlptracegrpc.New(ctx, traceClientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		logExporter, err := otlploggrpc.New(ctx, logClientOpts...)
		if err != nil {
			_ = traceExporter.Shutdown(ctx)
			return nil, fmt.Errorf("create log exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExporter))
		logOpts = append(logOpts, sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)))
	}

	providers := &Providers{Traces: sdktrace.NewTracerProvider(traceOpts...)}
	if cfg.OTLPEndpoint != "" || len(options.logProcessors) > 0 {
		providers.Logs = sdklog.NewLoggerProvider(logOpts...)
	}

	//2.- Install globals so otelhttp and the solve service pick the providers up.
	otel.SetTracerProvider(providers.Traces)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return providers, nil
}

// Slog returns a slog.Logger exporting through the log pipeline, or nil when it is disabled.
func (p *Providers) Slog() *slog.Logger {
	if p == nil || p.Logs == nil {
		return nil
	}
	return otelslog.NewLogger(ServiceName, otelslog.WithLoggerProvider(p.Logs))
}

// Shutdown flushes and stops both pipelines.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.Traces != nil {
		errs = append(errs, p.Traces.Shutdown(ctx))
	}
	if p.Logs != nil {
		errs = append(errs, p.Logs.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
