package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"driftpursuit/aimsolver/internal/config"
)

type captureProcessor struct {
	mu     sync.Mutex
	bodies []string
}

func (p *captureProcessor) OnEmit(_ context.Context, record *sdklog.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies = append(p.bodies, record.Body().AsString())
	return nil
}

func (p *captureProcessor) Enabled(context.Context, sdklog.EnabledParameters) bool {
	return true
}
func (p *captureProcessor) Shutdown(context.Context) error   { return nil }
func (p *captureProcessor) ForceFlush(context.Context) error { return nil }

func restoreGlobals(t *testing.T) {
	t.Helper()
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
}

func TestSetupInstallsTracerWithoutEndpoint(t *testing.T) {
	restoreGlobals(t)
	recorder := tracetest.NewSpanRecorder()
	providers, err := Setup(context.Background(), config.TelemetryConfig{TraceSampleRatio: 1}, WithSpanProcessor(recorder))
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if providers.Logs != nil || providers.Slog() != nil {
		t.Fatal("expected the log pipeline to stay disabled without an endpoint")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a valid span context from the global provider")
	}
	span.End()
	if len(recorder.Ended()) != 1 || recorder.Ended()[0].Name() != "probe" {
		t.Fatalf("expected the probe span to be recorded, got %d spans", len(recorder.Ended()))
	}
	if err := providers.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestSetupHonoursZeroSampleRatio(t *testing.T) {
	restoreGlobals(t)
	recorder := tracetest.NewSpanRecorder()
	providers, err := Setup(context.Background(), config.TelemetryConfig{TraceSampleRatio: 0}, WithSpanProcessor(recorder))
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	defer providers.Shutdown(context.Background())

	_, span := otel.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	if span.SpanContext().IsSampled() || len(recorder.Ended()) != 0 {
		t.Fatal("expected unsampled spans to be dropped")
	}
}

func TestSlogBridgeEmitsRecords(t *testing.T) {
	restoreGlobals(t)
	capture := &captureProcessor{}
	providers, err := Setup(context.Background(), config.TelemetryConfig{TraceSampleRatio: 1}, WithLogProcessor(capture))
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	defer providers.Shutdown(context.Background())

	logger := providers.Slog()
	if logger == nil {
		t.Fatal("expected a slog bridge when a log processor is registered")
	}
	logger.Info("aim solved")

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if len(capture.bodies) != 1 || capture.bodies[0] != "aim solved" {
		t.Fatalf("unexpected exported records %v", capture.bodies)
	}
}
