package targeting

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"driftpursuit/aimsolver/internal/aim"
	"driftpursuit/aimsolver/internal/logging"
	"driftpursuit/aimsolver/internal/metrics"
	"driftpursuit/aimsolver/internal/physics"
	"driftpursuit/aimsolver/internal/wire"
)

type stubRecorder struct {
	mu      sync.Mutex
	records []wire.AimResponse
	err     error
}

func (r *stubRecorder) Record(_ wire.AimRequest, resp wire.AimResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, resp)
	return r.err
}

func newTestService(opts ...Option) *Service {
	base := []Option{WithLogger(logging.NewTestLogger())}
	return NewService(aim.DefaultProfile(), true, append(base, opts...)...)
}

func vec(x, y, z float64) *physics.Vec3 {
	return &physics.Vec3{X: x, Y: y, Z: z}
}

func TestSolveStationaryTarget(t *testing.T) {
	solveMetrics := metrics.NewSolveMetrics()
	recorder := &stubRecorder{}
	service := newTestService(WithMetrics(solveMetrics), WithRecorder(recorder))

	resp := service.Solve(context.Background(), wire.AimRequest{Tick: 7, Shooter: vec(0, 0, 0), Target: vec(0, 0, 20)})
	if !resp.OK {
		t.Fatalf("expected solution, got error %q", resp.Error)
	}
	if resp.ID == "" {
		t.Fatal("expected generated request id")
	}
	if resp.Tick != 7 || resp.Strategy != string(aim.StrategyDrag) {
		t.Fatalf("unexpected response %+v", resp)
	}
	if length := resp.Direction.Length(); math.Abs(length-1) > 1e-9 {
		t.Fatalf("expected unit direction, got length %f", length)
	}
	if resp.Direction.Y <= 0 || resp.Direction.Z < 0.99 {
		t.Fatalf("expected flat forward shot, got %+v", *resp.Direction)
	}

	snapshot := solveMetrics.Snapshot()
	if snapshot.Total != 1 || snapshot.Failures != 0 {
		t.Fatalf("unexpected metrics %+v", snapshot)
	}
	if len(recorder.records) != 1 || recorder.records[0].ID != resp.ID {
		t.Fatalf("expected one audit record, got %+v", recorder.records)
	}
}

func TestSolveReportsFailuresAsResults(t *testing.T) {
	solveMetrics := metrics.NewSolveMetrics()
	recorder := &stubRecorder{err: errors.New("disk full")}
	service := newTestService(WithMetrics(solveMetrics), WithRecorder(recorder))

	missing := service.Solve(context.Background(), wire.AimRequest{ID: "m", Target: vec(0, 0, 1)})
	if missing.OK || missing.Error != wire.ErrMissingVectors.Error() {
		t.Fatalf("expected missing vector failure, got %+v", missing)
	}
	muzzle := service.Solve(context.Background(), wire.AimRequest{ID: "z", Shooter: vec(1, 2, 3), Target: vec(1, 2, 3)})
	if muzzle.OK || muzzle.Error != aim.ErrNoSolution.Error() || muzzle.ID != "z" {
		t.Fatalf("expected no solution, got %+v", muzzle)
	}
	if snapshot := solveMetrics.Snapshot(); snapshot.Failures != 2 {
		t.Fatalf("expected two failures, got %+v", snapshot)
	}
	if len(recorder.records) != 2 {
		t.Fatalf("expected failures to be recorded despite sink errors, got %d", len(recorder.records))
	}
}

func TestSolveHonoursRequestOverrides(t *testing.T) {
	service := newTestService()
	noFallback := false
	speed := 0.5

	//1.- A slow shot with the fallback disabled cannot reach a distant target.
	resp := service.Solve(context.Background(), wire.AimRequest{
		Shooter:     vec(0, 0, 0),
		Target:      vec(0, 0, 2000),
		LaunchSpeed: &speed,
		Fallback:    &noFallback,
	})
	if resp.OK && resp.Strategy != string(aim.StrategyDrag) {
		t.Fatalf("fallback must stay disabled, got %+v", resp)
	}

	gravity := 0.0
	resp = service.Solve(context.Background(), wire.AimRequest{Shooter: vec(0, 0, 0), Target: vec(3, 0, 4), Gravity: &gravity})
	if !resp.OK {
		t.Fatalf("expected solution without gravity, got %q", resp.Error)
	}
	if math.Abs(resp.Direction.X-0.6) > 1e-6 || math.Abs(resp.Direction.Z-0.8) > 1e-6 {
		t.Fatalf("expected straight line direction, got %+v", *resp.Direction)
	}
}

func TestSolveBatchPreservesOrder(t *testing.T) {
	service := newTestService(WithConcurrency(3))
	reqs := make([]wire.AimRequest, 10)
	for i := range reqs {
		reqs[i] = wire.AimRequest{ID: string(rune('a' + i)), Shooter: vec(0, 0, 0), Target: vec(float64(i), 5, 20)}
	}
	responses, err := service.SolveBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("SolveBatch returned error: %v", err)
	}
	if len(responses) != len(reqs) {
		t.Fatalf("expected %d responses, got %d", len(reqs), len(responses))
	}
	for i, resp := range responses {
		if resp.ID != reqs[i].ID {
			t.Fatalf("response %d out of order: %q", i, resp.ID)
		}
		if !resp.OK {
			t.Fatalf("response %d failed: %q", i, resp.Error)
		}
	}
}

func TestSolveBatchRejectsOversizedBatch(t *testing.T) {
	service := newTestService(WithBatchLimit(2))
	_, err := service.SolveBatch(context.Background(), make([]wire.AimRequest, 3))
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestSolveBatchStopsOnCancelledContext(t *testing.T) {
	service := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := service.SolveBatch(ctx, []wire.AimRequest{{Shooter: vec(0, 0, 0), Target: vec(0, 0, 5)}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSolveRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	service := newTestService(WithTracerProvider(provider))

	reqs := []wire.AimRequest{
		{ID: "hit", Shooter: vec(0, 0, 0), Target: vec(0, 0, 20)},
		{ID: "miss", Shooter: vec(0, 0, 0)},
	}
	if _, err := service.SolveBatch(context.Background(), reqs); err != nil {
		t.Fatalf("SolveBatch returned error: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected two solve spans and one batch span, got %d", len(spans))
	}
	var batch sdktrace.ReadOnlySpan
	byID := map[string]sdktrace.ReadOnlySpan{}
	for _, span := range spans {
		if span.Name() == "aim.solve_batch" {
			batch = span
			continue
		}
		for _, attr := range span.Attributes() {
			if attr.Key == "aim.request_id" {
				byID[attr.Value.AsString()] = span
			}
		}
	}
	if batch == nil || len(byID) != 2 {
		t.Fatalf("unexpected spans %+v", spans)
	}
	for id, span := range byID {
		if span.Parent().SpanID() != batch.SpanContext().SpanID() {
			t.Fatalf("solve span %s is not a child of the batch span", id)
		}
	}
	if byID["hit"].Status().Code != otelcodes.Unset {
		t.Fatalf("expected successful span status, got %+v", byID["hit"].Status())
	}
	if byID["miss"].Status().Code != otelcodes.Error {
		t.Fatalf("expected error status for failed solve, got %+v", byID["miss"].Status())
	}
}
