// Package targeting runs aim solves on behalf of the transports and records their outcome.
package targeting

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"driftpursuit/aimsolver/internal/aim"
	"driftpursuit/aimsolver/internal/logging"
	"driftpursuit/aimsolver/internal/metrics"
	"driftpursuit/aimsolver/internal/wire"
)

// TracerName identifies solve spans.
const TracerName = "driftpursuit/aimsolver/targeting"

// ErrBatchTooLarge rejects batches above the configured limit.
var ErrBatchTooLarge = errors.New("batch exceeds request limit")

// Recorder persists solve outcomes, typically an audit.Writer.
type Recorder interface {
	Record(req wire.AimRequest, resp wire.AimResponse) error
}

// Service solves aim requests against a default projectile profile.
type Service struct {
	profile     aim.Profile
	fallback    bool
	metrics     *metrics.SolveMetrics
	recorder    Recorder
	log         *logging.Logger
	tracer      trace.Tracer
	batchLimit  int
	concurrency int
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics attaches solve telemetry.
func WithMetrics(m *metrics.SolveMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRecorder attaches an audit sink.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger overrides the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry provider for solve spans.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Service) {
		if provider != nil {
			s.tracer = provider.Tracer(TracerName)
		}
	}
}

// WithBatchLimit caps how many requests SolveBatch accepts.
func WithBatchLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.batchLimit = limit
		}
	}
}

// WithConcurrency bounds how many batch solves run in parallel.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService constructs a solve service.
func NewService(profile aim.Profile, fallback bool, opts ...Option) *Service {
	s := &Service{
		profile:     profile,
		fallback:    fallback,
		log:         logging.L(),
		tracer:      otel.GetTracerProvider().Tracer(TracerName),
		batchLimit:  64,
		concurrency: runtime.GOMAXPROCS(0),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Profile returns the default projectile profile.
func (s *Service) Profile() aim.Profile {
	return s.profile
}

// Fallback reports whether the quadratic fallback is enabled by default.
func (s *Service) Fallback() bool {
	return s.fallback
}

// BatchLimit reports the maximum batch size.
func (s *Service) BatchLimit() int {
	return s.batchLimit
}

// Solve answers a single request. Solver failures are reported in the response, never as errors.
func (s *Service) Solve(ctx context.Context, req wire.AimRequest) wire.AimResponse {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx, span := s.tracer.Start(ctx, "aim.solve", trace.WithAttributes(
		attribute.String("aim.request_id", req.ID),
		attribute.Int64("aim.tick", int64(req.Tick)),
	))
	defer span.End()

	logger := s.log
	if scoped := logging.LoggerFromContext(ctx); scoped != nil && scoped != logging.L() {
		logger = scoped
	}
	logger = logger.With(logging.String("request_id", req.ID), logging.Uint64("tick", req.Tick))

	started := s.now()
	resp, cause := s.solve(req)
	elapsed := s.now().Sub(started)

	//1.- Count the outcome before logging so metrics reflect every call.
	span.SetAttributes(attribute.Bool("aim.ok", resp.OK))
	if resp.OK {
		span.SetAttributes(
			attribute.String("aim.strategy", resp.Strategy),
			attribute.String("aim.phase", resp.Phase),
			attribute.Float64("aim.flight_time", resp.FlightTime),
		)
		if s.metrics != nil {
			s.metrics.ObserveSuccess(resp.Strategy, resp.Phase, elapsed)
		}
		logger.Debug("aim solved",
			logging.String("strategy", resp.Strategy),
			logging.String("phase", resp.Phase),
			logging.Float64("flight_time", resp.FlightTime),
			logging.Float64("residual", resp.Residual),
			logging.Duration("elapsed", elapsed),
		)
	} else {
		span.SetStatus(codes.Error, resp.Error)
		if s.metrics != nil {
			s.metrics.ObserveFailure(elapsed)
		}
		logger.Info("aim unsolved", logging.Error(cause), logging.Duration("elapsed", elapsed))
	}

	//2.- Audit failures are logged and otherwise ignored; the caller still gets its answer.
	if s.recorder != nil {
		if err := s.recorder.Record(req, resp); err != nil {
			logger.Warn("aim audit record failed", logging.Error(err))
		}
	}
	return resp
}

func (s *Service) solve(req wire.AimRequest) (wire.AimResponse, error) {
	if err := req.Validate(); err != nil {
		return wire.Failure(req, err), err
	}
	solver := aim.NewSolver(req.Profile(s.profile), req.UseFallback(s.fallback))
	solution, err := solver.Solve(*req.Shooter, *req.Target, req.Velocity)
	if err != nil {
		return wire.Failure(req, err), err
	}
	return wire.FromSolution(req, solution), nil
}

// SolveBatch answers every request concurrently, preserving input order.
func (s *Service) SolveBatch(ctx context.Context, reqs []wire.AimRequest) ([]wire.AimResponse, error) {
	if len(reqs) > s.batchLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(reqs), s.batchLimit)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.tracer.Start(ctx, "aim.solve_batch", trace.WithAttributes(attribute.Int("aim.batch_size", len(reqs))))
	defer span.End()

	responses := make([]wire.AimResponse, len(reqs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i := range reqs {
		group.Go(func() error {
			//1.- Stop scheduling once the caller gives up.
			if err := groupCtx.Err(); err != nil {
				return err
			}
			responses[i] = s.Solve(groupCtx, reqs[i])
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return responses, nil
}
