package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	googlegrpc "google.golang.org/grpc"

	"driftpursuit/aimsolver/internal/aim"
	"driftpursuit/aimsolver/internal/audit"
	"driftpursuit/aimsolver/internal/auth"
	"driftpursuit/aimsolver/internal/config"
	aimgrpc "driftpursuit/aimsolver/internal/grpc"
	httpapi "driftpursuit/aimsolver/internal/http"
	"driftpursuit/aimsolver/internal/logging"
	"driftpursuit/aimsolver/internal/metrics"
	"driftpursuit/aimsolver/internal/stream"
	"driftpursuit/aimsolver/internal/targeting"
)

const (
	streamPath          = "/v1/aim/stream"
	shutdownTimeout     = 10 * time.Second
	auditFlushInterval  = time.Second
	auditRetentionSweep = time.Hour
)

// app owns every long-lived component of the aim service.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	started  time.Time
	draining atomic.Bool
	metrics  *metrics.SolveMetrics
	service  *targeting.Service
	stream   *stream.Server
	audit    *audit.Writer
	cleaner  *audit.Cleaner
}

func newApp(cfg *config.Config, logger *logging.Logger) (*app, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	a := &app{cfg: cfg, log: logger, started: time.Now(), metrics: metrics.NewSolveMetrics()}

	//1.- Audit recording is optional and only enabled by a directory.
	opts := []targeting.Option{
		targeting.WithLogger(logger),
		targeting.WithMetrics(a.metrics),
		targeting.WithBatchLimit(cfg.BatchLimit),
	}
	if cfg.AuditDir != "" {
		writer, manifest, err := audit.NewWriter(cfg.AuditDir, "aim", nil)
		if err != nil {
			return nil, fmt.Errorf("open audit bundle: %w", err)
		}
		a.audit = writer
		a.cleaner = audit.NewCleaner(cfg.AuditDir, audit.RetentionPolicy{MaxBundles: cfg.AuditMaxBundles, MaxAge: cfg.AuditMaxAge}, logger)
		opts = append(opts, targeting.WithRecorder(writer))
		logger.Info("audit recording enabled", logging.String("bundle", writer.Directory()), logging.String("created_at", manifest.CreatedAt))
	}

	profile := aim.Profile{
		DragRatio:   cfg.Physics.DragRatio,
		Gravity:     cfg.Physics.Gravity,
		LaunchSpeed: cfg.Physics.LaunchSpeed,
	}
	a.service = targeting.NewService(profile, cfg.Physics.Fallback, opts...)

	//2.- Stream tokens are optional; without a secret the stream is open.
	streamOpts := stream.Options{
		Logger:          logger,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		PingInterval:    cfg.PingInterval,
	}
	if cfg.StreamSecret != "" {
		authority, err := auth.NewAuthority(cfg.StreamSecret, auth.DefaultLeeway)
		if err != nil {
			a.close()
			return nil, err
		}
		streamOpts.Authenticator = authority
	}
	a.stream = stream.NewServer(a.service, streamOpts)
	return a, nil
}

// ActiveStreams implements httpapi.ReadinessProvider.
func (a *app) ActiveStreams() int { return a.stream.ActiveStreams() }

// StartupError implements httpapi.ReadinessProvider; a draining service is no longer ready.
func (a *app) StartupError() error {
	if a.draining.Load() {
		return errors.New("shutting down")
	}
	return nil
}

// Uptime implements httpapi.ReadinessProvider.
func (a *app) Uptime() time.Duration { return time.Since(a.started) }

func (a *app) httpHandler() http.Handler {
	handlerOpts := httpapi.Options{
		Logger:          a.log,
		Solver:          a.service,
		Readiness:       a,
		Metrics:         a.metrics,
		AdminToken:      a.cfg.AdminToken,
		RateLimiter:     httpapi.NewWindowLimiter(a.cfg.BatchWindow, a.cfg.BatchBurst, nil),
		MaxPayloadBytes: a.cfg.MaxPayloadBytes,
	}
	if a.audit != nil {
		handlerOpts.Audit = a.audit
		handlerOpts.AuditStats = a.audit.Stats
		handlerOpts.StorageStats = a.cleaner.Stats
	}
	mux := http.NewServeMux()
	httpapi.NewHandlerSet(handlerOpts).Register(mux)
	mux.Handle(streamPath, a.stream)
	//1.- otelhttp runs outermost so the trace middleware can reuse its span's trace ID.
	return otelhttp.NewHandler(logging.HTTPTraceMiddleware(a.log)(mux), "aimsolver.http")
}

func (a *app) grpcServer() (*googlegrpc.Server, error) {
	opts, err := aimgrpc.ServerOptions(aimgrpc.SecurityOptions{
		SharedSecret: a.cfg.GRPCSharedSecret,
		CertPath:     a.cfg.GRPCTLSCertPath,
		KeyPath:      a.cfg.GRPCTLSKeyPath,
		ClientCAPath: a.cfg.GRPCClientCAPath,
	}, a.log)
	if err != nil {
		return nil, err
	}
	opts = append(opts, googlegrpc.MaxRecvMsgSize(int(a.cfg.MaxPayloadBytes)))
	server := googlegrpc.NewServer(opts...)
	aimgrpc.Register(server, aimgrpc.NewService(a.service, aimgrpc.WithLogger(a.log)))
	return server, nil
}

// run serves every listener until ctx is cancelled or one of them fails.
func (a *app) run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.httpHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpListener, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	a.log.Info("aim service listening",
		logging.String("http", endpointURL("http", a.cfg.HTTPAddr, "")),
		logging.String("stream", endpointURL("ws", a.cfg.HTTPAddr, streamPath)),
	)
	group.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	//1.- The gRPC listener is optional and shares the shutdown signal.
	var grpcServer *googlegrpc.Server
	if a.cfg.GRPCAddr != "" {
		grpcServer, err = a.grpcServer()
		if err != nil {
			httpServer.Close()
			return err
		}
		grpcListener, err := net.Listen("tcp", a.cfg.GRPCAddr)
		if err != nil {
			httpServer.Close()
			return fmt.Errorf("listen grpc: %w", err)
		}
		a.log.Info("aim gRPC service listening", logging.String("grpc", endpointURL("grpc", a.cfg.GRPCAddr, "")))
		group.Go(func() error {
			if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, googlegrpc.ErrServerStopped) {
				return fmt.Errorf("serve grpc: %w", err)
			}
			return nil
		})
	}

	//2.- Audit housekeeping runs alongside the listeners.
	if a.audit != nil {
		group.Go(func() error {
			a.cleaner.Run(groupCtx, auditRetentionSweep)
			return nil
		})
		group.Go(func() error {
			return a.flushAudit(groupCtx)
		})
	}

	//3.- Drain on cancellation: readiness flips first, then listeners stop.
	group.Go(func() error {
		<-groupCtx.Done()
		a.draining.Store(true)
		a.log.Info("aim service shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		//4.- Hijacked stream sockets are invisible to Shutdown, so they are closed explicitly.
		a.stream.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func (a *app) flushAudit(ctx context.Context) error {
	ticker := time.NewTicker(auditFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.audit.Flush(); err != nil {
				a.log.Warn("audit flush failed", logging.Error(err))
			}
		}
	}
}

func (a *app) close() error {
	if a.audit == nil {
		return nil
	}
	return a.audit.Close()
}
