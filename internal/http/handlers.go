package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"driftpursuit/aimsolver/internal/audit"
	"driftpursuit/aimsolver/internal/logging"
	"driftpursuit/aimsolver/internal/metrics"
	"driftpursuit/aimsolver/internal/targeting"
	"driftpursuit/aimsolver/internal/wire"
)

// DefaultMaxPayloadBytes bounds request bodies when Options leaves the limit unset.
const DefaultMaxPayloadBytes int64 = 64 << 10

// Solver answers aim requests; targeting.Service satisfies it.
type Solver interface {
	Solve(ctx context.Context, req wire.AimRequest) wire.AimResponse
	SolveBatch(ctx context.Context, reqs []wire.AimRequest) ([]wire.AimResponse, error)
}

// ReadinessProvider exposes service state required for readiness checks.
type ReadinessProvider interface {
	ActiveStreams() int
	StartupError() error
	Uptime() time.Duration
}

// AuditFlusher forces buffered audit frames to disk.
type AuditFlusher interface {
	Flush() error
}

// RateLimiter gates how frequently expensive operations may be invoked.
type RateLimiter interface {
	Reserve() (bool, time.Duration)
}

// Options configures the HandlerSet.
type Options struct {
	Logger          *logging.Logger
	Solver          Solver
	Readiness       ReadinessProvider
	Metrics         *metrics.SolveMetrics
	AuditStats      func() audit.Stats
	StorageStats    func() audit.StorageStats
	Audit           AuditFlusher
	AdminToken      string
	RateLimiter     RateLimiter
	MaxPayloadBytes int64
	TimeSource      func() time.Time
}

// HandlerSet bundles the aim service handlers.
type HandlerSet struct {
	logger       *logging.Logger
	solver       Solver
	readiness    ReadinessProvider
	metrics      *metrics.SolveMetrics
	auditStats   func() audit.Stats
	storageStats func() audit.StorageStats
	audit        AuditFlusher
	adminToken   string
	rateLimiter  RateLimiter
	maxPayload   int64
	now          func() time.Time
}

type batchRequest struct {
	Requests []wire.AimRequest `json:"requests"`
}

type batchResponse struct {
	Responses []wire.AimResponse `json:"responses"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	maxPayload := opts.MaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	return &HandlerSet{
		logger:       logger,
		solver:       opts.Solver,
		readiness:    opts.Readiness,
		metrics:      opts.Metrics,
		auditStats:   opts.AuditStats,
		storageStats: opts.StorageStats,
		audit:        opts.Audit,
		adminToken:   strings.TrimSpace(opts.AdminToken),
		rateLimiter:  opts.RateLimiter,
		maxPayload:   maxPayload,
		now:          now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/v1/aim", h.AimHandler())
	mux.HandleFunc("/v1/aim/batch", h.BatchHandler())
	mux.HandleFunc("/v1/audit/flush", h.AuditFlushHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including open streams and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Streams       int     `json:"streams"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.solver == nil {
			status = http.StatusServiceUnavailable
			resp.Status = "error"
			resp.Message = "solver not configured"
		}
		if h.readiness != nil {
			resp.Streams = h.readiness.ActiveStreams()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			uptime  float64
			streams int
		)
		if h.readiness != nil {
			uptime = h.readiness.Uptime().Seconds()
			streams = h.readiness.ActiveStreams()
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP aimsolver_uptime_seconds Service uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE aimsolver_uptime_seconds gauge\n")
		fmt.Fprintf(w, "aimsolver_uptime_seconds %.0f\n", uptime)

		fmt.Fprintf(w, "# HELP aimsolver_streams Open aim stream connections.\n")
		fmt.Fprintf(w, "# TYPE aimsolver_streams gauge\n")
		fmt.Fprintf(w, "aimsolver_streams %d\n", streams)

		if h.metrics != nil {
			snapshot := h.metrics.Snapshot()
			fmt.Fprintf(w, "# HELP aimsolver_solves_total Accepted solves by strategy and phase.\n")
			fmt.Fprintf(w, "# TYPE aimsolver_solves_total counter\n")
			for _, key := range snapshot.SortedOutcomes() {
				fmt.Fprintf(w, "aimsolver_solves_total{strategy=%q,phase=%q} %d\n", key.Strategy, key.Phase, snapshot.Outcomes[key])
			}
			fmt.Fprintf(w, "# HELP aimsolver_solve_failures_total Solves that produced no direction.\n")
			fmt.Fprintf(w, "# TYPE aimsolver_solve_failures_total counter\n")
			fmt.Fprintf(w, "aimsolver_solve_failures_total %d\n", snapshot.Failures)
			fmt.Fprintf(w, "# HELP aimsolver_solve_seconds Solve latency.\n")
			fmt.Fprintf(w, "# TYPE aimsolver_solve_seconds summary\n")
			fmt.Fprintf(w, "aimsolver_solve_seconds_sum %.6f\n", snapshot.LatencySum.Seconds())
			fmt.Fprintf(w, "aimsolver_solve_seconds_count %d\n", snapshot.Total)
			fmt.Fprintf(w, "# HELP aimsolver_solve_seconds_max Slowest observed solve.\n")
			fmt.Fprintf(w, "# TYPE aimsolver_solve_seconds_max gauge\n")
			fmt.Fprintf(w, "aimsolver_solve_seconds_max %.6f\n", snapshot.LatencyMax.Seconds())
		}
		if h.auditStats != nil {
			stats := h.auditStats()
			fmt.Fprintf(w, "# HELP aimsolver_audit_records_total Solves written to the audit log.\n")
			fmt.Fprintf(w, "# TYPE aimsolver_audit_records_total counter\n")
			fmt.Fprintf(w, "aimsolver_audit_records_total %d\n", stats.Records)
			fmt.Fprintf(w, "# HELP aimsolver_audit_buffer_frames Buffered direction frames awaiting flush.\n")
			fmt.Fprintf(w, "# TYPE aimsolver_audit_buffer_frames gauge\n")
			fmt.Fprintf(w, "aimsolver_audit_buffer_frames %d\n", stats.BufferedFrames)
		}
		if h.storageStats != nil {
			stats := h.storageStats()
			fmt.Fprintf(w, "# HELP aimsolver_audit_bundles Audit bundles retained on disk.\n")
			fmt.Fprintf(w, "# TYPE aimsolver_audit_bundles gauge\n")
			fmt.Fprintf(w, "aimsolver_audit_bundles %d\n", stats.Bundles)
			fmt.Fprintf(w, "# HELP aimsolver_audit_bytes Disk usage of retained audit bundles.\n")
			fmt.Fprintf(w, "# TYPE aimsolver_audit_bytes gauge\n")
			fmt.Fprintf(w, "aimsolver_audit_bytes %d\n", stats.Bytes)
		}
	}
}

// AimHandler solves a single request.
func (h *HandlerSet) AimHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.solver == nil {
			http.Error(w, "solver unavailable", http.StatusServiceUnavailable)
			return
		}
		req, err := wire.DecodeRequest(http.MaxBytesReader(w, r.Body, h.maxPayload))
		if err != nil {
			h.rejectBody(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, h.solver.Solve(r.Context(), req))
	}
}

// BatchHandler solves several requests in one call, subject to the rate limiter.
func (h *HandlerSet) BatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.LoggerFromContext(r.Context()).With(
			logging.String("handler", "aim_batch"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.solver == nil {
			http.Error(w, "solver unavailable", http.StatusServiceUnavailable)
			return
		}
		if h.rateLimiter != nil {
			if ok, wait := h.rateLimiter.Reserve(); !ok {
				reqLogger.Warn("aim batch denied: rate limit exceeded", logging.Duration("retry_after", wait))
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
		}

		//1.- Decode strictly so typos in field names surface as client errors.
		var batch batchRequest
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxPayload))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&batch); err != nil {
			h.rejectBody(w, r, fmt.Errorf("decode aim batch: %w", err))
			return
		}

		//2.- Solve, mapping an oversized batch to 413 and cancellation to 503.
		responses, err := h.solver.SolveBatch(r.Context(), batch.Requests)
		switch {
		case errors.Is(err, targeting.ErrBatchTooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return
		case err != nil:
			reqLogger.Warn("aim batch aborted", logging.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "batch aborted"})
			return
		}
		if responses == nil {
			responses = []wire.AimResponse{}
		}
		writeJSON(w, http.StatusOK, batchResponse{Responses: responses})
	}
}

// AuditFlushHandler authorises and forces buffered audit frames to disk.
func (h *HandlerSet) AuditFlushHandler() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "audit_flush"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("audit flush denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("audit flush denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.audit == nil {
			http.Error(w, "audit recording is disabled", http.StatusServiceUnavailable)
			return
		}
		if err := h.audit.Flush(); err != nil {
			reqLogger.Error("audit flush failed", logging.Error(err))
			http.Error(w, "failed to flush audit frames", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("audit frames flushed")
		writeJSON(w, http.StatusOK, response{Status: "flushed"})
	}
}

func (h *HandlerSet) rejectBody(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}
	logging.LoggerFromContext(r.Context()).Debug("aim request rejected", logging.Error(err))
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
