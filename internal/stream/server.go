// Package stream serves per-tick aim solves over a WebSocket connection.
package stream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"driftpursuit/aimsolver/internal/logging"
	"driftpursuit/aimsolver/internal/wire"
)

const (
	// DefaultPingInterval matches the keepalive cadence of the HTTP listener.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes bounds a single inbound frame.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// writeWait bounds each outbound frame and control message.
	writeWait = 10 * time.Second
	// queueDepth buffers responses between the reader and writer loops.
	queueDepth = 64
)

// Solver answers a single aim request.
type Solver interface {
	Solve(ctx context.Context, req wire.AimRequest) wire.AimResponse
}

// Authenticator verifies a connecting client and returns its subject.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Options configures the stream endpoint.
type Options struct {
	Logger          *logging.Logger
	Authenticator   Authenticator
	MaxPayloadBytes int64
	PingInterval    time.Duration
	CheckOrigin     func(r *http.Request) bool
}

// Server upgrades HTTP requests and answers one AimResponse per inbound AimRequest.
type Server struct {
	solver       Solver
	log          *logging.Logger
	auth         Authenticator
	upgrader     websocket.Upgrader
	maxPayload   int64
	pingInterval time.Duration
	active       atomic.Int64
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewServer constructs a stream endpoint backed by solver.
func NewServer(solver Solver, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	maxPayload := opts.MaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = DefaultPingInterval
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:          ctx,
		cancel:       cancel,
		solver:       solver,
		log:          logger,
		auth:         opts.Authenticator,
		upgrader:     websocket.Upgrader{CheckOrigin: checkOrigin},
		maxPayload:   maxPayload,
		pingInterval: ping,
	}
}

// ActiveStreams reports how many connections are currently open.
func (s *Server) ActiveStreams() int {
	return int(s.active.Load())
}

// Close ends every open stream with a going-away frame. Streams opened afterwards close at once.
func (s *Server) Close() {
	s.cancel()
}

// ServeHTTP upgrades the connection and runs the reader and writer loops until either side stops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subject := ""
	if s.auth != nil {
		authenticated, err := s.auth.Authenticate(r)
		if err != nil {
			s.log.Warn("aim stream rejected", logging.Error(err), logging.String("remote_addr", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		subject = authenticated
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("aim stream upgrade failed", logging.Error(err), logging.String("remote_addr", r.RemoteAddr))
		return
	}
	s.active.Add(1)
	defer s.active.Add(-1)

	streamID := uuid.NewString()
	logger := logging.LoggerFromContext(r.Context())
	if logger == logging.L() {
		logger = s.log
	}
	logger = logger.With(logging.String("stream_id", streamID), logging.String("remote_addr", r.RemoteAddr))
	if subject != "" {
		logger = logger.With(logging.String("subject", subject))
	}
	logger.Info("aim stream opened")

	//1.- Detach from the request lifetime but keep its values so trace IDs follow the stream.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	ctx = logging.ContextWithLogger(ctx, logger)

	//2.- An unanswered ping leaves the read deadline to expire and closes the stream.
	pongWait := 2 * s.pingInterval
	conn.SetReadLimit(s.maxPayload)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	responses := make(chan wire.AimResponse, queueDepth)
	var solved atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(responses)
		return s.readLoop(groupCtx, conn, pongWait, responses, &solved)
	})
	group.Go(func() error {
		defer conn.Close()
		return s.writeLoop(groupCtx, conn, responses)
	})

	if err := group.Wait(); err != nil && !isExpectedClose(err) {
		logger.Warn("aim stream terminated", logging.Error(err), logging.Int("solves", int(solved.Load())))
		return
	}
	logger.Info("aim stream closed", logging.Int("solves", int(solved.Load())))
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, pongWait time.Duration, out chan<- wire.AimResponse, solved *atomic.Int64) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		//1.- Malformed frames still get an answer so clients can keep their tick pairing.
		var resp wire.AimResponse
		req, err := wire.DecodeRequest(bytes.NewReader(data))
		if err != nil {
			resp = wire.AimResponse{OK: false, Error: err.Error()}
		} else {
			resp = s.solver.Solve(ctx, req)
			solved.Add(1)
		}

		select {
		case out <- resp:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, in <-chan wire.AimResponse) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if s.ctx.Err() != nil {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
			}
			return nil
		case resp, ok := <-in:
			if !ok {
				//1.- The reader finished; say goodbye politely before the socket closes.
				deadline := time.Now().Add(writeWait)
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(resp); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func isExpectedClose(err error) bool {
	return errors.Is(err, context.Canceled) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
