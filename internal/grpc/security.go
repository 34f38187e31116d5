package grpc

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	googlegrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"driftpursuit/aimsolver/internal/logging"
)

// SharedSecretMetadataKey carries the shared secret when bearer tokens are not used.
const SharedSecretMetadataKey = "x-aim-shared-secret"

// TraceMetadataKey propagates trace identifiers across RPCs.
const TraceMetadataKey = "x-trace-id"

const tracerName = "driftpursuit/aimsolver/grpc"

// SecurityOptions selects the transport security applied to the gRPC listener.
type SecurityOptions struct {
	SharedSecret string
	CertPath     string
	KeyPath      string
	ClientCAPath string
}

// ServerOptions builds the interceptor chain and credentials for the listener.
func ServerOptions(security SecurityOptions, logger *logging.Logger) ([]googlegrpc.ServerOption, error) {
	if logger == nil {
		logger = logging.L()
	}
	unary := []googlegrpc.UnaryServerInterceptor{traceUnaryInterceptor(logger)}
	stream := []googlegrpc.StreamServerInterceptor{traceStreamInterceptor(logger)}

	//1.- Shared-secret auth runs after tracing so rejections are logged with a trace ID.
	if secret := strings.TrimSpace(security.SharedSecret); secret != "" {
		unary = append(unary, SharedSecretUnaryInterceptor(secret))
		stream = append(stream, SharedSecretStreamInterceptor(secret))
		logger.Info("gRPC shared-secret authentication enabled")
	}
	opts := []googlegrpc.ServerOption{
		googlegrpc.ChainUnaryInterceptor(unary...),
		googlegrpc.ChainStreamInterceptor(stream...),
	}

	//2.- TLS is optional; a client CA upgrades it to mutual TLS.
	if security.CertPath != "" {
		creds, err := loadTLSCredentials(security.CertPath, security.KeyPath, security.ClientCAPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, googlegrpc.Creds(creds))
		if security.ClientCAPath != "" {
			logger.Info("gRPC mTLS enabled")
		} else {
			logger.Info("gRPC TLS enabled")
		}
	}
	return opts, nil
}

// SharedSecretUnaryInterceptor rejects unary calls that lack the shared secret.
func SharedSecretUnaryInterceptor(secret string) googlegrpc.UnaryServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(ctx context.Context, req any, info *googlegrpc.UnaryServerInfo, handler googlegrpc.UnaryHandler) (any, error) {
		if err := checkSharedSecret(ctx, normalized); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// SharedSecretStreamInterceptor rejects streams that lack the shared secret.
func SharedSecretStreamInterceptor(secret string) googlegrpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv any, ss googlegrpc.ServerStream, info *googlegrpc.StreamServerInfo, handler googlegrpc.StreamHandler) error {
		if err := checkSharedSecret(ss.Context(), normalized); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func checkSharedSecret(ctx context.Context, secret string) error {
	if secret == "" {
		return status.Error(codes.Unauthenticated, "shared secret not configured")
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

func extractSharedSecret(md metadata.MD) string {
	if md == nil {
		return ""
	}
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

func traceFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(TraceMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// metadataCarrier adapts incoming gRPC metadata to the OpenTelemetry propagator.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if values := metadata.MD(c).Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	return keys
}

// startServerSpan continues any W3C trace context the caller sent and opens a server span.
func startServerSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))
	}
	return otel.Tracer(tracerName).Start(ctx, method, trace.WithSpanKind(trace.SpanKindServer))
}

func endServerSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(otelcodes.Error, status.Code(err).String())
	}
	span.End()
}

func traceUnaryInterceptor(base *logging.Logger) googlegrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *googlegrpc.UnaryServerInfo, handler googlegrpc.UnaryHandler) (any, error) {
		ctx, span := startServerSpan(ctx, info.FullMethod)
		ctx, logger, _ := logging.WithTrace(ctx, base, traceFromMetadata(ctx))
		resp, err := handler(ctx, req)
		endServerSpan(span, err)
		if err != nil {
			logger.Warn("gRPC call failed", logging.String("method", info.FullMethod), logging.String("code", status.Code(err).String()))
		}
		return resp, err
	}
}

// tracedStream swaps the stream context for one carrying the trace logger.
type tracedStream struct {
	googlegrpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

func traceStreamInterceptor(base *logging.Logger) googlegrpc.StreamServerInterceptor {
	return func(srv any, ss googlegrpc.ServerStream, info *googlegrpc.StreamServerInfo, handler googlegrpc.StreamHandler) error {
		ctx, span := startServerSpan(ss.Context(), info.FullMethod)
		ctx, logger, _ := logging.WithTrace(ctx, base, traceFromMetadata(ctx))
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		endServerSpan(span, err)
		if err != nil {
			logger.Warn("gRPC stream failed", logging.String("method", info.FullMethod), logging.String("code", status.Code(err).String()))
		}
		return err
	}
}

func loadTLSCredentials(certPath, keyPath, caPath string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if caPath != "" {
		caBytes, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("failed to parse client ca bundle")
		}
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.ClientCAs = pool
	}
	return credentials.NewTLS(tlsConfig), nil
}
