package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHTTPAddr is the default TCP address for the HTTP and WebSocket listener.
	DefaultHTTPAddr = ":43180"
	// DefaultGRPCAddr is the default TCP address for the gRPC listener.
	DefaultGRPCAddr = ":43181"
	// DefaultPingInterval controls the keepalive cadence for aim stream connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound request bodies and WebSocket frames.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultBatchLimit bounds how many requests a single batch call may carry.
	DefaultBatchLimit = 64
	// DefaultBatchWindow is the sliding window applied to batch solve calls.
	DefaultBatchWindow = time.Second
	// DefaultBatchBurst sets how many batch calls may be made per window.
	DefaultBatchBurst = 20

	// DefaultDragRatio mirrors the standard arrow tuning.
	DefaultDragRatio = 0.99
	// DefaultGravity mirrors the standard arrow tuning.
	DefaultGravity = 0.05
	// DefaultLaunchSpeed mirrors a fully charged shot.
	DefaultLaunchSpeed = 3.0
	// DefaultFallback enables the quadratic backup solver.
	DefaultFallback = true

	// DefaultAuditMaxBundles caps retained audit bundles; zero keeps everything.
	DefaultAuditMaxBundles = 0
	// DefaultAuditMaxAge removes audit bundles older than this; zero disables age pruning.
	DefaultAuditMaxAge time.Duration = 0

	// DefaultLogLevel controls verbosity for service logs.
	DefaultLogLevel = "info"

	// DefaultTraceSampleRatio samples every solve when an OTLP endpoint is configured.
	DefaultTraceSampleRatio = 1.0
)

// Config captures all runtime tunables for the aim service.
type Config struct {
	HTTPAddr         string
	GRPCAddr         string
	GRPCSharedSecret string
	GRPCTLSCertPath  string
	GRPCTLSKeyPath   string
	GRPCClientCAPath string
	AdminToken       string
	StreamSecret     string
	MaxPayloadBytes  int64
	PingInterval     time.Duration
	BatchLimit       int
	BatchWindow      time.Duration
	BatchBurst       int
	AuditDir         string
	AuditMaxBundles  int
	AuditMaxAge      time.Duration
	Physics          PhysicsConfig
	Logging          LoggingConfig
	Telemetry        TelemetryConfig
}

// PhysicsConfig holds the default projectile profile applied when requests omit overrides.
type PhysicsConfig struct {
	DragRatio   float64
	Gravity     float64
	LaunchSpeed float64
	Fallback    bool
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level string
	Path  string
}

// TelemetryConfig selects the OpenTelemetry exporters. An empty endpoint keeps tracing local.
type TelemetryConfig struct {
	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64
}

// Load reads the service configuration from environment variables, applying defaults and
// returning one aggregated error describing every invalid override.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:         getString("AIM_HTTP_ADDR", DefaultHTTPAddr),
		GRPCAddr:         DefaultGRPCAddr,
		GRPCSharedSecret: strings.TrimSpace(os.Getenv("AIM_GRPC_SHARED_SECRET")),
		GRPCTLSCertPath:  strings.TrimSpace(os.Getenv("AIM_GRPC_TLS_CERT")),
		GRPCTLSKeyPath:   strings.TrimSpace(os.Getenv("AIM_GRPC_TLS_KEY")),
		GRPCClientCAPath: strings.TrimSpace(os.Getenv("AIM_GRPC_CLIENT_CA")),
		AdminToken:       strings.TrimSpace(os.Getenv("AIM_ADMIN_TOKEN")),
		StreamSecret:     strings.TrimSpace(os.Getenv("AIM_STREAM_TOKEN_SECRET")),
		MaxPayloadBytes:  DefaultMaxPayloadBytes,
		PingInterval:     DefaultPingInterval,
		BatchLimit:       DefaultBatchLimit,
		BatchWindow:      DefaultBatchWindow,
		BatchBurst:       DefaultBatchBurst,
		AuditDir:         strings.TrimSpace(os.Getenv("AIM_AUDIT_DIR")),
		AuditMaxBundles:  DefaultAuditMaxBundles,
		AuditMaxAge:      DefaultAuditMaxAge,
		Physics: PhysicsConfig{
			DragRatio:   DefaultDragRatio,
			Gravity:     DefaultGravity,
			LaunchSpeed: DefaultLaunchSpeed,
			Fallback:    DefaultFallback,
		},
		Logging: LoggingConfig{
			Level: getString("AIM_LOG_LEVEL", DefaultLogLevel),
			Path:  strings.TrimSpace(os.Getenv("AIM_LOG_PATH")),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:     strings.TrimSpace(os.Getenv("AIM_OTLP_ENDPOINT")),
			TraceSampleRatio: DefaultTraceSampleRatio,
		},
	}

	var problems []string

	//1.- An explicitly empty gRPC address disables the listener, so only trim when set.
	if raw, ok := os.LookupEnv("AIM_GRPC_ADDR"); ok {
		cfg.GRPCAddr = strings.TrimSpace(raw)
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_DRAG_RATIO")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || !finite(value) || value <= 0 || value >= 1 {
			problems = append(problems, fmt.Sprintf("AIM_DRAG_RATIO must lie strictly between 0 and 1, got %q", raw))
		} else {
			cfg.Physics.DragRatio = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_GRAVITY")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || !finite(value) || value < 0 {
			problems = append(problems, fmt.Sprintf("AIM_GRAVITY must be a non-negative number, got %q", raw))
		} else {
			cfg.Physics.Gravity = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_LAUNCH_SPEED")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || !finite(value) || value <= 0 {
			problems = append(problems, fmt.Sprintf("AIM_LAUNCH_SPEED must be a positive number, got %q", raw))
		} else {
			cfg.Physics.LaunchSpeed = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_FALLBACK")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("AIM_FALLBACK must be a boolean value, got %q", raw))
		} else {
			cfg.Physics.Fallback = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("AIM_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("AIM_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_BATCH_LIMIT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("AIM_BATCH_LIMIT must be a positive integer, got %q", raw))
		} else {
			cfg.BatchLimit = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_BATCH_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("AIM_BATCH_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.BatchWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_BATCH_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("AIM_BATCH_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.BatchBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_AUDIT_MAX_BUNDLES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("AIM_AUDIT_MAX_BUNDLES must be a non-negative integer, got %q", raw))
		} else {
			cfg.AuditMaxBundles = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_AUDIT_MAX_AGE")); raw != "" {
		value, err := time.ParseDuration(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("AIM_AUDIT_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.AuditMaxAge = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_OTLP_INSECURE")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("AIM_OTLP_INSECURE must be a boolean value, got %q", raw))
		} else {
			cfg.Telemetry.OTLPInsecure = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("AIM_TRACE_SAMPLE_RATIO")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || !finite(value) || value < 0 || value > 1 {
			problems = append(problems, fmt.Sprintf("AIM_TRACE_SAMPLE_RATIO must lie between 0 and 1, got %q", raw))
		} else {
			cfg.Telemetry.TraceSampleRatio = value
		}
	}

	if cfg.GRPCSharedSecret != "" && cfg.GRPCAddr == "" {
		problems = append(problems, "AIM_GRPC_SHARED_SECRET requires AIM_GRPC_ADDR")
	}

	if (cfg.GRPCTLSCertPath == "") != (cfg.GRPCTLSKeyPath == "") {
		problems = append(problems, "AIM_GRPC_TLS_CERT and AIM_GRPC_TLS_KEY must be set together")
	}
	if cfg.GRPCClientCAPath != "" && cfg.GRPCTLSCertPath == "" {
		problems = append(problems, "AIM_GRPC_CLIENT_CA requires AIM_GRPC_TLS_CERT and AIM_GRPC_TLS_KEY")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
