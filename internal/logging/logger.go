package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"driftpursuit/aimsolver/internal/config"
)

// TraceIDHeader is the canonical HTTP header for propagating trace IDs between services.
const TraceIDHeader = "X-Trace-ID"

// TraceIDField is the canonical structured logging field for trace identifiers.
const TraceIDField = "trace_id"

type contextKey string

var (
	loggerContextKey = contextKey("aim-logger")
	traceContextKey  = contextKey("aim-trace-id")

	globalMu     sync.RWMutex
	globalLogger = newNopLogger()
)

// Level represents log verbosity ordering.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"debug", "info", "warn", "error", "fatal"}

var slogLevels = [...]slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError, slog.LevelError + 4}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "info"
	}
	return levelNames[l]
}

// ParseLevel maps a textual level onto Level; empty input means info.
func ParseLevel(raw string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "":
		return InfoLevel, nil
	case "warning":
		return WarnLevel, nil
	}
	for i, candidate := range levelNames {
		if candidate == name {
			return Level(i), nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", raw)
}

// Field is one structured attribute; fields render in the order they were attached.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field          { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field   { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Duration renders value in fractional milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: float64(value) / float64(time.Millisecond)}
}

// Error records err under the "error" key; nil renders as null.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger writes one JSON object per line: timestamp, level and message first, then fields.
type Logger struct {
	mu     *sync.Mutex
	level  Level
	writer io.Writer
	fields []Field
	closer io.Closer
	now    func() time.Time
	mirror *atomic.Pointer[slog.Logger]
}

// New builds the process logger from configuration, tees to cfg.Path when set and installs it
// as the global fallback.
func New(cfg config.LoggingConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		logger := NewWithWriter(level, os.Stdout)
		ReplaceGlobals(logger)
		return logger, nil
	}
	//1.- Relative log paths resolve against the working directory; create parents on demand.
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger := NewWithWriter(level, io.MultiWriter(os.Stdout, file))
	logger.closer = file
	ReplaceGlobals(logger)
	return logger, nil
}

// NewWithWriter builds a logger that writes to w, tagged with the service name.
func NewWithWriter(level Level, w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	return &Logger{
		mu:     &sync.Mutex{},
		level:  level,
		writer: w,
		fields: []Field{String("service", "aimsolver")},
		now:    time.Now,
		mirror: &atomic.Pointer[slog.Logger]{},
	}
}

// NewTestLogger discards everything.
func NewTestLogger() *Logger {
	return newNopLogger()
}

func newNopLogger() *Logger {
	return &Logger{mu: &sync.Mutex{}, level: DebugLevel, writer: io.Discard, now: time.Now, mirror: &atomic.Pointer[slog.Logger]{}}
}

// ReplaceGlobals swaps the fallback logger used when no context logger is present.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With returns a child logger sharing the writer; a repeated key replaces the parent's value.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	child := *l
	child.closer = nil
	child.fields = mergeFields(l.fields, fields)
	return &child
}

func mergeFields(base, extra []Field) []Field {
	merged := make([]Field, 0, len(base)+len(extra))
	merged = append(merged, base...)
	for _, field := range extra {
		replaced := false
		for i := range merged {
			if merged[i].Key == field.Key {
				merged[i] = field
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, field)
		}
	}
	return merged
}

// Mirror forwards every emitted entry to m as well, typically the OpenTelemetry slog bridge.
// Children created with With share the mirror, before or after the call.
func (l *Logger) Mirror(m *slog.Logger) {
	if l == nil || l.mirror == nil {
		return
	}
	l.mirror.Store(m)
}

func (l *Logger) loadMirror() *slog.Logger {
	if l.mirror == nil {
		return nil
	}
	return l.mirror.Load()
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) Debug(message string, fields ...Field) { l.log(DebugLevel, message, fields) }
func (l *Logger) Info(message string, fields ...Field)  { l.log(InfoLevel, message, fields) }
func (l *Logger) Warn(message string, fields ...Field)  { l.log(WarnLevel, message, fields) }
func (l *Logger) Error(message string, fields ...Field) { l.log(ErrorLevel, message, fields) }

// Fatal logs and exits the process with status 1.
func (l *Logger) Fatal(message string, fields ...Field) { l.log(FatalLevel, message, fields) }

func (l *Logger) log(level Level, message string, fields []Field) {
	if l == nil {
		L().log(level, message, fields)
		return
	}
	if level < l.level {
		return
	}
	merged := mergeFields(l.fields, fields)
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeJSONPair(&buf, "timestamp", l.now().UTC().Format(time.RFC3339Nano), true)
	writeJSONPair(&buf, "level", level.String(), false)
	writeJSONPair(&buf, "message", message, false)
	for _, field := range merged {
		writeJSONPair(&buf, field.Key, field.Value, false)
	}
	buf.WriteString("}\n")
	if mirror := l.loadMirror(); mirror != nil {
		attrs := make([]slog.Attr, 0, len(merged))
		for _, field := range merged {
			attrs = append(attrs, slog.Any(field.Key, field.Value))
		}
		mirror.LogAttrs(context.Background(), slogLevels[level], message, attrs...)
	}

	l.mu.Lock()
	_, _ = l.writer.Write(buf.Bytes())
	l.mu.Unlock()
	if level == FatalLevel {
		os.Exit(1)
	}
}

func writeJSONPair(buf *bytes.Buffer, key string, value any, first bool) {
	if !first {
		buf.WriteByte(',')
	}
	encodedKey, _ := json.Marshal(key)
	buf.Write(encodedKey)
	buf.WriteByte(':')
	encoded, err := json.Marshal(value)
	if err != nil {
		//1.- NaN and Inf are not valid JSON numbers; fall back to their text form.
		encoded, _ = json.Marshal(fmt.Sprint(value))
	}
	buf.Write(encoded)
}

// ContextWithLogger stores a logger in the provided context.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext retrieves a logger from context or falls back to the global logger.
func LoggerFromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok && logger != nil {
		return logger
	}
	return L()
}

// ContextWithTraceID stores a trace identifier in context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, traceID)
}

// TraceIDFromContext extracts a trace identifier from context.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceContextKey).(string); ok {
		return traceID
	}
	return ""
}

// GenerateTraceID creates a random trace identifier without dashes.
func GenerateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithTrace enriches the context with a trace ID and returns the derived logger. Without an
// explicit ID the active OpenTelemetry span's trace ID is reused so logs and traces line up.
func WithTrace(ctx context.Context, base *Logger, traceID string) (context.Context, *Logger, string) {
	tid := strings.TrimSpace(traceID)
	if tid == "" {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.HasTraceID() {
			tid = spanCtx.TraceID().String()
		} else {
			tid = GenerateTraceID()
		}
	}
	if base == nil {
		base = L()
	}
	derived := base.With(Field{Key: TraceIDField, Value: tid})
	ctx = ContextWithTraceID(ctx, tid)
	ctx = ContextWithLogger(ctx, derived)
	return ctx, derived, tid
}

// HTTPTraceMiddleware ensures every request has a trace identifier propagated through context and headers.
func HTTPTraceMiddleware(base *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			incoming := strings.TrimSpace(r.Header.Get(TraceIDHeader))
			ctx, logger, traceID := WithTrace(r.Context(), base, incoming)
			r = r.WithContext(ctx)
			w.Header().Set(TraceIDHeader, traceID)
			logger.Debug("request received", String("method", r.Method), String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}
