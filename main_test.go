package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"driftpursuit/aimsolver/internal/audit"
	"driftpursuit/aimsolver/internal/config"
	"driftpursuit/aimsolver/internal/logging"
	"driftpursuit/aimsolver/internal/physics"
	"driftpursuit/aimsolver/internal/websockettest"
	"driftpursuit/aimsolver/internal/wire"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HTTPAddr:        "127.0.0.1:0",
		MaxPayloadBytes: config.DefaultMaxPayloadBytes,
		PingInterval:    config.DefaultPingInterval,
		BatchLimit:      config.DefaultBatchLimit,
		BatchWindow:     config.DefaultBatchWindow,
		BatchBurst:      config.DefaultBatchBurst,
		AuditDir:        t.TempDir(),
		AdminToken:      "admin",
		Physics: config.PhysicsConfig{
			DragRatio:   config.DefaultDragRatio,
			Gravity:     config.DefaultGravity,
			LaunchSpeed: config.DefaultLaunchSpeed,
			Fallback:    config.DefaultFallback,
		},
	}
}

func TestAppServesAimOverHTTPAndStream(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	server := httptest.NewServer(a.httpHandler())
	defer server.Close()

	//1.- A unary HTTP solve carries the trace header back.
	body := `{"id":"h1","shooter":{"x":0,"y":0,"z":0},"target":{"x":0,"y":0,"z":20}}`
	resp, err := http.Post(server.URL+"/v1/aim", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post aim: %v", err)
	}
	var out wire.AimResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode aim response: %v", err)
	}
	resp.Body.Close()
	if !out.OK || out.ID != "h1" {
		t.Fatalf("unexpected aim response %+v", out)
	}
	if resp.Header.Get(logging.TraceIDHeader) == "" {
		t.Fatal("expected trace header on response")
	}

	//2.- The stream shares the same solver and metrics.
	conn := websockettest.Dial(t, websockettest.URL(server, streamPath))
	var streamed wire.AimResponse
	if err := websockettest.RoundTrip(conn, wire.AimRequest{ID: "s1", Tick: 9, Shooter: &physics.Vec3{}, Target: &physics.Vec3{Y: 5, Z: 20}}, &streamed); err != nil {
		t.Fatalf("stream round trip: %v", err)
	}
	if !streamed.OK || streamed.Tick != 9 {
		t.Fatalf("unexpected streamed response %+v", streamed)
	}

	//3.- Metrics report both solves and the audit writer.
	metricsResp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	text, _ := io.ReadAll(metricsResp.Body)
	metricsResp.Body.Close()
	for _, want := range []string{"aimsolver_solve_seconds_count 2", "aimsolver_audit_records_total 2", "aimsolver_streams 1"} {
		if !strings.Contains(string(text), want) {
			t.Fatalf("metrics missing %q:\n%s", want, text)
		}
	}

	//4.- Flushing through the admin endpoint then closing leaves a readable bundle.
	flushReq, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/audit/flush", nil)
	flushReq.Header.Set("Authorization", "Bearer admin")
	flushResp, err := http.DefaultClient.Do(flushReq)
	if err != nil {
		t.Fatalf("flush audit: %v", err)
	}
	flushResp.Body.Close()
	if flushResp.StatusCode != http.StatusOK {
		t.Fatalf("expected flush 200, got %d", flushResp.StatusCode)
	}
	if err := a.close(); err != nil {
		t.Fatalf("close app: %v", err)
	}
	_, events, frames, err := audit.LoadBundle(a.audit.Directory())
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	if len(events) != 2 || len(frames) != 2 {
		t.Fatalf("expected 2 events and 2 frames, got %d and %d", len(events), len(frames))
	}
}

func TestAppBatchEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuditDir = ""
	cfg.BatchLimit = 2
	a, err := newApp(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	server := httptest.NewServer(a.httpHandler())
	defer server.Close()

	payload, _ := json.Marshal(map[string]any{"requests": []wire.AimRequest{
		{ID: "a", Shooter: &physics.Vec3{}, Target: &physics.Vec3{Z: 12}},
		{ID: "b", Shooter: &physics.Vec3{}, Target: &physics.Vec3{X: 12}},
	}})
	resp, err := http.Post(server.URL+"/v1/aim/batch", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Responses []wire.AimResponse `json:"responses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(out.Responses) != 2 || !out.Responses[0].OK || !out.Responses[1].OK {
		t.Fatalf("unexpected batch %+v", out.Responses)
	}
}

func TestAppRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuditDir = ""
	cfg.HTTPAddr = freeAddr(t)
	cfg.GRPCAddr = freeAddr(t)
	a, err := newApp(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	//1.- Wait for readiness before cancelling.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + cfg.HTTPAddr + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("service never became ready: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	conn := websockettest.Dial(t, "ws://"+cfg.HTTPAddr+streamPath)
	var streamed wire.AimResponse
	if err := websockettest.RoundTrip(conn, wire.AimRequest{ID: "open", Shooter: &physics.Vec3{}, Target: &physics.Vec3{Z: 20}}, &streamed); err != nil {
		t.Fatalf("stream round trip: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(shutdownTimeout):
		t.Fatal("run did not stop after cancellation")
	}
	//2.- Open streams receive a going-away frame instead of a silent drop.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected stream to close with going away, got %v", err)
	}
	if a.StartupError() == nil {
		t.Fatal("expected readiness to report draining after shutdown")
	}
}

func TestNewAppRejectsUnwritableAuditDir(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	cfg.AuditDir = blocker
	if _, err := newApp(cfg, logging.NewTestLogger()); err == nil {
		t.Fatal("expected audit directory error")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()
	return addr
}
