// Package websockettest holds WebSocket client helpers shared by stream tests.
package websockettest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// URL rewrites an httptest server address to its WebSocket form.
func URL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

// Dial connects to urlStr and closes the connection when the test ends.
func Dial(t testing.TB, urlStr string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(urlStr, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", urlStr, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// DialIgnoringPings connects like Dial but never answers pings, simulating an unresponsive peer.
func DialIgnoringPings(t testing.TB, urlStr string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(urlStr, header)
	if err != nil {
		t.Fatalf("dial %s: %v", urlStr, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	conn.SetPingHandler(func(string) error { return nil })
	t.Cleanup(func() { conn.Close() })
	return conn
}

// RoundTrip writes request as JSON and decodes the next JSON frame into response.
func RoundTrip(conn *websocket.Conn, request, response any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(request); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn.ReadJSON(response)
}
