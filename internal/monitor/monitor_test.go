package monitor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestAllowedOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin header", "", "example.com", true},
		{"localhost", "http://localhost:3000", "example.com", true},
		{"loopback v4", "http://127.0.0.1", "example.com", true},
		{"loopback v6", "http://[::1]:8080", "example.com", true},
		{"same origin", "http://example.com", "example.com:8090", true},
		{"private range", "http://192.168.1.10", "example.com", true},
		{"public cross origin", "http://evil.example.net", "example.com", false},
		{"malformed origin", "://bad", "example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := allowedOrigin(tt.origin, tt.host); got != tt.want {
				t.Errorf("allowedOrigin(%q, %q) = %v, want %v", tt.origin, tt.host, got, tt.want)
			}
		})
	}
}

// fakeSource returns fixed telemetry.
type fakeSource struct{}

func (fakeSource) MonitorLevels() LevelsMessage {
	return LevelsMessage{
		Type:    "levels",
		Capture: Levels{PeakDB: [2]float64{-6, -6}, RMSDB: [2]float64{-12, -12}},
	}
}

func (fakeSource) MonitorStatus() StatusMessage {
	return StatusMessage{Type: "status", CaptureState: "idle", PlayerState: "stopped"}
}

func TestMonitorPushesStatusAndLevels(t *testing.T) {
	t.Parallel()

	s := NewServer("unused", fakeSource{})
	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// First message is always a status snapshot.
	var status StatusMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Type != "status" || status.CaptureState != "idle" {
		t.Errorf("status = %+v", status)
	}

	// Levels follow at the meter rate.
	var levels LevelsMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&levels); err != nil {
		t.Fatalf("read levels: %v", err)
	}
	if levels.Type != "levels" {
		t.Errorf("levels.Type = %q, want levels", levels.Type)
	}
	if levels.Capture.PeakDB[0] != -6 {
		t.Errorf("PeakDB[0] = %v, want -6", levels.Capture.PeakDB[0])
	}
}
