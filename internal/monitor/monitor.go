// Package monitor serves a local WebSocket endpoint that streams meter
// levels, playhead position and state to tooling such as a VU-meter page or
// a debugging dashboard.
package monitor

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sidechain/engine/internal/audio"
)

const (
	// levelsInterval paces meter pushes (10 fps is plenty for VU meters).
	levelsInterval = 100 * time.Millisecond
	// statusInterval paces full status pushes.
	statusInterval = 3 * time.Second
)

// Levels is a meter snapshot for one audio path.
type Levels struct {
	PeakDB [2]float64 `json:"peak_db"`
	RMSDB  [2]float64 `json:"rms_db"`
}

// LevelsMessage is pushed to clients at the meter rate.
type LevelsMessage struct {
	Type     string `json:"type"`
	Capture  Levels `json:"capture"`
	Playback Levels `json:"playback"`
}

// StatusMessage is pushed to clients at the status rate and on connect.
type StatusMessage struct {
	Type             string               `json:"type"`
	CaptureState     string               `json:"capture_state"`
	RecordingSeconds float64              `json:"recording_seconds"`
	PlayerState      string               `json:"player_state"`
	PlayerURL        string               `json:"player_url,omitempty"`
	PlayerProgress   float64              `json:"player_progress"`
	PlayerDuration   float64              `json:"player_duration"`
	Waveform         []audio.WaveformPeak `json:"waveform,omitempty"`
	CacheBytes       int64                `json:"cache_bytes"`
	CacheEntries     int                  `json:"cache_entries"`
}

// Source supplies the data the monitor pushes. Implemented by the engine.
type Source interface {
	MonitorLevels() LevelsMessage
	MonitorStatus() StatusMessage
}

// Server pushes engine telemetry to WebSocket clients.
type Server struct {
	addr   string
	source Source
}

// NewServer creates a monitor server bound to addr.
func NewServer(addr string, source Source) *Server {
	return &Server{addr: addr, source: source}
}

// Start begins serving. Returns an *http.Server for graceful shutdown.
func (s *Server) Start() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	srv := &http.Server{Addr: s.addr, Handler: mux}
	slog.Info("starting monitor server", "addr", s.addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("monitor server error", "error", err)
		}
	}()
	return srv
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return allowedOrigin(r.Header.Get("Origin"), r.Host)
	},
}

// allowedOrigin restricts the monitor to local tooling: same-origin
// requests, localhost and private-range addresses. origin is the Origin
// header value, host the request's Host.
func allowedOrigin(origin, host string) bool {
	if origin == "" {
		// Same-origin requests and non-browser clients omit the header.
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		slog.Warn("rejected monitor connection", "origin", origin)
		return false
	}
	from := u.Hostname()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if from == host || from == "localhost" {
		return true
	}
	if ip := net.ParseIP(from); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}
	slog.Warn("rejected monitor connection", "origin", origin)
	return false
}

// handleWebSocket pushes levels and status until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})

	go runWriter(conn, send)
	go runReader(conn, done)

	s.runEventLoop(send, done)
}

// runWriter writes messages from the send channel to the connection.
func runWriter(conn *websocket.Conn, send <-chan any) {
	defer conn.Close()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runReader drains incoming frames to detect disconnects. The monitor
// accepts no commands.
func runReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// runEventLoop pushes periodic level and status updates.
func (s *Server) runEventLoop(send chan any, done <-chan struct{}) {
	levelsTicker := time.NewTicker(levelsInterval)
	statusTicker := time.NewTicker(statusInterval)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.source.MonitorStatus()) {
		close(send)
		return
	}

	for {
		select {
		case <-done:
			close(send)
			return
		case <-levelsTicker.C:
			if !trySend(s.source.MonitorLevels()) {
				close(send)
				return
			}
		case <-statusTicker.C:
			if !trySend(s.source.MonitorStatus()) {
				close(send)
				return
			}
		}
	}
}
