// Package eventlog provides unified event logging for the engine.
// Recording, export, upload, playback and cache events are written to a
// single JSON lines file with size-based rotation.
package eventlog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType represents the type of event.
type EventType string

// Recording event types.
const (
	RecordingStarted EventType = "recording_started"
	RecordingStopped EventType = "recording_stopped"
	ExportCompleted  EventType = "export_completed"
	ExportFailed     EventType = "export_failed"
	UploadCompleted  EventType = "upload_completed"
	UploadFailed     EventType = "upload_failed"
)

// Playback event types.
const (
	PlaybackStarted EventType = "playback_started"
	PlaybackStopped EventType = "playback_stopped"
	PlaybackFailed  EventType = "playback_failed"
	CacheEvicted    EventType = "cache_evicted"
	CacheOverBudget EventType = "cache_over_budget"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// RecordingDetails contains recording and export event details.
type RecordingDetails struct {
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Samples         int     `json:"samples,omitempty"`
	Path            string  `json:"path,omitempty"`
	Format          string  `json:"format,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// PlaybackDetails contains playback and cache event details.
type PlaybackDetails struct {
	URL        string `json:"url,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
	CacheBytes int64  `json:"cache_bytes,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Logger writes events to a rotated JSON lines file. It is safe for
// concurrent use. A nil Logger discards all events.
type Logger struct {
	mu      sync.Mutex
	out     *lumberjack.Logger
	encoder *json.Encoder
}

// NewLogger creates an event logger writing to filePath, rotating at 10 MiB
// and keeping five old files.
func NewLogger(filePath string) (*Logger, error) {
	if filePath == "" {
		return nil, fmt.Errorf("event log path is empty")
	}
	out := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		Compress:   true,
	}
	return &Logger{out: out, encoder: json.NewEncoder(out)}, nil
}

// Log writes an event, stamping it if the caller did not.
func (l *Logger) Log(eventType EventType, msg string, details any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Encoding errors are swallowed: event logging must never fail an
	// audio operation.
	_ = l.encoder.Encode(Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Message:   msg,
		Details:   details,
	})
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
