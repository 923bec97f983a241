// Package engine is an embeddable recording and playback engine for audio
// plugin hosts. The host delivers interleaved float32 blocks from its
// real-time callback to ProcessBlock; everything else (loading, encoding,
// uploading, monitoring) runs on background goroutines.
package engine

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sidechain/engine/internal/audio"
	"github.com/sidechain/engine/internal/capture"
	"github.com/sidechain/engine/internal/config"
	"github.com/sidechain/engine/internal/eventlog"
	"github.com/sidechain/engine/internal/monitor"
	"github.com/sidechain/engine/internal/playback"
	"github.com/sidechain/engine/internal/stream"
	"github.com/sidechain/engine/internal/types"
	"github.com/sidechain/engine/internal/upload"
)

// Re-exported types so embedders only import this package.
type (
	// FadeCurve selects the fade shape for take edits.
	FadeCurve = types.FadeCurve
	// ExportFormat selects the container and bit depth for exports.
	ExportFormat = types.ExportFormat
	// WaveformPeak is one bucket of the downsampled waveform preview.
	WaveformPeak = audio.WaveformPeak
	// PlayerCallbacks notifies the embedder of playback activity.
	PlayerCallbacks = playback.Callbacks
)

// Fade curves.
const (
	FadeLinear      = types.FadeLinear
	FadeExponential = types.FadeExponential
	FadeSCurve      = types.FadeSCurve
)

// Export formats.
const (
	FormatWAV16  = types.WAV16
	FormatWAV24  = types.WAV24
	FormatWAV32  = types.WAV32
	FormatFLAC16 = types.FLAC16
	FormatFLAC24 = types.FLAC24
)

// Capture states.
const (
	CaptureIdle      = capture.StateIdle
	CaptureRecording = capture.StateRecording
	CaptureStopped   = capture.StateStopped
)

// Player states.
const (
	PlayerStopped = playback.StateStopped
	PlayerLoading = playback.StateLoading
	PlayerPlaying = playback.StatePlaying
	PlayerPaused  = playback.StatePaused
	PlayerEnded   = playback.StateEnded
)

// transportPollInterval is how often the background goroutine checks for
// host transport edges flagged by the audio thread.
const transportPollInterval = 50 * time.Millisecond

// Engine bundles the recorder, player, cache and supporting services behind
// one lifecycle.
type Engine struct {
	cfg      *config.Config
	events   *eventlog.Logger
	recorder *capture.Recorder
	cache    *playback.Cache
	player   *playback.Player
	uploader *upload.Uploader
	monSrv   *http.Server

	// Host transport state, written by the audio thread and consumed by
	// the transport goroutine.
	hostPlaying   atomic.Bool
	transportSeen atomic.Bool

	transportStop chan struct{}
	transportDone chan struct{}
}

// New creates an engine from the config file at configPath, creating the
// file with defaults when absent. The engine is not ready for audio until
// Prepare is called with the host format.
func New(configPath string, cb PlayerCallbacks) (*Engine, error) {
	cfg := config.New(configPath)
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	snap := cfg.Snapshot()

	var events *eventlog.Logger
	if snap.EventLog.Path != "" {
		var err error
		events, err = eventlog.NewLogger(snap.EventLog.Path)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
	}

	e := &Engine{
		cfg:           cfg,
		events:        events,
		cache:         playback.NewCache(snap.Playback.CacheBudgetBytes, events),
		transportStop: make(chan struct{}),
		transportDone: make(chan struct{}),
	}

	e.recorder = capture.NewRecorder(capture.Options{
		SampleRate:    44100,
		Channels:      2,
		MaxDuration:   time.Duration(snap.Capture.MaxDurationSeconds) * time.Second,
		RollingWindow: snap.Capture.RollingWindow,
	}, events)

	e.player = playback.NewPlayer(playback.Options{
		HostSampleRate:   44100,
		HostChannels:     2,
		PreloadThreshold: snap.Playback.PreloadThreshold,
		LinearResample:   snap.Playback.ResampleQuality != "nearest",
	}, e.cache, stream.NewFetcher(), events, cb)

	if snap.Upload.IsConfigured() {
		up, err := upload.NewUploader(snap.Upload, events)
		if err != nil {
			slog.Warn("upload disabled", "error", err)
		} else {
			e.uploader = up
		}
	}

	if snap.Monitor.Enabled {
		e.monSrv = monitor.NewServer(snap.Monitor.Addr, e).Start()
	}

	go e.transportLoop()
	return e, nil
}

// Prepare configures the engine for the host audio format. Call from the
// host's prepare callback, never while recording or playing.
func (e *Engine) Prepare(sampleRate, channels int) {
	snap := e.cfg.Snapshot()
	e.recorder.Prepare(sampleRate, channels,
		time.Duration(snap.Capture.MaxDurationSeconds)*time.Second,
		snap.Capture.RollingWindow, 0)
	e.player.Prepare(sampleRate, channels)
}

// ProcessBlock handles one host callback. in is the interleaved input block
// fed to the recorder; out is the interleaved output buffer the player mixes
// into. hostPlaying is the host transport state for this block. Audio thread
// only; lock-free.
func (e *Engine) ProcessBlock(in, out []float32, hostPlaying bool) {
	e.hostPlaying.Store(hostPlaying)
	e.transportSeen.Store(true)

	e.recorder.ProcessBlock(in)
	e.player.ProcessBlock(out)
}

// transportLoop turns host transport edges into player pause/resume. The
// audio thread only stores a bool; the lock-taking transitions happen here.
func (e *Engine) transportLoop() {
	defer close(e.transportDone)

	ticker := time.NewTicker(transportPollInterval)
	defer ticker.Stop()

	var last bool
	for {
		select {
		case <-e.transportStop:
			return
		case <-ticker.C:
			if !e.transportSeen.Load() {
				continue
			}
			now := e.hostPlaying.Load()
			if now == last {
				continue
			}
			last = now
			if now {
				e.player.OnHostTransportStarted()
			} else {
				e.player.OnHostTransportStopped()
			}
		}
	}
}

// Recorder exposes the capture side: start/stop, take edits, export.
func (e *Engine) Recorder() *capture.Recorder { return e.recorder }

// Player exposes the playback side: play/pause/seek, playlist, volume.
func (e *Engine) Player() *playback.Player { return e.player }

// Config exposes the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// ExportAndUpload encodes the stopped take and queues the file for upload
// when storage is configured. Returns the local path.
func (e *Engine) ExportAndUpload(format ExportFormat) (string, error) {
	res, err := e.recorder.Export(format)
	if err != nil {
		return "", err
	}
	if e.uploader != nil {
		e.uploader.Enqueue(res.Path)
	}
	return res.Path, nil
}

// ClearCache drops all cached clips (logout, low-memory pressure).
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// Close shuts down background services. The audio thread must no longer be
// calling ProcessBlock.
func (e *Engine) Close() error {
	close(e.transportStop)
	<-e.transportDone

	e.player.Close()
	if e.uploader != nil {
		e.uploader.Close()
	}
	if e.monSrv != nil {
		if err := e.monSrv.Close(); err != nil {
			slog.Warn("monitor server close", "error", err)
		}
	}
	return e.events.Close()
}

// MonitorLevels implements monitor.Source.
func (e *Engine) MonitorLevels() monitor.LevelsMessage {
	cm := e.recorder.Meter()
	pm := e.player.Meter()
	msg := monitor.LevelsMessage{Type: "levels"}
	for ch := 0; ch < audio.MaxChannels; ch++ {
		msg.Capture.PeakDB[ch] = cm.PeakDB(ch)
		msg.Capture.RMSDB[ch] = cm.RMSDB(ch)
		msg.Playback.PeakDB[ch] = pm.PeakDB(ch)
		msg.Playback.RMSDB[ch] = pm.RMSDB(ch)
	}
	return msg
}

// MonitorStatus implements monitor.Source.
func (e *Engine) MonitorStatus() monitor.StatusMessage {
	return monitor.StatusMessage{
		Type:             "status",
		CaptureState:     string(e.recorder.State()),
		RecordingSeconds: e.recorder.Elapsed(),
		PlayerState:      string(e.player.State()),
		PlayerURL:        e.player.CurrentURL(),
		PlayerProgress:   e.player.Progress(),
		PlayerDuration:   e.player.Duration(),
		Waveform:         e.recorder.Waveform(),
		CacheBytes:       e.cache.Bytes(),
		CacheEntries:     e.cache.Len(),
	}
}
