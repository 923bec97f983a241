// Package capture records audio delivered by the host's real-time callback.
//
// Thread model: ProcessBlock is called from the host audio thread and is
// lock-free and allocation-free. Everything else runs on the message thread
// or the drain goroutine, which moves samples out of the ring into the take
// buffer and feeds the waveform extractor.
package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sidechain/engine/internal/audio"
	"github.com/sidechain/engine/internal/eventlog"
	"github.com/sidechain/engine/internal/types"
)

// State tracks the recorder lifecycle.
type State string

const (
	// StateIdle indicates no active recording and no take to edit.
	StateIdle State = "idle"
	// StateRecording indicates recording is in progress.
	StateRecording State = "recording"
	// StateStopped indicates a finished take is held for preview/edit/export.
	StateStopped State = "stopped"
)

// drainInterval is how often the drain goroutine empties the ring.
const drainInterval = 50 * time.Millisecond

// Options configures a Recorder.
type Options struct {
	SampleRate  int
	Channels    int
	MaxDuration time.Duration
	// RollingWindow keeps capturing past MaxDuration by discarding the
	// oldest samples instead of auto-stopping.
	RollingWindow   bool
	WaveformBuckets int
}

// Recorder owns the capture ring, level meter and waveform extractor, and
// drives the Idle -> Recording -> Stopped state machine.
type Recorder struct {
	mu    sync.RWMutex
	state State

	sampleRate int
	channels   int
	maxFrames  int
	rolling    bool
	buckets    int

	ring  *audio.Ring
	meter *audio.LevelMeter
	wave  *audio.WaveformExtractor

	// Audio-thread state.
	recording atomic.Bool
	captured  atomic.Int64 // frames forwarded since Start
	full      atomic.Bool

	drainStop chan struct{}
	drainDone chan struct{}
	drainBuf  []float32

	// The finished take, message thread only after Stop.
	take      []float32
	startTime time.Time
	stopTime  time.Time

	events *eventlog.Logger

	// OnAutoStop is invoked from the drain goroutine when the maximum
	// duration is reached. Optional.
	OnAutoStop func()
}

// NewRecorder creates a recorder for the given host format.
func NewRecorder(opts Options, events *eventlog.Logger) *Recorder {
	r := &Recorder{state: StateIdle, events: events}
	r.Prepare(opts.SampleRate, opts.Channels, opts.MaxDuration, opts.RollingWindow, opts.WaveformBuckets)
	return r
}

// Prepare (re)initializes buffers for a host format. Called before playback
// starts and again on host sample-rate or channel-count changes; never while
// recording.
func (r *Recorder) Prepare(sampleRate, channels int, maxDuration time.Duration, rolling bool, buckets int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channels < 1 {
		channels = 1
	}
	if channels > audio.MaxChannels {
		channels = audio.MaxChannels
	}
	if buckets <= 0 {
		buckets = audio.DefaultWaveformBuckets
	}

	r.sampleRate = sampleRate
	r.channels = channels
	r.maxFrames = int(float64(sampleRate) * maxDuration.Seconds())
	r.rolling = rolling
	r.buckets = buckets

	// Ring sized for ~2s of audio: the drain loop keeps it near-empty, the
	// headroom absorbs scheduling hiccups.
	r.ring = audio.NewRing(2 * sampleRate * channels)
	r.meter = audio.NewLevelMeter()
	r.wave = audio.NewWaveformExtractor(buckets, r.maxFrames)
	r.drainBuf = make([]float32, 8192)
	r.state = StateIdle
	r.take = nil
	r.recording.Store(false)
	r.captured.Store(0)
	r.full.Store(false)

	slog.Info("capture prepared",
		"sample_rate", sampleRate,
		"channels", channels,
		"max_seconds", maxDuration.Seconds(),
		"rolling_window", rolling)
}

// State returns the current recorder state.
func (r *Recorder) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Start begins a recording session. No-op if already recording.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRecording {
		slog.Warn("already recording, ignoring start request")
		return nil
	}

	r.ring.Reset()
	r.meter.Reset()
	r.wave.Reset(r.buckets, r.maxFrames)
	r.take = make([]float32, 0, r.maxFrames*r.channels)
	r.captured.Store(0)
	r.full.Store(false)
	r.startTime = time.Now()

	r.drainStop = make(chan struct{})
	r.drainDone = make(chan struct{})
	go r.drainLoop(r.drainStop, r.drainDone)

	r.state = StateRecording
	r.recording.Store(true)

	slog.Info("recording started", "sample_rate", r.sampleRate, "channels", r.channels)
	r.events.Log(eventlog.RecordingStarted, "", nil)
	return nil
}

// ProcessBlock forwards one interleaved host block into the capture ring
// and updates the level meter. Audio thread only; lock-free.
func (r *Recorder) ProcessBlock(block []float32) {
	if !r.recording.Load() {
		return
	}

	frames := len(block) / r.channels
	captured := r.captured.Load()

	if !r.rolling {
		remaining := int64(r.maxFrames) - captured
		if remaining <= 0 {
			return
		}
		if int64(frames) >= remaining {
			block = block[:int(remaining)*r.channels]
			frames = int(remaining)
			// Max duration reached: stop accepting samples and let the
			// drain goroutine finalize the session.
			r.full.Store(true)
			r.recording.Store(false)
		}
	} else if captured+int64(frames) > int64(r.maxFrames) {
		r.full.Store(true)
	}

	r.ring.Write(block)
	r.captured.Store(captured + int64(frames))
	r.meter.Update(block, r.channels)
}

// Stop ends the session and finalizes the take. Returns a StateError unless
// recording.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state != StateRecording {
		state := r.state
		r.mu.Unlock()
		return &types.StateError{Op: "stop recording", State: string(state)}
	}
	r.recording.Store(false)
	stop := r.drainStop
	done := r.drainDone
	r.mu.Unlock()

	close(stop)
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	// The drain goroutine may have finalized already via auto-stop.
	if r.state == StateRecording {
		r.finalizeLocked()
	}
	return nil
}

// finalizeLocked drains the ring remainder and moves to Stopped.
func (r *Recorder) finalizeLocked() {
	for {
		n := r.ring.Read(r.drainBuf)
		if n == 0 {
			break
		}
		r.appendTakeLocked(r.drainBuf[:n])
	}
	r.wave.Flush()
	r.stopTime = time.Now()
	r.state = StateStopped

	frames := len(r.take) / r.channels
	duration := float64(frames) / float64(r.sampleRate)
	slog.Info("recording stopped", "samples", frames, "seconds", duration)
	r.events.Log(eventlog.RecordingStopped, "", &eventlog.RecordingDetails{
		DurationSeconds: duration,
		Samples:         frames,
	})
}

// drainLoop moves samples from the ring into the take buffer and the
// waveform extractor until stopped.
func (r *Recorder) drainLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.drainOnce()

			// Auto-stop: the audio thread flipped recording off when the
			// configured maximum was reached.
			if !r.rolling && r.full.Load() && !r.recording.Load() {
				r.mu.Lock()
				if r.state == StateRecording {
					r.finalizeLocked()
					cb := r.OnAutoStop
					r.mu.Unlock()
					slog.Info("recording auto-stopped at max duration")
					if cb != nil {
						cb()
					}
					return
				}
				r.mu.Unlock()
			}
		}
	}
}

func (r *Recorder) drainOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		n := r.ring.Read(r.drainBuf)
		if n == 0 {
			return
		}
		r.appendTakeLocked(r.drainBuf[:n])
	}
}

func (r *Recorder) appendTakeLocked(chunk []float32) {
	r.take = append(r.take, chunk...)
	r.wave.AddSamples(chunk, r.channels)

	// Rolling window: keep only the newest maxFrames frames.
	if r.rolling {
		maxSamples := r.maxFrames * r.channels
		if len(r.take) > maxSamples {
			excess := len(r.take) - maxSamples
			copy(r.take, r.take[excess:])
			r.take = r.take[:maxSamples]
		}
	}
}
