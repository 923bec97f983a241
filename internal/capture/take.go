package capture

import (
	"log/slog"
	"time"

	"github.com/sidechain/engine/internal/audio"
	"github.com/sidechain/engine/internal/encode"
	"github.com/sidechain/engine/internal/eventlog"
	"github.com/sidechain/engine/internal/types"
)

// Elapsed returns how much audio has been captured, in seconds. Safe from
// any thread while recording.
func (r *Recorder) Elapsed() float64 {
	if r.sampleRate <= 0 {
		return 0
	}
	return float64(r.captured.Load()) / float64(r.sampleRate)
}

// Progress returns captured/maximum in [0, 1].
func (r *Recorder) Progress() float64 {
	if r.maxFrames <= 0 {
		return 0
	}
	p := float64(r.captured.Load()) / float64(r.maxFrames)
	if p > 1 {
		p = 1
	}
	return p
}

// BufferFull reports whether the configured maximum duration was reached.
func (r *Recorder) BufferFull() bool { return r.full.Load() }

// Duration returns the length of the finished take in seconds, 0 unless
// Stopped.
func (r *Recorder) Duration() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateStopped || r.sampleRate <= 0 {
		return 0
	}
	return float64(len(r.take)/r.channels) / float64(r.sampleRate)
}

// Meter exposes the level meter for UI reads.
func (r *Recorder) Meter() *audio.LevelMeter { return r.meter }

// Waveform returns the downsampled preview peaks accumulated so far.
func (r *Recorder) Waveform() []audio.WaveformPeak { return r.wave.Peaks() }

// SampleRate returns the configured sample rate.
func (r *Recorder) SampleRate() int { return r.sampleRate }

// Channels returns the configured channel count.
func (r *Recorder) Channels() int { return r.channels }

// Take returns a copy of the finished take, interleaved.
func (r *Recorder) Take() []float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float32, len(r.take))
	copy(out, r.take)
	return out
}

// Trim bounds the stopped take to [startSeconds, endSeconds).
func (r *Recorder) Trim(startSeconds, endSeconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStopped {
		return &types.StateError{Op: "trim", State: string(r.state)}
	}

	duration := float64(len(r.take)/r.channels) / float64(r.sampleRate)
	if startSeconds < 0 || endSeconds > duration || startSeconds >= endSeconds {
		return &types.RangeError{Op: "trim", Start: startSeconds, End: endSeconds, Duration: duration}
	}

	startFrame := int(startSeconds * float64(r.sampleRate))
	endFrame := int(endSeconds * float64(r.sampleRate))
	r.take = audio.Trim(r.take, r.channels, startFrame, endFrame)

	slog.Info("take trimmed", "start", startSeconds, "end", endSeconds)
	return nil
}

// FadeIn applies a fade to the start of the stopped take in place.
func (r *Recorder) FadeIn(duration time.Duration, curve types.FadeCurve) error {
	return r.fade(duration, curve, true)
}

// FadeOut applies a fade to the end of the stopped take in place.
func (r *Recorder) FadeOut(duration time.Duration, curve types.FadeCurve) error {
	return r.fade(duration, curve, false)
}

func (r *Recorder) fade(duration time.Duration, curve types.FadeCurve, fadeIn bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := "fade out"
	if fadeIn {
		op = "fade in"
	}
	if r.state != StateStopped {
		return &types.StateError{Op: op, State: string(r.state)}
	}

	frames := int(duration.Seconds() * float64(r.sampleRate))
	if fadeIn {
		audio.FadeIn(r.take, r.channels, frames, curve)
	} else {
		audio.FadeOut(r.take, r.channels, frames, curve)
	}
	return nil
}

// Normalize scales the stopped take so its peak hits targetDB, returning
// the gain applied. A silent take is left untouched.
func (r *Recorder) Normalize(targetDB float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStopped {
		return 0, &types.StateError{Op: "normalize", State: string(r.state)}
	}

	gain := audio.Normalize(r.take, targetDB)
	slog.Debug("take normalized", "target_db", targetDB, "gain_db", audio.LinearToDB(gain))
	return gain, nil
}

// Export encodes the stopped take to a file in the OS temp directory and
// returns the path and size. A failed export deletes the partial file; the
// take is kept so the caller can retry.
func (r *Recorder) Export(format types.ExportFormat) (*encode.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStopped {
		return nil, &types.StateError{Op: "export", State: string(r.state)}
	}

	path := encode.TempFile(format)
	res, err := encode.SaveFile(path, r.take, r.channels, r.sampleRate, format)
	if err != nil {
		slog.Error("export failed", "path", path, "format", format, "error", err)
		r.events.Log(eventlog.ExportFailed, "", &eventlog.RecordingDetails{
			Path:   path,
			Format: string(format),
			Error:  err.Error(),
		})
		return nil, err
	}

	r.events.Log(eventlog.ExportCompleted, "", &eventlog.RecordingDetails{
		Path:      res.Path,
		Format:    string(format),
		SizeBytes: res.Bytes,
	})
	return res, nil
}

// EstimatedSize estimates the exported file size of the stopped take.
func (r *Recorder) EstimatedSize(format types.ExportFormat) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return encode.EstimateSize(len(r.take)/r.channels, r.channels, format)
}

// Discard drops the take and returns to Idle, releasing buffer memory.
func (r *Recorder) Discard() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRecording {
		return &types.StateError{Op: "discard", State: string(r.state)}
	}

	r.take = nil
	r.captured.Store(0)
	r.full.Store(false)
	r.meter.Reset()
	r.wave.Reset(r.buckets, r.maxFrames)
	r.state = StateIdle
	return nil
}
