package audio

import (
	"math"
	"sync/atomic"
)

const (
	// MaxChannels is the number of metered channels.
	MaxChannels = 2

	// MinDB is the meter floor (treated as silence).
	MinDB = -60.0

	// rmsWindowSamples is the RMS integration window (~46ms at 44.1kHz).
	rmsWindowSamples = 2048

	// peakRelease is the per-block peak decay factor. With typical block
	// sizes this gives roughly a 300ms release.
	peakRelease = 0.95
)

// LevelMeter computes smoothed peak and RMS levels from interleaved sample
// blocks. Update runs on the audio thread; Peak and RMS are lock-free reads
// for the UI thread. Levels are linear in [0, 1].
type LevelMeter struct {
	peaks [MaxChannels]atomic.Uint32 // float32 bits
	rms   [MaxChannels]atomic.Uint32

	// RMS accumulators, audio thread only.
	sums     [MaxChannels]float64
	rmsCount int
}

// NewLevelMeter returns a meter with all levels at zero.
func NewLevelMeter() *LevelMeter {
	return &LevelMeter{}
}

// Update accumulates one interleaved block. Audio thread only; never
// blocks, never allocates.
func (m *LevelMeter) Update(block []float32, channels int) {
	if channels <= 0 {
		return
	}
	if channels > MaxChannels {
		channels = MaxChannels
	}
	frames := len(block) / channels

	for ch := 0; ch < channels; ch++ {
		blockPeak := float32(0)
		sumSquares := float64(0)
		for i := 0; i < frames; i++ {
			s := block[i*channels+ch]
			if s < 0 {
				s = -s
			}
			if s > blockPeak {
				blockPeak = s
			}
			sumSquares += float64(s) * float64(s)
		}

		// Fast attack, slow release.
		current := math.Float32frombits(m.peaks[ch].Load())
		if blockPeak > current {
			m.peaks[ch].Store(math.Float32bits(blockPeak))
		} else {
			m.peaks[ch].Store(math.Float32bits(current * peakRelease))
		}

		m.sums[ch] += sumSquares
	}

	m.rmsCount += frames
	if m.rmsCount >= rmsWindowSamples {
		for ch := 0; ch < channels; ch++ {
			rms := math.Sqrt(m.sums[ch] / float64(m.rmsCount))
			m.rms[ch].Store(math.Float32bits(float32(rms)))
			m.sums[ch] = 0
		}
		m.rmsCount = 0
	}
}

// Peak returns the smoothed peak level of a channel, linear in [0, 1].
func (m *LevelMeter) Peak(channel int) float32 {
	if channel < 0 || channel >= MaxChannels {
		return 0
	}
	return math.Float32frombits(m.peaks[channel].Load())
}

// RMS returns the windowed RMS level of a channel, linear in [0, 1].
func (m *LevelMeter) RMS(channel int) float32 {
	if channel < 0 || channel >= MaxChannels {
		return 0
	}
	return math.Float32frombits(m.rms[channel].Load())
}

// PeakDB returns the peak level in dBFS, floored at MinDB.
func (m *LevelMeter) PeakDB(channel int) float64 {
	return toDB(float64(m.Peak(channel)))
}

// RMSDB returns the RMS level in dBFS, floored at MinDB.
func (m *LevelMeter) RMSDB(channel int) float64 {
	return toDB(float64(m.RMS(channel)))
}

// Reset clears all levels and accumulators. Not safe against a concurrent
// Update; call between sessions.
func (m *LevelMeter) Reset() {
	for ch := 0; ch < MaxChannels; ch++ {
		m.peaks[ch].Store(0)
		m.rms[ch].Store(0)
		m.sums[ch] = 0
	}
	m.rmsCount = 0
}

func toDB(linear float64) float64 {
	if linear <= 0 {
		return MinDB
	}
	return max(20*math.Log10(linear), MinDB)
}
