package audio

import (
	"math"

	"github.com/sidechain/engine/internal/types"
)

// silenceFloor is the peak below which a buffer is treated as silent.
// Normalizing such a buffer is a no-op so gain can never blow up.
const silenceFloor = 1e-10

// DBToLinear converts decibels to linear gain (0 dB = 1.0).
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts linear gain to decibels.
func LinearToDB(linear float64) float64 {
	if linear <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(linear)
}

// Peak returns the maximum absolute sample value of an interleaved buffer.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// Normalize scales samples in place so the peak hits targetDB, and returns
// the gain applied. A silent buffer is left untouched with gain 1.
func Normalize(samples []float32, targetDB float64) float64 {
	peak := float64(Peak(samples))
	if peak < silenceFloor {
		return 1
	}
	gain := DBToLinear(targetDB) / peak
	for i := range samples {
		samples[i] *= float32(gain)
	}
	return gain
}

// fadeGain computes the gain at pos in [0,1) through a fade.
func fadeGain(pos float64, curve types.FadeCurve, fadeIn bool) float32 {
	var gain float64
	switch curve {
	case types.FadeExponential:
		// Quadratic approximation: fade in starts slow and ends fast,
		// fade out the reverse.
		if fadeIn {
			gain = pos * pos
		} else {
			gain = 1 - (1-pos)*(1-pos)
		}
	case types.FadeSCurve:
		gain = 0.5 * (1 - math.Cos(pos*math.Pi))
	default:
		gain = pos
	}
	if !fadeIn {
		gain = 1 - gain
	}
	return float32(gain)
}

// FadeIn ramps the first fadeFrames frames of an interleaved buffer in
// place. Fade length is clamped to the buffer length.
func FadeIn(samples []float32, channels, fadeFrames int, curve types.FadeCurve) {
	applyFade(samples, channels, fadeFrames, curve, true)
}

// FadeOut ramps the last fadeFrames frames of an interleaved buffer in
// place.
func FadeOut(samples []float32, channels, fadeFrames int, curve types.FadeCurve) {
	applyFade(samples, channels, fadeFrames, curve, false)
}

func applyFade(samples []float32, channels, fadeFrames int, curve types.FadeCurve, fadeIn bool) {
	if channels <= 0 || fadeFrames <= 0 || len(samples) == 0 {
		return
	}
	frames := len(samples) / channels
	if fadeFrames > frames {
		fadeFrames = frames
	}
	start := 0
	if !fadeIn {
		start = frames - fadeFrames
	}
	for i := 0; i < fadeFrames; i++ {
		pos := float64(i) / float64(fadeFrames)
		gain := fadeGain(pos, curve, fadeIn)
		base := (start + i) * channels
		for ch := 0; ch < channels; ch++ {
			samples[base+ch] *= gain
		}
	}
}

// Trim returns a copy of the interleaved buffer bounded to
// [startFrame, endFrame).
func Trim(samples []float32, channels, startFrame, endFrame int) []float32 {
	out := make([]float32, (endFrame-startFrame)*channels)
	copy(out, samples[startFrame*channels:endFrame*channels])
	return out
}
