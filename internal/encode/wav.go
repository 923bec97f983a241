package encode

import (
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV encodes interleaved float32 samples as PCM WAV at the given bit
// depth (16, 24 or 32).
func writeWAV(f *os.File, samples []float32, channels, sampleRate, bitDepth int) error {
	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)

	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: bitDepth,
	}
	scale := float64(int64(1)<<(bitDepth-1) - 1)
	for i, s := range samples {
		buf.Data[i] = clampInt(float64(s)*scale, bitDepth)
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// clampInt converts a scaled sample to the signed integer range of the bit
// depth, saturating instead of wrapping.
func clampInt(v float64, bitDepth int) int {
	limit := float64(int64(1)<<(bitDepth-1) - 1)
	if v > limit {
		return int(limit)
	}
	if v < -limit-1 {
		return int(-limit - 1)
	}
	return int(v)
}
