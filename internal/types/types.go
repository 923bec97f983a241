// Package types provides shared type definitions used across the engine.
package types

import "fmt"

// FadeCurve selects the gain curve for fade in/out operations.
type FadeCurve string

const (
	// FadeLinear is a constant-rate ramp.
	FadeLinear FadeCurve = "linear"
	// FadeExponential starts slow and ends fast (fade in), the reverse for
	// fade out. More natural for audio than a linear ramp.
	FadeExponential FadeCurve = "exponential"
	// FadeSCurve is a cosine S-curve, smooth at both ends.
	FadeSCurve FadeCurve = "s-curve"
)

// ExportFormat identifies an audio file export format and bit depth.
type ExportFormat string

const (
	WAV16  ExportFormat = "wav-16"
	WAV24  ExportFormat = "wav-24"
	WAV32  ExportFormat = "wav-32"
	FLAC16 ExportFormat = "flac-16"
	FLAC24 ExportFormat = "flac-24"
)

// BitDepth returns the sample bit depth for the format.
func (f ExportFormat) BitDepth() int {
	switch f {
	case WAV24, FLAC24:
		return 24
	case WAV32:
		return 32
	default:
		return 16
	}
}

// IsFLAC reports whether the format is a FLAC format.
func (f ExportFormat) IsFLAC() bool {
	return f == FLAC16 || f == FLAC24
}

// Extension returns the file extension for the format, including the dot.
func (f ExportFormat) Extension() string {
	if f.IsFLAC() {
		return ".flac"
	}
	return ".wav"
}

// FormatDuration formats a duration in seconds as M:SS.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// FormatFileSize formats a byte count in human-readable form.
func FormatFileSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.2f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.2f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
