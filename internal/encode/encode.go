// Package encode writes captured audio to WAV or FLAC files.
package encode

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/sidechain/engine/internal/types"
)

// tempSubdir is the directory created under the OS temp dir for exports.
const tempSubdir = "sidechain"

// Result describes a completed export.
type Result struct {
	Path  string
	Bytes int64
}

// SaveFile encodes interleaved float32 samples to path. On any failure the
// partial file is removed and an EncodingError is returned.
func SaveFile(path string, samples []float32, channels, sampleRate int, format types.ExportFormat) (*Result, error) {
	if len(samples) == 0 || channels <= 0 {
		return nil, &types.EncodingError{Path: path, Format: format, Err: fmt.Errorf("empty buffer")}
	}
	if sampleRate <= 0 {
		return nil, &types.EncodingError{Path: path, Format: format, Err: fmt.Errorf("invalid sample rate %d", sampleRate)}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.EncodingError{Path: path, Format: format, Err: err}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, &types.EncodingError{Path: path, Format: format, Err: err}
	}

	if format.IsFLAC() {
		err = writeFLAC(f, samples, channels, sampleRate, format.BitDepth())
	} else {
		err = writeWAV(f, samples, channels, sampleRate, format.BitDepth())
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("failed to remove partial export", "path", path, "error", rmErr)
		}
		return nil, &types.EncodingError{Path: path, Format: format, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &types.EncodingError{Path: path, Format: format, Err: err}
	}

	slog.Info("export completed",
		"path", path,
		"format", format,
		"samples", len(samples)/channels,
		"size", types.FormatFileSize(info.Size()))
	return &Result{Path: path, Bytes: info.Size()}, nil
}

// TempFile returns a unique export path in the OS temp directory.
func TempFile(format types.ExportFormat) string {
	name := fmt.Sprintf("sidechain_%s_%08x%s",
		time.Now().Format("20060102_150405"),
		rand.Uint32(),
		format.Extension())
	return filepath.Join(os.TempDir(), tempSubdir, name)
}

// EstimateSize estimates the encoded file size for frames of audio.
// FLAC sizes assume typical compression ratios for musical material.
func EstimateSize(frames, channels int, format types.ExportFormat) int64 {
	if frames <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSample := int64(format.BitDepth() / 8)
	raw := int64(frames) * int64(channels) * bytesPerSample

	switch format {
	case types.FLAC16:
		return int64(float64(raw)*0.55) + 8192
	case types.FLAC24:
		return int64(float64(raw)*0.60) + 8192
	default:
		return raw + 44 // WAV header
	}
}
