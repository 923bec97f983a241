package encode

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"github.com/sidechain/engine/internal/types"
)

func sine(frames, channels int, amplitude float64) []float32 {
	samples := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		s := float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/8000))
		for ch := 0; ch < channels; ch++ {
			samples[i*channels+ch] = s
		}
	}
	return samples
}

func TestSaveFileWAVRoundtrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format    types.ExportFormat
		bitDepth  int
		tolerance float64
	}{
		{types.WAV16, 16, 1.0 / 32767},
		{types.WAV24, 24, 1.0 / 8388607},
		{types.WAV32, 32, 1.0 / 2147483647},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			t.Parallel()

			in := sine(4000, 2, 0.5)
			path := filepath.Join(t.TempDir(), "take"+tt.format.Extension())

			res, err := SaveFile(path, in, 2, 8000, tt.format)
			if err != nil {
				t.Fatalf("SaveFile() = %v", err)
			}
			if res.Path != path {
				t.Errorf("Result.Path = %q, want %q", res.Path, path)
			}
			if res.Bytes <= 44 {
				t.Errorf("Result.Bytes = %d, want > 44", res.Bytes)
			}

			f, err := os.Open(path)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer f.Close()

			dec := wav.NewDecoder(f)
			buf, err := dec.FullPCMBuffer()
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got := int(dec.BitDepth); got != tt.bitDepth {
				t.Errorf("bit depth = %d, want %d", got, tt.bitDepth)
			}
			if got := buf.Format.SampleRate; got != 8000 {
				t.Errorf("sample rate = %d, want 8000", got)
			}
			if got := buf.Format.NumChannels; got != 2 {
				t.Errorf("channels = %d, want 2", got)
			}
			if got := len(buf.Data); got != len(in) {
				t.Fatalf("decoded samples = %d, want %d", got, len(in))
			}

			scale := float64(int64(1)<<(tt.bitDepth-1) - 1)
			for i := 0; i < len(in); i += 997 {
				got := float64(buf.Data[i]) / scale
				if math.Abs(got-float64(in[i])) > tt.tolerance*2 {
					t.Fatalf("sample %d = %v, want %v", i, got, in[i])
				}
			}
		})
	}
}

func TestSaveFileFLACMagic(t *testing.T) {
	t.Parallel()

	for _, format := range []types.ExportFormat{types.FLAC16, types.FLAC24} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "take.flac")
			res, err := SaveFile(path, sine(8192, 1, 0.5), 1, 8000, format)
			if err != nil {
				t.Fatalf("SaveFile() = %v", err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.HasPrefix(data, []byte("fLaC")) {
				t.Errorf("missing fLaC stream marker, got %q", data[:4])
			}
			if res.Bytes != int64(len(data)) {
				t.Errorf("Result.Bytes = %d, file is %d", res.Bytes, len(data))
			}
		})
	}
}

func TestSaveFileValidation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.wav")
	tests := []struct {
		name       string
		samples    []float32
		channels   int
		sampleRate int
	}{
		{"empty buffer", nil, 2, 44100},
		{"zero channels", []float32{1}, 0, 44100},
		{"zero sample rate", []float32{1}, 1, 0},
	}
	for _, tt := range tests {
		var encErr *types.EncodingError
		_, err := SaveFile(path, tt.samples, tt.channels, tt.sampleRate, types.WAV16)
		if !errors.As(err, &encErr) {
			t.Errorf("%s: SaveFile() = %v, want EncodingError", tt.name, err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("validation failure left a file behind")
	}
}

func TestSaveFileClampsOutOfRange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hot.wav")
	if _, err := SaveFile(path, []float32{1.5, -1.5, 0}, 1, 8000, types.WAV16); err != nil {
		t.Fatalf("SaveFile() = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Data[0] != 32767 {
		t.Errorf("over-range sample = %d, want 32767", buf.Data[0])
	}
	if buf.Data[1] != -32768 {
		t.Errorf("under-range sample = %d, want -32768", buf.Data[1])
	}
}

func TestTempFileNaming(t *testing.T) {
	t.Parallel()

	path := TempFile(types.FLAC16)
	name := filepath.Base(path)

	if !strings.HasPrefix(name, "sidechain_") {
		t.Errorf("name %q missing sidechain_ prefix", name)
	}
	if !strings.HasSuffix(name, ".flac") {
		t.Errorf("name %q missing .flac extension", name)
	}
	if filepath.Base(filepath.Dir(path)) != tempSubdir {
		t.Errorf("path %q not under %q", path, tempSubdir)
	}
	if other := TempFile(types.FLAC16); other == path {
		t.Error("two TempFile calls returned the same path")
	}
}

func TestEstimateSize(t *testing.T) {
	t.Parallel()

	flac16Raw := float64(44100 * 2 * 2)
	flac24Raw := float64(44100 * 2 * 3)
	tests := []struct {
		name     string
		frames   int
		channels int
		format   types.ExportFormat
		want     int64
	}{
		{"wav16 mono", 44100, 1, types.WAV16, 44100*2 + 44},
		{"wav24 stereo", 44100, 2, types.WAV24, 44100*2*3 + 44},
		{"wav32 stereo", 1000, 2, types.WAV32, 1000*2*4 + 44},
		{"flac16", 44100, 2, types.FLAC16, int64(flac16Raw*0.55) + 8192},
		{"flac24", 44100, 2, types.FLAC24, int64(flac24Raw*0.60) + 8192},
		{"zero frames", 0, 2, types.WAV16, 0},
	}
	for _, tt := range tests {
		if got := EstimateSize(tt.frames, tt.channels, tt.format); got != tt.want {
			t.Errorf("%s: EstimateSize() = %d, want %d", tt.name, got, tt.want)
		}
	}
}
