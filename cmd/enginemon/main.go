// Package main provides a standalone harness for the engine: it simulates a
// host audio callback with a test tone, records a take, applies edits and
// exports it, and can stream a remote clip through the player. Useful for
// exercising the engine without a plugin host.
//
// Usage:
//
//	enginemon [-config path/to/config.json] [-record seconds] [-play url]
package main

import (
	"flag"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sidechain/engine"
	"github.com/sidechain/engine/internal/types"
)

const (
	sampleRate = 48000
	channels   = 2
	blockSize  = 512
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	recordSecs := flag.Float64("record", 3, "Seconds of test tone to record")
	format := flag.String("format", "wav-16", "Export format (wav-16, wav-24, wav-32, flac-16, flac-24)")
	playURL := flag.String("play", "", "URL of a clip to stream after recording")
	toneHz := flag.Float64("tone", 440, "Test tone frequency")
	flag.Parse()

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	eng, err := engine.New(*configPath, engine.PlayerCallbacks{})
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("engine close", "error", err)
		}
	}()

	eng.Prepare(sampleRate, channels)

	if *recordSecs > 0 {
		recordTone(eng, *recordSecs, *toneHz)

		if _, err := eng.Recorder().Normalize(-1.0); err != nil {
			slog.Error("normalize failed", "error", err)
		}
		if err := eng.Recorder().FadeOut(100*time.Millisecond, engine.FadeSCurve); err != nil {
			slog.Error("fade failed", "error", err)
		}

		path, err := eng.ExportAndUpload(engine.ExportFormat(*format))
		if err != nil {
			slog.Error("export failed", "error", err)
			os.Exit(1)
		}
		info, _ := os.Stat(path)
		slog.Info("exported take",
			"path", path,
			"size", types.FormatFileSize(info.Size()),
			"duration", types.FormatDuration(eng.Recorder().Duration()))
	}

	if *playURL != "" {
		streamClip(eng, *playURL)
	}
}

// recordTone drives the audio callback with a sine tone in real time so the
// drain goroutine and meters behave as they would under a host.
func recordTone(eng *engine.Engine, seconds, freq float64) {
	if err := eng.Recorder().Start(); err != nil {
		slog.Error("failed to start recording", "error", err)
		os.Exit(1)
	}

	in := make([]float32, blockSize*channels)
	out := make([]float32, blockSize*channels)
	blocks := int(seconds * sampleRate / blockSize)
	blockDur := time.Second * blockSize / sampleRate
	phase := 0.0
	step := 2 * math.Pi * freq / sampleRate

	ticker := time.NewTicker(blockDur)
	defer ticker.Stop()

	for b := 0; b < blocks; b++ {
		for i := 0; i < blockSize; i++ {
			s := float32(0.5 * math.Sin(phase))
			phase += step
			for ch := 0; ch < channels; ch++ {
				in[i*channels+ch] = s
			}
		}
		clear(out)
		eng.ProcessBlock(in, out, false)
		<-ticker.C
	}

	if err := eng.Recorder().Stop(); err != nil {
		slog.Error("failed to stop recording", "error", err)
		os.Exit(1)
	}
	slog.Info("recorded",
		"duration", types.FormatDuration(eng.Recorder().Duration()),
		"peak_db", eng.Recorder().Meter().PeakDB(0),
		"waveform_buckets", len(eng.Recorder().Waveform()))
}

// streamClip plays url through a silent output loop until it ends or the
// process is interrupted.
func streamClip(eng *engine.Engine, url string) {
	if err := eng.Player().Play(url); err != nil {
		slog.Error("play failed", "url", url, "error", err)
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	in := make([]float32, blockSize*channels)
	out := make([]float32, blockSize*channels)
	blockDur := time.Second * blockSize / sampleRate
	ticker := time.NewTicker(blockDur)
	defer ticker.Stop()

	status := time.NewTicker(time.Second)
	defer status.Stop()

	for {
		select {
		case <-sig:
			eng.Player().Stop()
			return
		case <-status.C:
			slog.Info("playing",
				"position", types.FormatDuration(eng.Player().Position()),
				"duration", types.FormatDuration(eng.Player().Duration()),
				"state", eng.Player().State())
		case <-ticker.C:
			clear(out)
			eng.ProcessBlock(in, out, false)
			if s := eng.Player().State(); s == engine.PlayerEnded || s == engine.PlayerStopped {
				return
			}
		}
	}
}
