package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sidechain/engine/internal/types"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	cfg := New(filepath.Join(t.TempDir(), "config.json"))

	if got := cfg.Capture.MaxDurationSeconds; got != DefaultMaxRecordingSeconds {
		t.Errorf("MaxDurationSeconds = %d, want %d", got, DefaultMaxRecordingSeconds)
	}
	if got := cfg.Capture.FadeCurve; got != types.FadeLinear {
		t.Errorf("FadeCurve = %v, want %v", got, types.FadeLinear)
	}
	if got := cfg.Playback.CacheBudgetBytes; got != DefaultCacheBudgetBytes {
		t.Errorf("CacheBudgetBytes = %d, want %d", got, DefaultCacheBudgetBytes)
	}
	if got := cfg.Playback.ResampleQuality; got != "linear" {
		t.Errorf("ResampleQuality = %q, want linear", got)
	}
	if cfg.Monitor.Enabled {
		t.Error("Monitor.Enabled defaults to true, want false")
	}
	if cfg.Upload.IsConfigured() {
		t.Error("Upload.IsConfigured() on empty config = true")
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)

	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	// A fresh load of the created file round-trips the defaults.
	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload = %v", err)
	}
	if got := reloaded.Capture.MaxDurationSeconds; got != DefaultMaxRecordingSeconds {
		t.Errorf("reloaded MaxDurationSeconds = %d, want %d", got, DefaultMaxRecordingSeconds)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	cfg.Capture.MaxDurationSeconds = 120
	cfg.Capture.RollingWindow = true
	cfg.Capture.FadeCurve = types.FadeSCurve
	cfg.Playback.PreloadThreshold = 0.9
	cfg.Monitor.Enabled = true
	cfg.Monitor.Addr = "127.0.0.1:9999"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	loaded := New(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if got := loaded.Capture.MaxDurationSeconds; got != 120 {
		t.Errorf("MaxDurationSeconds = %d, want 120", got)
	}
	if !loaded.Capture.RollingWindow {
		t.Error("RollingWindow = false, want true")
	}
	if got := loaded.Capture.FadeCurve; got != types.FadeSCurve {
		t.Errorf("FadeCurve = %v, want %v", got, types.FadeSCurve)
	}
	if got := loaded.Playback.PreloadThreshold; got != 0.9 {
		t.Errorf("PreloadThreshold = %v, want 0.9", got)
	}
	if got := loaded.Monitor.Addr; got != "127.0.0.1:9999" {
		t.Errorf("Monitor.Addr = %q, want 127.0.0.1:9999", got)
	}
}

func TestLoadFillsMissingFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"capture":{"max_duration_seconds":30}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if got := cfg.Capture.MaxDurationSeconds; got != 30 {
		t.Errorf("MaxDurationSeconds = %d, want 30", got)
	}
	if got := cfg.Capture.FadeMs; got != DefaultFadeMs {
		t.Errorf("FadeMs = %d, want default %d", got, DefaultFadeMs)
	}
	if got := cfg.Playback.CacheBudgetBytes; got != DefaultCacheBudgetBytes {
		t.Errorf("CacheBudgetBytes = %d, want default %d", got, DefaultCacheBudgetBytes)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		json string
	}{
		{"duration too long", `{"capture":{"max_duration_seconds":9999}}`},
		{"bad fade curve", `{"capture":{"fade_curve":"sawtooth"}}`},
		{"preload out of range", `{"playback":{"preload_threshold":1.5}}`},
		{"cache budget too small", `{"playback":{"cache_budget_bytes":512}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.json), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := New(path).Load(); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := New(path).Load(); err == nil {
		t.Error("Load() accepted malformed JSON")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	snap := cfg.Snapshot()
	snap.Capture.MaxDurationSeconds = 999

	if got := cfg.Capture.MaxDurationSeconds; got != DefaultMaxRecordingSeconds {
		t.Errorf("Snapshot mutation leaked into config: %d", got)
	}
}

func TestUploadIsConfigured(t *testing.T) {
	t.Parallel()

	cfg := UploadConfig{Bucket: "takes", AccessKeyID: "id", SecretAccessKey: "secret"}
	if !cfg.IsConfigured() {
		t.Error("IsConfigured() = false with all fields set")
	}
	cfg.SecretAccessKey = ""
	if cfg.IsConfigured() {
		t.Error("IsConfigured() = true without a secret")
	}
}
