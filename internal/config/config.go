// Package config provides engine configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/sidechain/engine/internal/types"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultMaxRecordingSeconds = 60
	DefaultCacheBudgetBytes    = 50 << 20 // 50 MiB of decoded PCM
	DefaultFadeMs              = 100
	DefaultNormalizeTargetDB   = -1.0
	DefaultPreloadThreshold    = 0.8
	DefaultMonitorAddr         = "127.0.0.1:8090"
)

// CaptureConfig holds recording settings.
type CaptureConfig struct {
	// MaxDurationSeconds bounds a recording session.
	MaxDurationSeconds int `json:"max_duration_seconds" validate:"gte=1,lte=600"`
	// RollingWindow keeps recording past the maximum by overwriting the
	// oldest samples instead of auto-stopping.
	RollingWindow bool `json:"rolling_window"`
	// FadeMs is the default fade in/out length.
	FadeMs int `json:"fade_ms" validate:"gte=0,lte=10000"`
	// FadeCurve is the default fade shape.
	FadeCurve types.FadeCurve `json:"fade_curve" validate:"oneof=linear exponential s-curve"`
	// NormalizeTargetDB is the default normalization peak target in dBFS.
	NormalizeTargetDB float64 `json:"normalize_target_db" validate:"gte=-60,lte=0"`
}

// PlaybackConfig holds streaming playback settings.
type PlaybackConfig struct {
	// CacheBudgetBytes bounds resident decoded PCM.
	CacheBudgetBytes int64 `json:"cache_budget_bytes" validate:"gte=1048576"`
	// PreloadThreshold is the playback progress at which the next playlist
	// entry is fetched.
	PreloadThreshold float64 `json:"preload_threshold" validate:"gt=0,lt=1"`
	// ResampleQuality selects the playback interpolation ("nearest" or
	// "linear").
	ResampleQuality string `json:"resample_quality" validate:"oneof=nearest linear"`
}

// MonitorConfig holds the websocket monitoring endpoint settings.
type MonitorConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr" validate:"required_if=Enabled true"`
}

// UploadConfig holds optional S3 upload settings for exported files.
type UploadConfig struct {
	Endpoint        string `json:"endpoint,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// IsConfigured reports whether S3 upload is configured.
func (c *UploadConfig) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// EventLogConfig holds the JSONL event log settings.
type EventLogConfig struct {
	Path string `json:"path,omitempty"`
}

// Config holds all engine configuration. It is safe for concurrent use.
type Config struct {
	Capture  CaptureConfig  `json:"capture"`
	Playback PlaybackConfig `json:"playback"`
	Monitor  MonitorConfig  `json:"monitor"`
	Upload   UploadConfig   `json:"upload"`
	EventLog EventLogConfig `json:"event_log"`

	mu       sync.RWMutex
	filePath string
}

var validate = validator.New()

// New creates a Config with default values.
func New(filePath string) *Config {
	return &Config{
		Capture: CaptureConfig{
			MaxDurationSeconds: DefaultMaxRecordingSeconds,
			FadeMs:             DefaultFadeMs,
			FadeCurve:          types.FadeLinear,
			NormalizeTargetDB:  DefaultNormalizeTargetDB,
		},
		Playback: PlaybackConfig{
			CacheBudgetBytes: DefaultCacheBudgetBytes,
			PreloadThreshold: DefaultPreloadThreshold,
			ResampleQuality:  "linear",
		},
		Monitor:  MonitorConfig{Addr: DefaultMonitorAddr},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default one if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// Save writes the current configuration to file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Config) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(c.filePath, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Capture.MaxDurationSeconds == 0 {
		c.Capture.MaxDurationSeconds = DefaultMaxRecordingSeconds
	}
	if c.Capture.FadeMs == 0 {
		c.Capture.FadeMs = DefaultFadeMs
	}
	if c.Capture.FadeCurve == "" {
		c.Capture.FadeCurve = types.FadeLinear
	}
	if c.Capture.NormalizeTargetDB == 0 {
		c.Capture.NormalizeTargetDB = DefaultNormalizeTargetDB
	}
	if c.Playback.CacheBudgetBytes == 0 {
		c.Playback.CacheBudgetBytes = DefaultCacheBudgetBytes
	}
	if c.Playback.PreloadThreshold == 0 {
		c.Playback.PreloadThreshold = DefaultPreloadThreshold
	}
	if c.Playback.ResampleQuality == "" {
		c.Playback.ResampleQuality = "linear"
	}
	if c.Monitor.Addr == "" {
		c.Monitor.Addr = DefaultMonitorAddr
	}
}

// Snapshot returns a copy of the current configuration values.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Capture:  c.Capture,
		Playback: c.Playback,
		Monitor:  c.Monitor,
		Upload:   c.Upload,
		EventLog: c.EventLog,
	}
}
