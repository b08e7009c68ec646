package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultWindowSec       = 30
	defaultMaxDurationSec  = 600
	defaultMinSegmentBytes = 4096
	defaultMaxAttempts     = 3
	defaultLongAudioSec    = 300
	defaultStateDirLinux   = ".local/state/audiopipe"
	defaultConfigDir       = ".config/audiopipe"
)

// DefaultEndpoint is the batch speech-to-text API used when no endpoint
// is configured.
const DefaultEndpoint = "https://api.openai.com/v1/audio/transcriptions"

// Config holds user configuration loaded from TOML.
type Config struct {
	FFmpeg struct {
		BinaryCandidates []string `toml:"binary_candidates"`
		ProbeCandidates  []string `toml:"probe_candidates"`
		ConvertTimeout   float64  `toml:"convert_timeout_sec"`
	} `toml:"ffmpeg"`

	Audio struct {
		Codec      string `toml:"codec"`
		Bitrate    string `toml:"bitrate"`
		SampleRate int    `toml:"sample_rate"`
		Channels   int    `toml:"channels"`
	} `toml:"audio"`

	Segment struct {
		WindowSec        float64 `toml:"window_sec"`
		MaxDurationSec   float64 `toml:"max_duration_sec"`
		WindowTimeoutSec float64 `toml:"window_timeout_sec"`
		GlobalTimeoutSec float64 `toml:"global_timeout_sec"`
		MinSegmentBytes  int     `toml:"min_segment_bytes"`
		MinSilenceMS     int     `toml:"min_silence_ms"`
		SilenceThreshDB  float64 `toml:"silence_threshold_dbfs"`
		ShortAudioSec    float64 `toml:"short_audio_sec"`
		VADEnabled       bool    `toml:"vad_enabled"`
		VADAggressive    int     `toml:"vad_aggressiveness"`
	} `toml:"segment"`

	Transcriber struct {
		Backend        string  `toml:"backend"` // openai, local
		Endpoint       string  `toml:"endpoint"`
		APIKey         string  `toml:"api_key"`
		Model          string  `toml:"model"`
		Language       string  `toml:"language"`
		RequestTimeout float64 `toml:"request_timeout_sec"`
		MaxAttempts    int     `toml:"max_attempts"`
		BackoffSec     float64 `toml:"backoff_sec"`
		LongAudioSec   float64 `toml:"long_audio_sec"`
		ModelPath      string  `toml:"model_path"` // local backend only
	} `toml:"transcriber"`

	Fetch struct {
		MaxBytes      int64 `toml:"max_bytes"`
		ChunkBytes    int   `toml:"chunk_bytes"`
		SpoolMinBytes int64 `toml:"spool_min_bytes"`
	} `toml:"fetch"`

	Delivery struct {
		Command    string            `toml:"command"`
		Args       []string          `toml:"args"`
		Prefix     string            `toml:"prefix"`
		TimeoutSec float64           `toml:"timeout_sec"`
		Env        map[string]string `toml:"env"`
	} `toml:"delivery"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"`
	} `toml:"logging"`

	Paths struct {
		StateDir   string `toml:"state_dir"`
		LogPath    string `toml:"log_path"`
		TempDir    string `toml:"temp_dir"`
		ConfigPath string `toml:"-"`
	} `toml:"paths"`

	Server struct {
		Addr            string  `toml:"addr"`
		ReadTimeoutSec  float64 `toml:"read_timeout_sec"`
		WriteTimeoutSec float64 `toml:"write_timeout_sec"`
		MaxUploadBytes  int64   `toml:"max_upload_bytes"`
	} `toml:"server"`
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	// macOS prefers ~/Library/Application Support/audiopipe for state/logs
	if isMac() {
		stateDir = filepath.Join(home, "Library", "Application Support", "audiopipe")
	}

	cfg := &Config{}

	cfg.FFmpeg.BinaryCandidates = []string{
		"/usr/bin/ffmpeg",
		"/usr/local/bin/ffmpeg",
		"/opt/homebrew/bin/ffmpeg",
		"/opt/local/bin/ffmpeg",
	}
	cfg.FFmpeg.ProbeCandidates = []string{
		"/usr/bin/ffprobe",
		"/usr/local/bin/ffprobe",
		"/opt/homebrew/bin/ffprobe",
		"/opt/local/bin/ffprobe",
	}
	cfg.FFmpeg.ConvertTimeout = 120

	cfg.Audio.Codec = "pcm_s16le"
	cfg.Audio.Bitrate = "128k"
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 1

	cfg.Segment.WindowSec = defaultWindowSec
	cfg.Segment.MaxDurationSec = defaultMaxDurationSec
	cfg.Segment.WindowTimeoutSec = 20
	cfg.Segment.GlobalTimeoutSec = 180
	cfg.Segment.MinSegmentBytes = defaultMinSegmentBytes
	cfg.Segment.MinSilenceMS = 700
	cfg.Segment.SilenceThreshDB = -40
	cfg.Segment.ShortAudioSec = 120
	cfg.Segment.VADEnabled = true
	cfg.Segment.VADAggressive = 2

	cfg.Transcriber.Backend = "openai"
	cfg.Transcriber.Endpoint = DefaultEndpoint
	cfg.Transcriber.Model = "whisper-1"
	cfg.Transcriber.Language = "en"
	cfg.Transcriber.RequestTimeout = 60
	cfg.Transcriber.MaxAttempts = defaultMaxAttempts
	cfg.Transcriber.BackoffSec = 2
	cfg.Transcriber.LongAudioSec = defaultLongAudioSec
	cfg.Transcriber.ModelPath = filepath.Join(stateDir, "models", "ggml-medium-q5_1.bin")

	cfg.Fetch.MaxBytes = 200 * 1024 * 1024
	cfg.Fetch.ChunkBytes = 64 * 1024
	cfg.Fetch.SpoolMinBytes = 32 * 1024 * 1024

	cfg.Delivery.Env = map[string]string{}
	cfg.Delivery.TimeoutSec = 10

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "audiopipe.log")

	cfg.Server.Addr = "127.0.0.1:8642"
	cfg.Server.ReadTimeoutSec = 30
	cfg.Server.WriteTimeoutSec = 600
	cfg.Server.MaxUploadBytes = 25 * 1024 * 1024

	return cfg, nil
}

// Load loads config from file, applying defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, defaultConfigDir, "config.toml")
	}

	// Read if exists; otherwise write template.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			if err := Save(cfg, path); err != nil {
				return nil, err
			}
			cfg.Paths.ConfigPath = path
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Paths.ConfigPath = path
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// Write renders the effective configuration as TOML.
func Write(cfg *Config, w io.Writer) error {
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func isMac() bool {
	return runtime.GOOS == "darwin"
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath)} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// TempRoot returns the directory under which per-run scratch dirs are made.
func (c *Config) TempRoot() string {
	if c.Paths.TempDir != "" {
		return c.Paths.TempDir
	}
	return os.TempDir()
}

// WindowTimeout returns the per-window extraction budget.
func (c *Config) WindowTimeout() time.Duration {
	return secs(c.Segment.WindowTimeoutSec)
}

// GlobalTimeout returns the whole-file segmentation budget.
func (c *Config) GlobalTimeout() time.Duration {
	return secs(c.Segment.GlobalTimeoutSec)
}

// ConvertTimeout returns the single-conversion budget.
func (c *Config) ConvertTimeout() time.Duration {
	return secs(c.FFmpeg.ConvertTimeout)
}

// RequestTimeout returns the per-transcription-call budget.
func (c *Config) RequestTimeout() time.Duration {
	return secs(c.Transcriber.RequestTimeout)
}

// Backoff returns the retry delay unit for the transcriber.
func (c *Config) Backoff() time.Duration {
	return secs(c.Transcriber.BackoffSec)
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUDIOPIPE_API_KEY"); v != "" {
		cfg.Transcriber.APIKey = v
	}
	if v := os.Getenv("AUDIOPIPE_ENDPOINT"); v != "" {
		cfg.Transcriber.Endpoint = v
	}
	if v := os.Getenv("AUDIOPIPE_LANGUAGE"); v != "" {
		cfg.Transcriber.Language = v
	}
	if v := os.Getenv("AUDIOPIPE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUDIOPIPE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("AUDIOPIPE_LOG_STDOUT"); v != "" {
		cfg.Logging.Stdout = v != "0" && strings.ToLower(v) != "false"
	}
}
