// Package config loads captioner settings from a TOML file, applies
// environment overrides and validates the result.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/mgpai22/captioner/internal/ffmpeg"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/transcribe"
	"github.com/mgpai22/captioner/internal/translate"
	"github.com/mgpai22/captioner/internal/video"
)

//go:embed sample_config.toml
var sampleConfig string

// Transcription selects the recognizer and how its words become cues.
type Transcription struct {
	Engine       string  `toml:"engine"`
	Model        string  `toml:"model"`
	Language     string  `toml:"language"`
	MaxWords     int     `toml:"max_words"`
	GapThreshold float64 `toml:"gap_threshold"`

	// remote engines only
	ChunkMinutes int    `toml:"chunk_minutes"`
	Concurrency  int    `toml:"concurrency"`
	OpenAIAPIKey string `toml:"openai_api_key"`
	OpenAIModel  string `toml:"openai_model"`
	GeminiAPIKey string `toml:"gemini_api_key"`
	GeminiModel  string `toml:"gemini_model"`

	WhisperXCommand     []string `toml:"whisperx_command"`
	WhisperXDevice      string   `toml:"whisperx_device"`
	WhisperXComputeType string   `toml:"whisperx_compute_type"`
}

// Translation configures "srt translate". The openai and gemini providers
// reuse the transcription API keys.
type Translation struct {
	Provider        string `toml:"provider"`
	Model           string `toml:"model"`
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	BatchSize       int    `toml:"batch_size"`
	Concurrency     int    `toml:"concurrency"`
}

// FFmpeg pins the binaries; empty values are looked up.
type FFmpeg struct {
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
}

// Server configures the HTTP front end.
type Server struct {
	Bind                    string `toml:"bind"`
	EventIdleTimeoutSeconds int    `toml:"event_idle_timeout_seconds"`
	JobRetentionMinutes     int    `toml:"job_retention_minutes"`
}

// Config encapsulates all configuration values.
//
// Sections:
//   - Transcription: engine, model size, cue grouping, API keys
//   - Translation: subtitle translation provider and batching
//   - Style: burn-in subtitle styling
//   - FFmpeg: binary locations
//   - Server: bind address, event stream idle timeout, job retention
type Config struct {
	Transcription Transcription   `toml:"transcription"`
	Translation   Translation     `toml:"translation"`
	Style         video.StyleSpec `toml:"style"`
	FFmpeg        FFmpeg          `toml:"ffmpeg"`
	Server        Server          `toml:"server"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	whisperx := transcribe.DefaultWhisperXOptions()
	return Config{
		Transcription: Transcription{
			Engine:              transcribe.DefaultEngine,
			Model:               string(transcribe.DefaultModel),
			GapThreshold:        subtitle.DefaultGapThreshold,
			ChunkMinutes:        defaultChunkMinutes,
			Concurrency:         defaultConcurrency,
			WhisperXCommand:     whisperx.Command,
			WhisperXDevice:      whisperx.Device,
			WhisperXComputeType: whisperx.ComputeType,
		},
		Translation: Translation{
			Provider:    string(translate.DefaultProvider),
			BatchSize:   translate.DefaultBatchSize,
			Concurrency: defaultConcurrency,
		},
		Style: video.DefaultStyle(),
		Server: Server{
			Bind:                    defaultBind,
			EventIdleTimeoutSeconds: defaultEventIdleTimeoutSeconds,
			JobRetentionMinutes:     defaultJobRetentionMinutes,
		},
	}
}

const (
	defaultChunkMinutes            = 10
	defaultConcurrency             = 3
	defaultBind                    = "127.0.0.1:5000"
	defaultEventIdleTimeoutSeconds = 30
	defaultJobRetentionMinutes     = 10
)

// Environment variables that override file values.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvEngine       = "CAPTIONER_ENGINE"
	EnvModel        = "CAPTIONER_MODEL"
)

// DefaultConfigPath returns $XDG_CONFIG_HOME/captioner/config.toml, falling
// back to the platform config directory.
func DefaultConfigPath() (string, error) {
	if base, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "captioner", "config.toml"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, "captioner", "config.toml"), nil
}

// Load parses the file at path, or the default location when path is
// empty. A missing file yields the defaults. It returns the resolved path
// and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return "", false, err
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return path, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", path)
	}
	return path, true, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvOpenAIKey)); v != "" {
		c.Transcription.OpenAIAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvGeminiKey)); v != "" {
		c.Transcription.GeminiAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAnthropicKey)); v != "" {
		c.Translation.AnthropicAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvEngine)); v != "" {
		c.Transcription.Engine = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvModel)); v != "" {
		c.Transcription.Model = v
	}
	if v := strings.TrimSpace(os.Getenv(ffmpeg.EnvFFmpegPath)); v != "" {
		c.FFmpeg.FFmpegPath = v
	}
	if v := strings.TrimSpace(os.Getenv(ffmpeg.EnvFFprobePath)); v != "" {
		c.FFmpeg.FFprobePath = v
	}
}

func (c *Config) normalize() {
	t := &c.Transcription
	t.Engine = strings.ToLower(strings.TrimSpace(t.Engine))
	t.Model = strings.ToLower(strings.TrimSpace(t.Model))
	t.Language = strings.TrimSpace(t.Language)
	if t.ChunkMinutes <= 0 {
		t.ChunkMinutes = defaultChunkMinutes
	}
	if t.Concurrency <= 0 {
		t.Concurrency = defaultConcurrency
	}
	c.Translation.Provider = strings.ToLower(strings.TrimSpace(c.Translation.Provider))
	if c.Translation.BatchSize <= 0 {
		c.Translation.BatchSize = translate.DefaultBatchSize
	}
	if c.Translation.Concurrency <= 0 {
		c.Translation.Concurrency = defaultConcurrency
	}
	if strings.TrimSpace(c.Server.Bind) == "" {
		c.Server.Bind = defaultBind
	}
	if c.Server.JobRetentionMinutes <= 0 {
		c.Server.JobRetentionMinutes = defaultJobRetentionMinutes
	}
}

// ChunkOptions returns the cue grouping settings.
func (c *Config) ChunkOptions() subtitle.ChunkOptions {
	return subtitle.ChunkOptions{
		MaxWords:     c.Transcription.MaxWords,
		GapThreshold: c.Transcription.GapThreshold,
	}
}

// TranscribeConfig returns the engine settings.
func (c *Config) TranscribeConfig() transcribe.Config {
	t := c.Transcription
	return transcribe.Config{
		Engine:      t.Engine,
		Language:    t.Language,
		OpenAIKey:   t.OpenAIAPIKey,
		OpenAIModel: t.OpenAIModel,
		GeminiKey:   t.GeminiAPIKey,
		GeminiModel: t.GeminiModel,
		WhisperX: transcribe.WhisperXOptions{
			Command:     t.WhisperXCommand,
			Device:      t.WhisperXDevice,
			ComputeType: t.WhisperXComputeType,
		},
		ChunkDuration: time.Duration(t.ChunkMinutes) * time.Minute,
		Concurrency:   t.Concurrency,
	}
}

// TranslateConfig returns the translator settings for one run, picking the
// API key of the configured provider.
func (c *Config) TranslateConfig(source, target string) translate.Config {
	t := c.Translation
	cfg := translate.Config{
		Provider:       translate.Provider(t.Provider),
		Model:          t.Model,
		SourceLanguage: source,
		TargetLanguage: target,
		BatchSize:      t.BatchSize,
		Concurrency:    t.Concurrency,
	}
	switch cfg.Provider {
	case translate.ProviderOpenAI:
		cfg.APIKey = c.Transcription.OpenAIAPIKey
	case translate.ProviderAnthropic:
		cfg.APIKey = t.AnthropicAPIKey
	default:
		cfg.APIKey = c.Transcription.GeminiAPIKey
	}
	return cfg
}

// BinaryPaths returns the pinned ffmpeg binaries.
func (c *Config) BinaryPaths() ffmpeg.BinaryPaths {
	return ffmpeg.BinaryPaths{FFmpeg: c.FFmpeg.FFmpegPath, FFprobe: c.FFmpeg.FFprobePath}
}

// EventIdleTimeout is how long an event stream waits before reporting a
// timeout; zero disables it.
func (c *Config) EventIdleTimeout() time.Duration {
	return time.Duration(c.Server.EventIdleTimeoutSeconds) * time.Second
}

func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.Server.JobRetentionMinutes) * time.Minute
}

// SampleConfig returns a commented configuration file with every default.
func SampleConfig() string {
	return sampleConfig
}

// WriteSample writes the sample configuration to path unless a file is
// already there.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
