package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/mgpai22/captioner/internal/transcribe"
	"github.com/mgpai22/captioner/internal/translate"
	"github.com/mgpai22/captioner/internal/video"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvOpenAIKey, EnvGeminiKey, EnvAnthropicKey, EnvEngine, EnvModel, "CAPTIONER_FFMPEG_PATH", "CAPTIONER_FFPROBE_PATH"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "none.toml")

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists || resolved != path {
		t.Errorf("expected missing file at %s, got %s exists=%v", path, resolved, exists)
	}
	if cfg.Transcription.Engine != transcribe.EngineWhisperX || cfg.Transcription.Model != "small" {
		t.Errorf("unexpected defaults %+v", cfg.Transcription)
	}
	if cfg.Style != video.DefaultStyle() {
		t.Errorf("expected default style, got %+v", cfg.Style)
	}
	if cfg.JobRetention() != 10*time.Minute || cfg.EventIdleTimeout() != 30*time.Second {
		t.Errorf("unexpected server durations %v %v", cfg.JobRetention(), cfg.EventIdleTimeout())
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[transcription]
engine = "OpenAI"
model = "large-v3"
max_words = 7
gap_threshold = 0.5
chunk_minutes = 5
openai_api_key = "sk-file"

[style]
font_size = 24
font_name = "Inter"
text_color = "#FFFF00"
outline_color = "000000"
outline = 2
alignment = 2
margin_v = 20

[server]
bind = ":8080"
`)

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected the file to exist")
	}

	tc := cfg.TranscribeConfig()
	if tc.Engine != transcribe.EngineOpenAI || tc.OpenAIKey != "sk-file" || tc.ChunkDuration != 5*time.Minute {
		t.Errorf("unexpected transcribe config %+v", tc)
	}
	if opts := cfg.ChunkOptions(); opts.MaxWords != 7 || opts.GapThreshold != 0.5 {
		t.Errorf("unexpected chunk options %+v", opts)
	}
	if cfg.Style.FontSize != 24 || cfg.Style.TextColor != "#FFFF00" {
		t.Errorf("unexpected style %+v", cfg.Style)
	}
	if cfg.Server.Bind != ":8080" {
		t.Errorf("expected bind :8080, got %s", cfg.Server.Bind)
	}
	// sections left out of the file keep their defaults
	if cfg.Transcription.WhisperXDevice != "cpu" || cfg.Server.JobRetentionMinutes != 10 {
		t.Errorf("expected defaults for unset keys, got %+v %+v", cfg.Transcription, cfg.Server)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvGeminiKey, "g-env")
	t.Setenv(EnvEngine, "gemini")
	t.Setenv(EnvModel, "tiny")
	t.Setenv("CAPTIONER_FFMPEG_PATH", "/opt/ffmpeg")

	path := writeConfig(t, `
[transcription]
engine = "openai"
gemini_api_key = "g-file"
`)
	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transcription.Engine != "gemini" || cfg.Transcription.GeminiAPIKey != "g-env" || cfg.Transcription.Model != "tiny" {
		t.Errorf("expected env overrides, got %+v", cfg.Transcription)
	}
	if cfg.BinaryPaths().FFmpeg != "/opt/ffmpeg" {
		t.Errorf("expected ffmpeg override, got %+v", cfg.BinaryPaths())
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"engine", "[transcription]\nengine = \"vosk\"\n", "transcription.engine"},
		{"model", "[transcription]\nmodel = \"huge\"\n", "transcription.model"},
		{"max words", "[transcription]\nmax_words = -2\n", "max_words"},
		{"gap", "[transcription]\ngap_threshold = -1.0\n", "gap_threshold"},
		{"color", "[style]\ntext_color = \"#ZZZZZZ\"\n", "style"},
		{"provider", "[translation]\nprovider = \"deepl\"\n", "translation.provider"},
		{"timeout", "[server]\nevent_idle_timeout_seconds = -1\n", "event_idle_timeout_seconds"},
		{"unknown key", "[transcription]\nmax_word = 3\n", "parse config"},
		{"syntax", "[transcription\n", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, _, _, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDefaultConfigPathHonorsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != filepath.Join("/tmp/xdg", "captioner", "config.toml") {
		t.Errorf("unexpected path %s", path)
	}
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	var cfg Config
	if err := toml.Unmarshal([]byte(SampleConfig()), &cfg); err != nil {
		t.Fatalf("failed to parse sample: %v", err)
	}
	def := Default()
	if cfg.Style != def.Style {
		t.Errorf("expected sample style %+v, got %+v", def.Style, cfg.Style)
	}
	if cfg.Transcription.Engine != def.Transcription.Engine || cfg.Transcription.Model != def.Transcription.Model {
		t.Errorf("unexpected sample transcription %+v", cfg.Transcription)
	}
	if cfg.Translation != def.Translation {
		t.Errorf("expected sample translation %+v, got %+v", def.Translation, cfg.Translation)
	}
	if cfg.Server != def.Server {
		t.Errorf("expected sample server %+v, got %+v", def.Server, cfg.Server)
	}
}

func TestWriteSample(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Error("expected an error when the file exists")
	}
	if _, _, exists, err := Load(path); err != nil || !exists {
		t.Errorf("expected the sample to load, got exists=%v err=%v", exists, err)
	}
}

func TestTranslateConfigPicksProviderKey(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAnthropicKey, "a-env")
	path := writeConfig(t, `
[transcription]
openai_api_key = "o-file"
gemini_api_key = "g-file"

[translation]
provider = "Anthropic"
batch_size = 20
`)
	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc := cfg.TranslateConfig("English", "Spanish")
	if tc.Provider != translate.ProviderAnthropic || tc.APIKey != "a-env" || tc.BatchSize != 20 {
		t.Errorf("unexpected translate config %+v", tc)
	}
	if tc.SourceLanguage != "English" || tc.TargetLanguage != "Spanish" {
		t.Errorf("expected the languages to pass through, got %+v", tc)
	}

	cfg.Translation.Provider = "openai"
	if key := cfg.TranslateConfig("", "es").APIKey; key != "o-file" {
		t.Errorf("expected the OpenAI key, got %q", key)
	}
	cfg.Translation.Provider = "gemini"
	if key := cfg.TranslateConfig("", "es").APIKey; key != "g-file" {
		t.Errorf("expected the Gemini key, got %q", key)
	}
}
