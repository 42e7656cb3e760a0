// Package transcribe adapts speech recognizers into lazy streams of
// word-timed segments.
package transcribe

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/process"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/video"
)

// Engine turns a media file into recognized segments.
//
// The returned sequence is single pass: ranging over it runs recognition,
// and ranging again runs it again from scratch. The first error ends the
// sequence. Segments arrive in chronological order.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, mediaPath string, model ModelSize) iter.Seq2[subtitle.Segment, error]
}

// LanguageInfo is implemented by engines that report the detected spoken
// language. Probability is negative when the engine does not provide one.
type LanguageInfo interface {
	Language() (lang string, probability float64)
}

// ModelSize names a recognizer model.
type ModelSize string

const (
	ModelTiny    ModelSize = "tiny"
	ModelBase    ModelSize = "base"
	ModelSmall   ModelSize = "small"
	ModelMedium  ModelSize = "medium"
	ModelLargeV2 ModelSize = "large-v2"
	ModelLargeV3 ModelSize = "large-v3"

	DefaultModel = ModelSmall
)

// ModelSizes lists the supported models, smallest first.
func ModelSizes() []ModelSize {
	return []ModelSize{ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLargeV2, ModelLargeV3}
}

// ParseModelSize accepts a model name case-insensitively. Empty means the
// default model.
func ParseModelSize(s string) (ModelSize, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultModel, nil
	}
	for _, m := range ModelSizes() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", failure.Invalid("unknown model size %q", s)
}

// engine names
const (
	EngineWhisperX = "whisperx"
	EngineOpenAI   = "openai"
	EngineGemini   = "gemini"

	DefaultEngine = EngineWhisperX
)

// Engines lists the supported engine names.
func Engines() []string {
	return []string{EngineWhisperX, EngineOpenAI, EngineGemini}
}

// ParseEngine validates an engine name. Empty means the default engine.
func ParseEngine(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultEngine, nil
	}
	for _, name := range Engines() {
		if name == s {
			return name, nil
		}
	}
	return "", failure.Invalid("unknown transcription engine %q", s)
}

// Config selects and configures an engine.
type Config struct {
	Engine   string
	Language string // empty lets the engine detect it

	OpenAIKey   string
	OpenAIModel string
	GeminiKey   string
	GeminiModel string

	WhisperX WhisperXOptions

	// remote engines upload audio in pieces of this length
	ChunkDuration time.Duration
	Concurrency   int
	TempDir       string
}

const (
	defaultChunkDuration = 10 * time.Minute
	defaultConcurrency   = 3
)

// Deps are the shared collaborators engines are built on.
type Deps struct {
	Runner *process.Runner
	Video  *video.Processor
	Log    *logging.Logger
}

// NewEngine builds a fresh engine for one job. Engines keep per-run state
// such as the detected language, so they are not shared across jobs.
func NewEngine(ctx context.Context, cfg Config, deps Deps) (Engine, error) {
	name, err := ParseEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	log := logging.OrNop(deps.Log).Component("transcribe").With("engine", name)

	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = defaultChunkDuration
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	switch name {
	case EngineOpenAI:
		return NewOpenAIEngine(cfg, log)
	case EngineGemini:
		return NewGeminiEngine(ctx, cfg, log)
	default:
		if deps.Runner == nil || deps.Video == nil {
			return nil, fmt.Errorf("whisperx engine needs a process runner and video processor")
		}
		return NewWhisperXEngine(cfg, deps.Runner, deps.Video, log), nil
	}
}

// fail yields a single error.
func fail(err error) iter.Seq2[subtitle.Segment, error] {
	return func(yield func(subtitle.Segment, error) bool) {
		yield(subtitle.Segment{}, err)
	}
}

// offsetSegment shifts a chunk-relative segment onto the media timeline.
func offsetSegment(seg subtitle.Segment, offset float64) subtitle.Segment {
	seg.Start += offset
	seg.End += offset
	if len(seg.Tokens) > 0 {
		tokens := make([]subtitle.Token, len(seg.Tokens))
		for i, tok := range seg.Tokens {
			tok.Start += offset
			tok.End += offset
			tokens[i] = tok
		}
		seg.Tokens = tokens
	}
	return seg
}
