package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/subtitle"
)

const defaultOpenAIModel = "whisper-1"

// OpenAIEngine transcribes with the OpenAI audio API, requesting word and
// segment timestamps.
type OpenAIEngine struct {
	client openai.Client
	model  string
	cfg    Config
	log    *logging.Logger

	mu       sync.Mutex
	language string
}

// word from a verbose_json response
type whisperWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// segment from OpenAI Whisper verbose_json response
type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// verbose_json response structure from Whisper
type whisperVerboseResponse struct {
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
	Words    []whisperWord    `json:"words"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
}

func NewOpenAIEngine(cfg Config, log *logging.Logger) (*OpenAIEngine, error) {
	if cfg.OpenAIKey == "" {
		return nil, failure.Wrap(failure.KindModelUnavailable, "openai API key is required", nil)
	}

	model := cfg.OpenAIModel
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIEngine{
		client: openai.NewClient(option.WithAPIKey(cfg.OpenAIKey)),
		model:  model,
		cfg:    cfg,
		log:    logging.OrNop(log),
	}, nil
}

func (t *OpenAIEngine) Name() string {
	return EngineOpenAI
}

// Language returns the language named by the API. It carries no probability.
func (t *OpenAIEngine) Language() (string, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.language, -1
}

// Transcribe validates model but always uses the configured API model; the
// hosted service has no size choice.
func (t *OpenAIEngine) Transcribe(
	ctx context.Context,
	mediaPath string,
	model ModelSize,
) iter.Seq2[subtitle.Segment, error] {
	if _, err := ParseModelSize(string(model)); err != nil {
		return fail(err)
	}
	return chunkedTranscribe(ctx, t.log, mediaPath, t.cfg, t.transcribeChunk)
}

func (t *OpenAIEngine) transcribeChunk(ctx context.Context, audioPath string) ([]subtitle.Segment, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, failure.Wrap(failure.KindIOFailure, "open audio chunk", err)
	}
	defer file.Close()

	params := openai.AudioTranscriptionNewParams{
		File:                   file,
		Model:                  openai.AudioModel(t.model),
		ResponseFormat:         openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word", "segment"},
	}
	if t.cfg.Language != "" {
		params.Language = openai.String(t.cfg.Language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure.Wrap(failure.KindCancelled, "openai transcription", ctx.Err())
		}
		return nil, failure.Wrap(failure.KindModelUnavailable, "openai transcription", err)
	}

	parsed, err := parseVerboseJSON(resp.RawJSON())
	if err != nil {
		return nil, failure.Wrap(failure.KindModelUnavailable, "openai response", err)
	}
	if parsed.Language != "" {
		t.mu.Lock()
		if t.language == "" {
			t.language = parsed.Language
		}
		t.mu.Unlock()
	}
	return parsed.segments(), nil
}

func parseVerboseJSON(rawJSON string) (*whisperVerboseResponse, error) {
	if strings.TrimSpace(rawJSON) == "" {
		return nil, fmt.Errorf("empty response")
	}
	var resp whisperVerboseResponse
	if err := json.Unmarshal([]byte(rawJSON), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse verbose_json response: %w", err)
	}
	return &resp, nil
}

// segments distributes the response's top-level words over its segments by
// start time. Without segments the words form one segment; without either
// the whole text becomes one segment spanning the reported duration.
func (r *whisperVerboseResponse) segments() []subtitle.Segment {
	tokens := make([]subtitle.Token, 0, len(r.Words))
	for _, w := range r.Words {
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		tokens = append(tokens, subtitle.Token{Text: text, Start: w.Start, End: max(w.End, w.Start)})
	}

	if len(r.Segments) == 0 {
		text := strings.TrimSpace(r.Text)
		if len(tokens) == 0 && text == "" {
			return nil
		}
		seg := subtitle.Segment{Text: text, Tokens: tokens, End: r.Duration}
		if len(tokens) > 0 {
			seg.Start = tokens[0].Start
			seg.End = tokens[len(tokens)-1].End
		}
		return []subtitle.Segment{seg}
	}

	segments := make([]subtitle.Segment, 0, len(r.Segments))
	next := 0
	for i, s := range r.Segments {
		seg := subtitle.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)}
		last := i == len(r.Segments)-1
		for next < len(tokens) && (last || tokens[next].Start < s.End) {
			seg.Tokens = append(seg.Tokens, tokens[next])
			next++
		}
		if seg.Text == "" && len(seg.Tokens) == 0 {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}
