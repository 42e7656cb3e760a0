package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"regexp"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/subtitle"
)

const defaultGeminiModel = "gemini-2.5-flash"

var jsonBlockRegex = regexp.MustCompile("```(?:json)?\\s*")

// GeminiEngine transcribes by prompting Gemini for word-timed JSON.
type GeminiEngine struct {
	client *genai.Client
	model  string
	cfg    Config
	log    *logging.Logger

	mu       sync.Mutex
	language string
}

type geminiWord struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// segment from Gemini's JSON response
type geminiSegment struct {
	Start float64      `json:"start"`
	End   float64      `json:"end"`
	Text  string       `json:"text"`
	Words []geminiWord `json:"words"`
}

type geminiTranscript struct {
	Language string          `json:"language"`
	Segments []geminiSegment `json:"segments"`
}

func NewGeminiEngine(ctx context.Context, cfg Config, log *logging.Logger) (*GeminiEngine, error) {
	if cfg.GeminiKey == "" {
		return nil, failure.Wrap(failure.KindModelUnavailable, "gemini API key is required", nil)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.GeminiKey,
	})
	if err != nil {
		return nil, failure.Wrap(failure.KindModelUnavailable, "create gemini client", err)
	}

	model := cfg.GeminiModel
	if model == "" {
		model = defaultGeminiModel
	}

	return &GeminiEngine{
		client: client,
		model:  model,
		cfg:    cfg,
		log:    logging.OrNop(log),
	}, nil
}

func (t *GeminiEngine) Name() string {
	return EngineGemini
}

func (t *GeminiEngine) Language() (string, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.language, -1
}

func (t *GeminiEngine) Transcribe(
	ctx context.Context,
	mediaPath string,
	model ModelSize,
) iter.Seq2[subtitle.Segment, error] {
	if _, err := ParseModelSize(string(model)); err != nil {
		return fail(err)
	}
	return chunkedTranscribe(ctx, t.log, mediaPath, t.cfg, t.transcribeChunk)
}

func (t *GeminiEngine) transcribeChunk(ctx context.Context, audioPath string) ([]subtitle.Segment, error) {
	uploadedFile, err := t.client.Files.UploadFromPath(ctx, audioPath, nil)
	if err != nil {
		return nil, t.classify(ctx, "upload audio chunk", err)
	}
	defer func() {
		_, _ = t.client.Files.Delete(context.WithoutCancel(ctx), uploadedFile.Name, nil)
	}()

	parts := []*genai.Part{
		genai.NewPartFromText(buildTranscriptionPrompt(t.cfg.Language)),
		genai.NewPartFromURI(uploadedFile.URI, uploadedFile.MIMEType),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := t.client.Models.GenerateContent(ctx, t.model, contents, nil)
	if err != nil {
		return nil, t.classify(ctx, "gemini transcription", err)
	}

	transcript, err := parseGeminiTranscript(responseText(result))
	if err != nil {
		return nil, failure.Wrap(failure.KindModelUnavailable, "gemini response", err)
	}
	if transcript.Language != "" {
		t.mu.Lock()
		if t.language == "" {
			t.language = transcript.Language
		}
		t.mu.Unlock()
	}
	return transcript.segments(), nil
}

func (t *GeminiEngine) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return failure.Wrap(failure.KindCancelled, op, ctx.Err())
	}
	return failure.Wrap(failure.KindModelUnavailable, op, err)
}

// creates the prompt for transcription
func buildTranscriptionPrompt(language string) string {
	var sb strings.Builder

	sb.WriteString("Generate a verbatim transcript of this audio with word-level timing. ")
	sb.WriteString("Respond with a JSON object with a 'language' field holding the ISO 639-1 code of the spoken language ")
	sb.WriteString("and a 'segments' array. Each segment has 'start', 'end', 'text' and a 'words' array; ")
	sb.WriteString("each word has 'text', 'start' and 'end'. ")
	sb.WriteString("All timestamps are seconds from the start of the audio, as numbers. ")

	if language != "" {
		sb.WriteString(fmt.Sprintf("The audio is in %s. ", language))
	}

	sb.WriteString("Return ONLY the JSON, no other text or markdown formatting.")

	return sb.String()
}

func responseText(result *genai.GenerateContentResponse) string {
	if result == nil {
		return ""
	}
	var sb strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String()
}

// parseGeminiTranscript accepts the requested object or a bare segment array.
func parseGeminiTranscript(text string) (*geminiTranscript, error) {
	text = cleanJSONResponse(text)
	if text == "" {
		return nil, fmt.Errorf("no text in Gemini response")
	}

	var transcript geminiTranscript
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &transcript.Segments); err != nil {
			return nil, fmt.Errorf("failed to parse JSON response: %w (response: %s)", err, truncateString(text, 200))
		}
		return &transcript, nil
	}
	if err := json.Unmarshal([]byte(text), &transcript); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w (response: %s)", err, truncateString(text, 200))
	}
	return &transcript, nil
}

func (g *geminiTranscript) segments() []subtitle.Segment {
	segments := make([]subtitle.Segment, 0, len(g.Segments))
	for _, s := range g.Segments {
		seg := subtitle.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)}
		for _, w := range s.Words {
			text := strings.TrimSpace(w.Text)
			if text == "" {
				continue
			}
			seg.Tokens = append(seg.Tokens, subtitle.Token{Text: text, Start: w.Start, End: max(w.End, w.Start)})
		}
		if seg.Text == "" && len(seg.Tokens) == 0 {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

// removes markdown formatting from the response
func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)
	s = jsonBlockRegex.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// truncates a string to maxLen characters
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
