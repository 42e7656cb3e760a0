// Package translate rewrites subtitle text into another language with a
// hosted language model. Cue numbering and timing are never touched.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/subtitle"
)

type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"

	DefaultProvider = ProviderGemini
)

const (
	// DefaultBatchSize is how many cues go into one model request.
	DefaultBatchSize   = 50
	defaultConcurrency = 3
)

// Providers lists the supported providers.
func Providers() []string {
	return []string{string(ProviderGemini), string(ProviderOpenAI), string(ProviderAnthropic)}
}

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return DefaultProvider, nil
	}
	switch p {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
		return p, nil
	}
	return "", failure.Invalid("unknown translation provider %q (expected one of %s)", s, strings.Join(Providers(), ", "))
}

type Config struct {
	Provider       Provider
	APIKey         string
	Model          string
	SourceLanguage string
	TargetLanguage string
	// Prompt is appended to the instructions.
	Prompt      string
	BatchSize   int
	Concurrency int
}

// completer sends one prompt and returns the model's text answer.
type completer interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// Translator translates cue text batch by batch, running a few batches at
// once.
type Translator struct {
	cfg   Config
	model completer
	log   *logging.Logger
}

func New(ctx context.Context, cfg Config, log *logging.Logger) (*Translator, error) {
	cfg.TargetLanguage = strings.TrimSpace(cfg.TargetLanguage)
	if cfg.TargetLanguage == "" {
		return nil, failure.Invalid("target language is required")
	}
	provider, err := ParseProvider(string(cfg.Provider))
	if err != nil {
		return nil, err
	}
	cfg.Provider = provider
	if cfg.APIKey == "" {
		return nil, failure.Wrap(failure.KindModelUnavailable, fmt.Sprintf("%s API key is required", provider), nil)
	}

	var model completer
	switch provider {
	case ProviderOpenAI:
		model = newOpenAIModel(cfg)
	case ProviderAnthropic:
		model = newAnthropicModel(cfg)
	default:
		if model, err = newGeminiModel(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return newTranslator(cfg, model, log), nil
}

func newTranslator(cfg Config, model completer, log *logging.Logger) *Translator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Translator{
		cfg:   cfg,
		model: model,
		log:   logging.OrNop(log).Component("translate").With("provider", cfg.Provider),
	}
}

// item is one cue's text as sent to and read back from the model. Index is
// the cue's position in the input.
type item struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Cues returns a copy of cues with every text translated.
func (t *Translator) Cues(ctx context.Context, cues []subtitle.Cue) ([]subtitle.Cue, error) {
	if len(cues) == 0 {
		return nil, nil
	}

	var batches [][]item
	for start := 0; start < len(cues); start += t.cfg.BatchSize {
		end := min(start+t.cfg.BatchSize, len(cues))
		batch := make([]item, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, item{Index: i, Text: cues[i].Text})
		}
		batches = append(batches, batch)
	}
	t.log.Infow("translating subtitles", "cues", len(cues), "batches", len(batches), "target", t.cfg.TargetLanguage)

	translated := make([][]item, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			results, err := t.batch(gctx, batch)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			translated[i] = results
			t.log.Debugw("batch translated", "batch", i, "cues", len(results))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, failure.Wrap(failure.KindCancelled, "translate subtitles", ctx.Err())
		}
		return nil, err
	}

	out := make([]subtitle.Cue, len(cues))
	copy(out, cues)
	for _, batch := range translated {
		for _, it := range batch {
			out[it.Index].Text = it.Text
		}
	}
	return out, nil
}

func (t *Translator) batch(ctx context.Context, items []item) ([]item, error) {
	text, err := t.model.complete(ctx, buildPrompt(t.cfg, items))
	if err != nil {
		return nil, failure.Wrap(failure.KindModelUnavailable, fmt.Sprintf("%s request failed", t.cfg.Provider), err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, failure.Wrap(failure.KindModelUnavailable, fmt.Sprintf("empty response from %s", t.cfg.Provider), nil)
	}

	text = cleanJSONResponse(text)
	results, err := extractResults(text)
	if err != nil {
		return nil, failure.Wrap(failure.KindModelUnavailable,
			fmt.Sprintf("unusable response (%s)", truncateString(text, 200)), err)
	}
	return matchResults(items, results)
}

// matchResults pairs every requested index with its translation. Missing
// indices fail; extra ones are dropped.
func matchResults(items []item, results []item) ([]item, error) {
	byIndex := make(map[int]string, len(results))
	for _, r := range results {
		byIndex[r.Index] = r.Text
	}
	out := make([]item, 0, len(items))
	for _, it := range items {
		text, ok := byIndex[it.Index]
		if !ok || strings.TrimSpace(text) == "" {
			return nil, failure.Wrap(failure.KindModelUnavailable,
				fmt.Sprintf("expected %d translations, cue %d is missing", len(items), it.Index+1), nil)
		}
		out = append(out, item{Index: it.Index, Text: text})
	}
	return out, nil
}

func buildPrompt(cfg Config, items []item) string {
	var sb strings.Builder

	if cfg.SourceLanguage != "" {
		fmt.Fprintf(&sb, "Translate the following %s subtitle texts to %s.\n\n", cfg.SourceLanguage, cfg.TargetLanguage)
	} else {
		fmt.Fprintf(&sb, "Translate the following subtitle texts to %s.\n\n", cfg.TargetLanguage)
	}

	sb.WriteString("IMPORTANT INSTRUCTIONS:\n")
	sb.WriteString("1. Translate ONLY the text content, preserving the meaning.\n")
	sb.WriteString("2. Keep line breaks in the same positions.\n")
	sb.WriteString("3. Keep translations about as short as the originals; they are read on screen.\n")
	sb.WriteString("4. Return ONLY a JSON array of objects with 'index' and 'text' fields.\n")
	sb.WriteString("5. The 'index' values must match the input indices exactly.\n")
	sb.WriteString("6. Do not add any explanation or markdown formatting.\n\n")

	if cfg.Prompt != "" {
		fmt.Fprintf(&sb, "Additional instructions: %s\n\n", cfg.Prompt)
	}

	sb.WriteString("Input JSON:\n")
	input, _ := json.MarshalIndent(items, "", "  ")
	sb.Write(input)
	sb.WriteString("\n\nOutput the translated JSON array only:")
	return sb.String()
}
