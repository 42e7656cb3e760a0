package translate

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/mgpai22/captioner/internal/failure"
)

const defaultGeminiChatModel = "gemini-2.5-flash"

type geminiModel struct {
	client *genai.Client
	model  string
}

func newGeminiModel(ctx context.Context, cfg Config) (*geminiModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, failure.Wrap(failure.KindModelUnavailable, "failed to create Gemini client", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiChatModel
	}
	return &geminiModel{client: client, model: model}, nil
}

func (m *geminiModel) complete(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}
	result, err := m.client.Models.GenerateContent(ctx, m.model, contents, nil)
	if err != nil {
		return "", err
	}
	if result == nil || len(result.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	// the first candidate with any text wins
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		var text string
		for _, part := range candidate.Content.Parts {
			text += part.Text
		}
		if text != "" {
			return text, nil
		}
	}
	return "", nil
}
