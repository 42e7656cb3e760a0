package transcribe

import (
	"strings"
	"testing"
)

func TestParseGeminiTranscript(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCount int
		wantLang  string
		wantErr   bool
	}{
		{
			name: "object with words",
			input: "```json\n" + `{"language": "en", "segments": [
				{"start": 0.0, "end": 1.2, "text": "Hello world", "words": [
					{"text": "Hello", "start": 0.0, "end": 0.5},
					{"text": "world", "start": 0.6, "end": 1.2}
				]}
			]}` + "\n```",
			wantCount: 1,
			wantLang:  "en",
		},
		{
			name:      "bare array",
			input:     `[{"start": 0, "end": 1, "text": "one"}, {"start": 1, "end": 2, "text": "two"}]`,
			wantCount: 2,
		},
		{
			name:      "blank segments dropped",
			input:     `{"segments": [{"start": 0, "end": 1, "text": "  "}, {"start": 1, "end": 2, "text": "kept"}]}`,
			wantCount: 1,
		},
		{
			name:    "not json",
			input:   "I could not transcribe this audio.",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "  ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transcript, err := parseGeminiTranscript(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if transcript.Language != tt.wantLang {
				t.Errorf("expected language %q, got %q", tt.wantLang, transcript.Language)
			}
			if got := transcript.segments(); len(got) != tt.wantCount {
				t.Errorf("got %d segments, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func TestGeminiSegmentsCarryWords(t *testing.T) {
	transcript, err := parseGeminiTranscript(`{"segments": [{"start": 2, "end": 3, "text": "a b",
		"words": [{"text": " a", "start": 2, "end": 2.4}, {"text": "", "start": 2.4, "end": 2.5}, {"text": "b", "start": 2.6, "end": 2.5}]}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	segments := transcript.segments()
	tokens := segments[0].Tokens
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].Text != "a" {
		t.Errorf("expected trimmed word, got %q", tokens[0].Text)
	}
	if tokens[1].End < tokens[1].Start {
		t.Errorf("expected end clamped to start, got %+v", tokens[1])
	}
}

func TestBuildTranscriptionPrompt(t *testing.T) {
	prompt := buildTranscriptionPrompt("Spanish")
	if !strings.Contains(prompt, "The audio is in Spanish.") {
		t.Errorf("expected language hint in prompt %q", prompt)
	}
	if strings.Contains(buildTranscriptionPrompt(""), "The audio is in") {
		t.Error("expected no language hint without a language")
	}
}

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain JSON",
			input: `[{"start": 0, "end": 1, "text": "hello"}]`,
			want:  `[{"start": 0, "end": 1, "text": "hello"}]`,
		},
		{
			name:  "json code fence",
			input: "```json\n[{\"start\": 0, \"end\": 1, \"text\": \"hello\"}]\n```",
			want:  `[{"start": 0, "end": 1, "text": "hello"}]`,
		},
		{
			name:  "plain code fence",
			input: "```\n[{\"start\": 0, \"end\": 1, \"text\": \"hello\"}]\n```",
			want:  `[{"start": 0, "end": 1, "text": "hello"}]`,
		},
		{
			name:  "with leading/trailing whitespace",
			input: "  \n\n```json\n[{\"start\": 0}]\n```\n\n  ",
			want:  `[{"start": 0}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanJSONResponse(tt.input); got != tt.want {
				t.Errorf("cleanJSONResponse() = %q, want %q", got, tt.want)
			}
		})
	}
}
