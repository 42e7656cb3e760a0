package translate

import "testing"

func TestExtractResults(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCount int
		wantErr   bool
	}{
		{
			name:      "plain array",
			input:     `[{"index": 0, "text": "こんにちは"}, {"index": 1, "text": "さようなら"}]`,
			wantCount: 2,
		},
		{
			name: "preamble and trailing text",
			input: `Here is the translation:
			[{"index": 0, "text": "Bonjour"}, {"index": 1, "text": "Au revoir"}]
			I hope this helps!`,
			wantCount: 2,
		},
		{
			name:      "results wrapper",
			input:     `{"results": [{"index": 0, "text": "Translated"}]}`,
			wantCount: 1,
		},
		{
			name:      "unknown wrapper key",
			input:     `{"output": [{"index": 0, "text": "Переведено"}]}`,
			wantCount: 1,
		},
		{
			name:      "line break escape",
			input:     `[{"index": 0, "text": "first line\Nsecond line"}]`,
			wantCount: 1,
		},
		{name: "empty array", input: `[]`, wantErr: true},
		{name: "only empty text", input: `[{"index": 0, "text": ""}]`, wantErr: true},
		{name: "plain text", input: `This is just plain text.`, wantErr: true},
		{name: "truncated", input: `[{"index": 0, "text": "incomplete"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := extractResults(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected an error, got %v", results)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(results) != tt.wantCount {
				t.Errorf("expected %d results, got %d", tt.wantCount, len(results))
			}
		})
	}
}

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `[{"index": 0}]`, `[{"index": 0}]`},
		{"json fence", "```json\n[{\"index\": 0}]\n```", `[{"index": 0}]`},
		{"bare fence", "```\n[{\"index\": 0}]\n```", `[{"index": 0}]`},
		{"whitespace", "  \n\n```json\n[{\"index\": 0}]\n```\n\n  ", `[{"index": 0}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanJSONResponse(tt.input); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFixInvalidEscapes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`a\Nb`, `a\\Nb`},
		{`a\nb`, `a\nb`},
		{`quote \" ok`, `quote \" ok`},
		{`trailing \`, `trailing \`},
	}
	for _, tt := range tests {
		if got := fixInvalidEscapes(tt.in); got != tt.want {
			t.Errorf("fixInvalidEscapes(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
