package transcribe

import (
	"errors"
	"strings"
	"testing"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/process"
	"github.com/mgpai22/captioner/internal/subtitle"
)

const whisperXTranscript = `{
	"segments": [
		{"start": 0.1, "end": 1.0, "text": " Hello there.", "words": [
			{"word": "Hello", "start": 0.1, "end": 0.4, "score": 0.9},
			{"word": "there.", "start": 0.5, "end": 1.0, "score": 0.8}
		]},
		{"start": 1.5, "end": 2.5, "text": " It costs 20 dollars.", "words": [
			{"word": "It", "start": 1.5, "end": 1.6},
			{"word": "costs", "start": 1.7, "end": 1.9},
			{"word": "20"},
			{"word": "dollars.", "start": 2.1, "end": 2.5}
		]}
	],
	"word_segments": [{"word": "Hello", "start": 0.1, "end": 0.4}],
	"language": "en"
}`

func TestDecodeWhisperX(t *testing.T) {
	var lang string
	var segments []subtitle.Segment
	for seg, err := range decodeWhisperX(strings.NewReader(whisperXTranscript), func(l string, _ float64) { lang = l }) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		segments = append(segments, seg)
	}

	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Text != "Hello there." || len(segments[0].Tokens) != 2 {
		t.Errorf("unexpected first segment %+v", segments[0])
	}
	// the unaligned "20" fills the gap between its neighbours
	second := segments[1].Tokens
	if len(second) != 4 {
		t.Fatalf("expected 4 tokens in the second segment, got %+v", second)
	}
	if second[2].Text != "20" || second[2].Start != 1.9 || second[2].End != 2.1 {
		t.Errorf("unexpected timing for the unaligned word %+v", second[2])
	}
	if lang != "en" {
		t.Errorf("expected language en, got %q", lang)
	}
}

func TestDecodeWhisperXStopsEarly(t *testing.T) {
	count := 0
	for range decodeWhisperX(strings.NewReader(whisperXTranscript), nil) {
		count++
		break
	}
	if count != 1 {
		t.Errorf("expected to stop after one segment, got %d", count)
	}
}

func TestDecodeWhisperXMalformed(t *testing.T) {
	for _, input := range []string{"", "[]", `{"segments": {}}`, `{"segments": [{"start": "x"}]}`} {
		var lastErr error
		for _, err := range decodeWhisperX(strings.NewReader(input), nil) {
			lastErr = err
		}
		if !errors.Is(lastErr, failure.ErrMediaUnreadable) {
			t.Errorf("%q: expected media unreadable, got %v", input, lastErr)
		}
	}
}

func TestParseDetectedLanguage(t *testing.T) {
	lang, prob, ok := parseDetectedLanguage("Detected language: en (0.97) in first 30s of audio...")
	if !ok || lang != "en" || prob != 0.97 {
		t.Errorf("unexpected result %q %v %v", lang, prob, ok)
	}
	if _, _, ok := parseDetectedLanguage("Performing alignment..."); ok {
		t.Error("expected no match")
	}
}

func TestClassifyWhisperXFailure(t *testing.T) {
	modelErr := classifyWhisperXFailure(process.ExitStatus{
		Outcome: process.OutcomeFailure,
		Code:    1,
		Tail:    []string{"OSError: could not download model large-v9 from huggingface"},
	})
	if !errors.Is(modelErr, failure.ErrModelUnavailable) {
		t.Errorf("expected model unavailable, got %v", modelErr)
	}

	mediaErr := classifyWhisperXFailure(process.ExitStatus{
		Outcome: process.OutcomeFailure,
		Code:    1,
		Tail:    []string{"RuntimeError: Failed to load audio: Invalid data found when processing input"},
	})
	if !errors.Is(mediaErr, failure.ErrMediaUnreadable) {
		t.Errorf("expected media unreadable, got %v", mediaErr)
	}
}

func TestWhisperXArgs(t *testing.T) {
	w := NewWhisperXEngine(Config{Language: "de"}, nil, nil, nil)
	args := strings.Join(w.args("/tmp/a.wav", "/tmp/out", ModelLargeV3), " ")
	want := "whisperx /tmp/a.wav --model large-v3 --output_format json --output_dir /tmp/out --device cpu --compute_type int8 --language de"
	if args != want {
		t.Errorf("unexpected args:\n%s\nwant:\n%s", args, want)
	}
}

func TestUnalignedWordsKeepMaxWords(t *testing.T) {
	transcript := `{"segments": [{"start": 0.0, "end": 5.5,
		"text": " In 2020 we moved to a new city and started again",
		"words": [
			{"word": "In", "start": 0.0, "end": 0.2},
			{"word": "2020"},
			{"word": "we", "start": 0.9, "end": 1.0},
			{"word": "moved", "start": 1.1, "end": 1.5},
			{"word": "to", "start": 1.6, "end": 1.7},
			{"word": "a", "start": 1.8, "end": 1.9},
			{"word": "new", "start": 2.0, "end": 2.3},
			{"word": "city", "start": 2.4, "end": 2.8},
			{"word": "and", "start": 3.0, "end": 3.2},
			{"word": "started", "start": 3.3, "end": 3.8},
			{"word": "again"}
		]}]}`

	var segments []subtitle.Segment
	for seg, err := range decodeWhisperX(strings.NewReader(transcript), nil) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		segments = append(segments, seg)
	}

	cues, err := subtitle.ChunkSegments(segments, subtitle.ChunkOptions{MaxWords: 3, GapThreshold: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cues) != 4 {
		t.Fatalf("expected 4 cues, got %d: %+v", len(cues), cues)
	}
	for i, cue := range cues {
		if n := len(strings.Fields(cue.Text)); n > 3 {
			t.Errorf("expected at most 3 words in cue %d, got %d: %q", i+1, n, cue.Text)
		}
	}
	if cues[0].Text != "In 2020 we" {
		t.Errorf("expected the numeral to stay in place, got %q", cues[0].Text)
	}
	if last := cues[len(cues)-1]; last.Text != "started again" || last.End != 5.5 {
		t.Errorf("expected the trailing unaligned word to run to the segment end, got %+v", last)
	}
}
