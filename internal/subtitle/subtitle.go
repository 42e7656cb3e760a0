package subtitle

import "strings"

// Token is one recognized word with its own timing, in seconds.
type Token struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is a recognizer-produced span of speech. Tokens carry word-level
// timing; Start, End and Text are the recognizer's own segment bounds and are
// used when a segment arrives without word timestamps.
type Segment struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Text   string  `json:"text"`
	Tokens []Token `json:"tokens,omitempty"`
}

// Cue is a single timed subtitle entry.
type Cue struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Extension is the file extension of the subtitle format written by this package.
const Extension = ".srt"

// tokensOf returns the segment's tokens, or a single token spanning the
// segment when the recognizer produced no word timestamps.
func tokensOf(seg Segment) []Token {
	if len(seg.Tokens) > 0 {
		return seg.Tokens
	}
	text := strings.TrimSpace(seg.Text)
	if text == "" {
		return nil
	}
	return []Token{{Text: text, Start: seg.Start, End: seg.End}}
}
