package subtitle

import (
	"math"
	"strings"

	"github.com/mgpai22/captioner/internal/failure"
)

// DefaultGapThreshold is the pause, in seconds, that ends a caption group
// early when grouping by word count.
const DefaultGapThreshold = 1.0

// minCueLength keeps every cue strictly longer than zero.
const minCueLength = 0.001

// ChunkOptions controls how tokens are regrouped into cues.
type ChunkOptions struct {
	// MaxWords caps the number of tokens per cue. Zero keeps the recognizer's
	// own segment boundaries, one cue per segment.
	MaxWords int `json:"max_words" toml:"max_words"`
	// GapThreshold closes a group when the silence before the next token
	// exceeds it. Only used with MaxWords; zero or negative disables it.
	GapThreshold float64 `json:"gap_threshold" toml:"gap_threshold"`
}

// DefaultChunkOptions groups by segment with the default gap threshold ready
// for when MaxWords is set.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{GapThreshold: DefaultGapThreshold}
}

// Validate rejects options that cannot produce cues.
func (o ChunkOptions) Validate() error {
	if o.MaxWords < 0 {
		return failure.Invalid("max words must be positive, got %d", o.MaxWords)
	}
	if math.IsNaN(o.GapThreshold) || math.IsInf(o.GapThreshold, 0) {
		return failure.Invalid("gap threshold %v is not a finite number", o.GapThreshold)
	}
	return nil
}

// Chunker regroups a stream of segments into cues. It keeps only the group
// being built, so memory stays bounded however long the media is. Feeding the
// same segments with the same options always yields the same cues.
type Chunker struct {
	opts  ChunkOptions
	group []Token
	next  int
}

func NewChunker(opts ChunkOptions) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{opts: opts, next: 1}, nil
}

// AddSegment consumes one segment and returns the cues it completed.
func (c *Chunker) AddSegment(seg Segment) []Cue {
	if c.opts.MaxWords == 0 {
		return c.segmentCue(seg)
	}

	var cues []Cue
	for _, tok := range tokensOf(seg) {
		cues = append(cues, c.addToken(tok)...)
	}
	return cues
}

// Flush emits the group still being built, if any.
func (c *Chunker) Flush() []Cue {
	if len(c.group) == 0 {
		return nil
	}
	cue := c.emit(c.group[0].Start, c.group[len(c.group)-1].End, c.group)
	c.group = c.group[:0]
	return []Cue{cue}
}

func (c *Chunker) addToken(tok Token) []Cue {
	tok.Text = strings.TrimSpace(tok.Text)
	if tok.Text == "" {
		return nil
	}

	var cues []Cue
	if n := len(c.group); n > 0 && c.opts.GapThreshold > 0 &&
		tok.Start-c.group[n-1].End > c.opts.GapThreshold {
		cues = append(cues, c.Flush()...)
	}

	c.group = append(c.group, tok)
	if len(c.group) >= c.opts.MaxWords {
		cues = append(cues, c.Flush()...)
	}
	return cues
}

// segmentCue turns a whole segment into one cue spanning its range.
func (c *Chunker) segmentCue(seg Segment) []Cue {
	tokens := cleanTokens(tokensOf(seg))
	if len(tokens) == 0 {
		return nil
	}

	start, end := seg.Start, seg.End
	if end <= start {
		start, end = tokens[0].Start, tokens[len(tokens)-1].End
	}
	return []Cue{c.emit(start, end, tokens)}
}

func (c *Chunker) emit(start, end float64, tokens []Token) Cue {
	texts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		texts = append(texts, tok.Text)
	}
	if end <= start {
		end = start + minCueLength
	}

	cue := Cue{
		Index: c.next,
		Start: start,
		End:   end,
		Text:  strings.Join(texts, " "),
	}
	c.next++
	return cue
}

func cleanTokens(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, tok := range tokens {
		tok.Text = strings.TrimSpace(tok.Text)
		if tok.Text != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Chunk groups an ordered token sequence into cues of at most maxWords
// tokens, using the default gap threshold. With maxWords zero the tokens are
// treated as a single segment and produce one cue.
func Chunk(tokens []Token, maxWords int) ([]Cue, error) {
	opts := DefaultChunkOptions()
	opts.MaxWords = maxWords
	return ChunkSegments([]Segment{{Tokens: tokens}}, opts)
}

// ChunkSegments runs a Chunker over all segments and flushes it.
func ChunkSegments(segments []Segment, opts ChunkOptions) ([]Cue, error) {
	chunker, err := NewChunker(opts)
	if err != nil {
		return nil, err
	}

	cues := []Cue{}
	for _, seg := range segments {
		cues = append(cues, chunker.AddSegment(seg)...)
	}
	return append(cues, chunker.Flush()...), nil
}
