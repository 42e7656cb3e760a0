package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/process"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/video"
)

// WhisperXOptions configures the local whisperx command line recognizer.
type WhisperXOptions struct {
	Command     []string // launcher and arguments before the media path
	Device      string
	ComputeType string
}

// DefaultWhisperXOptions runs whisperx through uv on the CPU.
func DefaultWhisperXOptions() WhisperXOptions {
	return WhisperXOptions{
		Command:     []string{"uvx", "whisperx"},
		Device:      "cpu",
		ComputeType: "int8",
	}
}

var (
	detectedLanguageRegex = regexp.MustCompile(`Detected language:\s*([A-Za-z-]+)\s*\(([\d.]+)\)`)
	modelErrorRegex       = regexp.MustCompile(`(?i)model|checkpoint|huggingface|hf_hub|repository`)
)

// WhisperXEngine runs whisperx as a subprocess and streams the segments of
// its JSON transcript.
type WhisperXEngine struct {
	runner   *process.Runner
	video    *video.Processor
	log      *logging.Logger
	opts     WhisperXOptions
	language string
	tempDir  string

	mu          sync.Mutex
	detected    string
	probability float64
}

func NewWhisperXEngine(
	cfg Config,
	runner *process.Runner,
	processor *video.Processor,
	log *logging.Logger,
) *WhisperXEngine {
	opts := cfg.WhisperX
	defaults := DefaultWhisperXOptions()
	if len(opts.Command) == 0 {
		opts.Command = defaults.Command
	}
	if opts.Device == "" {
		opts.Device = defaults.Device
	}
	if opts.ComputeType == "" {
		opts.ComputeType = defaults.ComputeType
	}
	return &WhisperXEngine{
		runner:      runner,
		video:       processor,
		log:         logging.OrNop(log),
		opts:        opts,
		language:    cfg.Language,
		tempDir:     cfg.TempDir,
		probability: -1,
	}
}

func (w *WhisperXEngine) Name() string {
	return EngineWhisperX
}

// Language returns the language whisperx reported, once known.
func (w *WhisperXEngine) Language() (string, float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.detected, w.probability
}

func (w *WhisperXEngine) Transcribe(
	ctx context.Context,
	mediaPath string,
	model ModelSize,
) iter.Seq2[subtitle.Segment, error] {
	if _, err := ParseModelSize(string(model)); err != nil {
		return fail(err)
	}

	return func(yield func(subtitle.Segment, error) bool) {
		workDir, err := os.MkdirTemp(w.tempDir, "captioner-whisperx-*")
		if err != nil {
			yield(subtitle.Segment{}, failure.Wrap(failure.KindIOFailure, "create work directory", err))
			return
		}
		defer func() { _ = os.RemoveAll(workDir) }()

		// decoding up front separates unreadable media from model problems
		audioPath := filepath.Join(workDir, "audio.wav")
		if err := w.video.ExtractAudio(ctx, mediaPath, audioPath, video.DefaultExtractAudioOptions()); err != nil {
			yield(subtitle.Segment{}, err)
			return
		}

		if err := w.recognize(ctx, audioPath, workDir, model); err != nil {
			yield(subtitle.Segment{}, err)
			return
		}

		transcript, err := os.Open(filepath.Join(workDir, "audio.json"))
		if err != nil {
			yield(subtitle.Segment{}, failure.Wrap(failure.KindMediaUnreadable, "whisperx wrote no transcript", err))
			return
		}
		defer func() { _ = transcript.Close() }()

		for seg, err := range decodeWhisperX(transcript, w.setLanguage) {
			if !yield(seg, err) || err != nil {
				return
			}
		}
	}
}

func (w *WhisperXEngine) args(audioPath, outputDir string, model ModelSize) []string {
	args := append([]string(nil), w.opts.Command[1:]...)
	args = append(args,
		audioPath,
		"--model", string(model),
		"--output_format", "json",
		"--output_dir", outputDir,
		"--device", w.opts.Device,
		"--compute_type", w.opts.ComputeType,
	)
	if w.language != "" {
		args = append(args, "--language", w.language)
	}
	return args
}

func (w *WhisperXEngine) recognize(ctx context.Context, audioPath, outputDir string, model ModelSize) error {
	args := w.args(audioPath, outputDir, model)
	w.log.Infow("starting whisperx", "model", model, "device", w.opts.Device)

	proc, err := w.runner.Start(ctx, w.opts.Command[0], args)
	if err != nil {
		if errors.Is(err, failure.ErrCancelled) {
			return err
		}
		return failure.Wrap(failure.KindModelUnavailable, "launch whisperx", err)
	}

	for line := range proc.Lines() {
		w.log.Debugw("whisperx output", "line", line.Text)
		if lang, prob, ok := parseDetectedLanguage(line.Text); ok {
			w.setLanguage(lang, prob)
		}
	}

	status := proc.Wait()
	switch status.Outcome {
	case process.OutcomeSuccess:
		return nil
	case process.OutcomeCancelled:
		return status.Err("whisperx")
	default:
		return classifyWhisperXFailure(status)
	}
}

func (w *WhisperXEngine) setLanguage(lang string, probability float64) {
	if lang == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.detected != "" && probability < 0 {
		return
	}
	w.detected = lang
	w.probability = probability
}

// classifyWhisperXFailure maps a failed run onto the model or media kind
// based on what the recognizer printed last.
func classifyWhisperXFailure(status process.ExitStatus) error {
	cause := &process.ExitError{Status: status}
	if modelErrorRegex.MatchString(strings.Join(status.Tail, "\n")) {
		return failure.Wrap(failure.KindModelUnavailable, "whisperx", cause)
	}
	return failure.Wrap(failure.KindMediaUnreadable, "whisperx", cause)
}

func parseDetectedLanguage(line string) (string, float64, bool) {
	matches := detectedLanguageRegex.FindStringSubmatch(line)
	if matches == nil {
		return "", 0, false
	}
	prob, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		prob = -1
	}
	return matches[1], prob, true
}

type whisperXWord struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

type whisperXSegment struct {
	Start float64        `json:"start"`
	End   float64        `json:"end"`
	Text  string         `json:"text"`
	Words []whisperXWord `json:"words"`
}

func (s whisperXSegment) segment() subtitle.Segment {
	seg := subtitle.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)}
	for i, word := range s.Words {
		text := strings.TrimSpace(word.Word)
		if text == "" {
			continue
		}
		// unaligned words (digits, symbols) borrow timing from their neighbours
		start := s.Start
		if n := len(seg.Tokens); n > 0 {
			start = seg.Tokens[n-1].End
		}
		if word.Start != nil {
			start = *word.Start
		}
		end := s.nextAlignedStart(i + 1)
		if word.End != nil {
			end = *word.End
		}
		seg.Tokens = append(seg.Tokens, subtitle.Token{Text: text, Start: start, End: max(end, start)})
	}
	return seg
}

// nextAlignedStart is the start of the first timed word at or after i, or
// the segment end.
func (s whisperXSegment) nextAlignedStart(i int) float64 {
	for ; i < len(s.Words); i++ {
		if w := s.Words[i]; w.Start != nil {
			return *w.Start
		}
	}
	return s.End
}

// decodeWhisperX streams the "segments" array of a whisperx JSON transcript
// one element at a time. A top-level "language" field is passed to
// onLanguage with an unknown probability.
func decodeWhisperX(r io.Reader, onLanguage func(string, float64)) iter.Seq2[subtitle.Segment, error] {
	return func(yield func(subtitle.Segment, error) bool) {
		malformed := func(err error) {
			yield(subtitle.Segment{}, failure.Wrap(failure.KindMediaUnreadable, "decode whisperx transcript", err))
		}

		dec := json.NewDecoder(r)
		if err := expectDelim(dec, '{'); err != nil {
			malformed(err)
			return
		}

		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				malformed(err)
				return
			}
			key, _ := tok.(string)

			switch key {
			case "segments":
				if err := expectDelim(dec, '['); err != nil {
					malformed(err)
					return
				}
				for dec.More() {
					var raw whisperXSegment
					if err := dec.Decode(&raw); err != nil {
						malformed(err)
						return
					}
					if !yield(raw.segment(), nil) {
						return
					}
				}
				if err := expectDelim(dec, ']'); err != nil {
					malformed(err)
					return
				}
			case "language":
				var lang string
				if err := dec.Decode(&lang); err != nil {
					malformed(err)
					return
				}
				if onLanguage != nil {
					onLanguage(lang, -1)
				}
			default:
				var skip json.RawMessage
				if err := dec.Decode(&skip); err != nil {
					malformed(err)
					return
				}
			}
		}
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
