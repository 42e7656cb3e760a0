package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mgpai22/captioner/internal/jobs"
	"github.com/mgpai22/captioner/internal/transcribe"
)

type transcribeFlags struct {
	model       string
	engine      string
	language    string
	maxWords    int
	gap         float64
	output      string
	burn        bool
	videoOutput string
	idleTimeout time.Duration
	style       styleFlags
}

func newTranscribeCommand(app *appContext) *cobra.Command {
	var f transcribeFlags

	cmd := &cobra.Command{
		Use:     "transcribe [media_file]",
		Aliases: []string{"generate"},
		Short:   "Generate subtitles for an audio or video file",
		Long: `Transcribe the given audio or video file and write SRT subtitles next to it.

Words are grouped into cues by the recognizer's segments, or into cues of at
most --max-words words, starting a new cue wherever speech pauses for longer
than --gap seconds. With --burn the subtitles are also burned into the video.

Examples:
  captioner transcribe video.mp4
  captioner transcribe video.mp4 -m medium -w 5
  captioner transcribe talk.mp3 --engine openai -o talk.srt
  captioner transcribe video.mp4 --burn --font-size 24 --text-color "#FFFF00"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(cmd, app, &f, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.model, "model", "m", string(transcribe.DefaultModel), "Model size (tiny, base, small, medium, large-v2, large-v3)")
	flags.StringVar(&f.engine, "engine", transcribe.DefaultEngine, "Recognizer (whisperx, openai, gemini)")
	flags.StringVarP(&f.language, "language", "l", "", "Language code of the speech (e.g. en, es); detected when empty")
	flags.IntVarP(&f.maxWords, "max-words", "w", 0, "Maximum words per cue (0 keeps the recognizer's segments)")
	flags.Float64Var(&f.gap, "gap", 1.0, "Pause in seconds that starts a new cue (0 disables)")
	flags.StringVarP(&f.output, "output", "o", "", "Subtitle file path (default: next to the media file)")
	flags.BoolVar(&f.burn, "burn", false, "Burn the subtitles into the video")
	flags.StringVar(&f.videoOutput, "video-output", "", "Burned video path (default: timestamped name next to the source)")
	flags.DurationVar(&f.idleTimeout, "idle-timeout", 0, "Cancel the job when it reports no progress for this long (0 waits forever)")
	f.style.register(cmd)

	return cmd
}

func runTranscribe(cmd *cobra.Command, app *appContext, f *transcribeFlags, mediaPath string) error {
	cfg := *app.cfg
	changed := cmd.Flags().Changed

	if changed("engine") {
		cfg.Transcription.Engine = f.engine
	}
	if changed("model") {
		cfg.Transcription.Model = f.model
	}
	if changed("language") {
		cfg.Transcription.Language = f.language
	}
	chunk := cfg.ChunkOptions()
	if changed("max-words") {
		chunk.MaxWords = f.maxWords
	}
	if changed("gap") {
		chunk.GapThreshold = f.gap
	}

	manager, err := app.newManager(&cfg, app.log)
	if err != nil {
		return err
	}

	req := jobs.Request{
		Kind:       jobs.KindTranscribe,
		SourcePath: mediaPath,
		SRTPath:    f.output,
		OutputPath: f.videoOutput,
		Engine:     cfg.Transcription.Engine,
		Model:      transcribe.ModelSize(cfg.Transcription.Model),
		Chunk:      chunk,
		Burn:       f.burn,
		Style:      f.style.apply(cmd, cfg.Style),
	}

	app.log.Infow("starting transcription",
		"input", mediaPath,
		"engine", req.Engine,
		"model", req.Model,
		"max_words", chunk.MaxWords,
		"burn", req.Burn,
	)
	if err := submitAndWatch(cmd, manager, req, f.idleTimeout, app.log); err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}
	return nil
}
