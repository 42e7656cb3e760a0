package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgpai22/captioner/internal/config"
	"github.com/mgpai22/captioner/internal/ffmpeg"
	"github.com/mgpai22/captioner/internal/jobs"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/process"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/transcribe"
	"github.com/mgpai22/captioner/internal/translate"
	"github.com/mgpai22/captioner/internal/video"
)

// skipConfigLoad marks commands that must work without a valid config.
const skipConfigLoad = "skipConfigLoad"

// appContext is the state shared by every command of one invocation.
type appContext struct {
	configPath string
	verbose    bool

	log *logging.Logger
	cfg *config.Config

	newManager    func(cfg *config.Config, log *logging.Logger) (*jobs.Manager, error)
	newTranslator func(ctx context.Context, cfg translate.Config, log *logging.Logger) (cueTranslator, error)
}

// cueTranslator is the part of translate.Translator the commands use.
type cueTranslator interface {
	Cues(ctx context.Context, cues []subtitle.Cue) ([]subtitle.Cue, error)
}

func newAppContext() *appContext {
	return &appContext{
		newManager: defaultManager,
		newTranslator: func(ctx context.Context, cfg translate.Config, log *logging.Logger) (cueTranslator, error) {
			return translate.New(ctx, cfg, log)
		},
	}
}

func newRootCommand(app *appContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "captioner",
		Short: "Word-timed subtitle generator with ffmpeg burn-in",
		Long: `Captioner transcribes audio and video files into SRT subtitles,
regrouping word-level timestamps into short readable cues, and can burn
the subtitles into the video with ffmpeg.

Jobs run in the background and report progress as they go; the same
jobs can be driven from the command line or over HTTP with "serve".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
	}

	rootCmd.PersistentFlags().
		BoolVarP(&app.verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		StringVarP(&app.configPath, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(
		newTranscribeCommand(app),
		newBurnCommand(app),
		newServeCommand(app),
		newSRTCommand(app),
		newModelsCommand(),
		newConfigCommand(app),
	)
	return rootCmd
}

func Execute() error {
	return newRootCommand(newAppContext()).Execute()
}

func (a *appContext) init(cmd *cobra.Command) error {
	if a.log == nil {
		a.log = logging.NewLogger(a.verbose)
	}
	if cmd.Annotations[skipConfigLoad] == "true" {
		return nil
	}

	cfg, path, exists, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg
	ffmpeg.Configure(cfg.BinaryPaths())
	a.log.Debugw("config loaded", "path", path, "exists", exists)
	return nil
}

// defaultManager wires the job manager to the real ffmpeg and recognizers.
func defaultManager(cfg *config.Config, log *logging.Logger) (*jobs.Manager, error) {
	paths, err := ffmpeg.Ensure()
	if err != nil {
		return nil, fmt.Errorf("failed to locate ffmpeg: %w", err)
	}
	runner := process.NewRunner(log)
	processor := video.NewProcessor(paths.FFmpeg)

	deps := transcribe.Deps{Runner: runner, Video: processor, Log: log}
	return jobs.NewManager(jobs.Options{
		NewEngine: jobs.EngineFromConfig(cfg.TranscribeConfig(), deps),
		Runner:    runner,
		Video:     processor,
		Log:       log,
		Retention: cfg.JobRetention(),
	}), nil
}
