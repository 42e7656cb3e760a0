package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/translate"
)

func newSRTCommand(app *appContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "srt",
		Short:       "Show, save or translate subtitle files",
		Annotations: map[string]string{skipConfigLoad: "true"},
	}

	show := &cobra.Command{
		Use:         "show [srt_file]",
		Short:       "Print a subtitle file after checking it parses",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := subtitle.Load(args[0])
			if err != nil {
				return err
			}
			app.log.Debugw("subtitle file loaded", "path", doc.Path, "cues", doc.Cues)
			_, err = io.WriteString(cmd.OutOrStdout(), doc.Content)
			return err
		},
	}

	save := &cobra.Command{
		Use:   "save [srt_file] [content_file|-]",
		Short: "Replace a subtitle file with edited content",
		Long: `Validate the edited content as SRT and write it over the subtitle file.
Malformed content leaves the existing file untouched. Use "-" to read the
content from standard input.`,
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, args[1])
			if err != nil {
				return err
			}
			doc, err := subtitle.Save(args[0], content)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d cues to %s\n", doc.Cues, doc.Path)
			return nil
		},
	}

	cmd.AddCommand(show, save, newSRTTranslateCommand(app))
	return cmd
}

type translateOptions struct {
	to          string
	from        string
	provider    string
	model       string
	prompt      string
	output      string
	batchSize   int
	concurrency int
}

func newSRTTranslateCommand(app *appContext) *cobra.Command {
	opts := &translateOptions{}
	cmd := &cobra.Command{
		Use:   "translate [srt_file]",
		Short: "Translate subtitle text into another language",
		Long: `Translate every cue of an SRT file with a hosted language model and write
the result next to it as <name>.<language>.srt. Cue numbers and timings are
kept as they are.`,
		Example: `  captioner srt translate talk.srt --to Spanish
  captioner srt translate talk.srt --to ja --provider anthropic -o talk.ja.srt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd, app, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.to, "to", "t", "", "Target language (required)")
	cmd.Flags().StringVarP(&opts.from, "from", "f", "", "Source language (detected when empty)")
	cmd.Flags().StringVar(&opts.provider, "provider", "",
		fmt.Sprintf("Translation provider (%s)", strings.Join(translate.Providers(), ", ")))
	cmd.Flags().StringVar(&opts.model, "model", "", "Provider model (empty for the provider default)")
	cmd.Flags().StringVar(&opts.prompt, "prompt", "", "Extra instructions for the model")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output subtitle path")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Cues per request")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Requests in flight")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runTranslate(cmd *cobra.Command, app *appContext, path string, opts *translateOptions) error {
	cfg := *app.cfg
	if cmd.Flags().Changed("provider") {
		cfg.Translation.Provider = strings.ToLower(strings.TrimSpace(opts.provider))
	}
	if cmd.Flags().Changed("model") {
		cfg.Translation.Model = opts.model
	}
	if opts.batchSize > 0 {
		cfg.Translation.BatchSize = opts.batchSize
	}
	if opts.concurrency > 0 {
		cfg.Translation.Concurrency = opts.concurrency
	}
	tc := cfg.TranslateConfig(opts.from, opts.to)
	tc.Prompt = opts.prompt

	cues, err := subtitle.ParseFile(path)
	if err != nil {
		return err
	}
	if len(cues) == 0 {
		return failure.Invalid("%s has no cues to translate", path)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	translator, err := app.newTranslator(ctx, tc, app.log)
	if err != nil {
		return fmt.Errorf("translation failed: %w", err)
	}
	translated, err := translator.Cues(ctx, cues)
	if err != nil {
		return fmt.Errorf("translation failed: %w", err)
	}

	output := opts.output
	if output == "" {
		output = translatedPath(path, opts.to)
	}
	if err := subtitle.NewWriter().Write(translated, output); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Translated %d cues to %s\n", len(translated), output)
	return nil
}

// translatedPath turns talk.srt and "Spanish" into talk.spanish.srt.
func translatedPath(path, language string) string {
	ext := filepath.Ext(path)
	tag := strings.ToLower(strings.Join(strings.Fields(language), "-"))
	return strings.TrimSuffix(path, ext) + "." + tag + ".srt"
}

func readContent(cmd *cobra.Command, source string) (string, error) {
	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read subtitle content: %w", err)
	}
	return string(data), nil
}
