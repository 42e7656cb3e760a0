package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mgpai22/captioner/internal/jobs"
)

func newBurnCommand(app *appContext) *cobra.Command {
	var (
		output      string
		idleTimeout time.Duration
		style       styleFlags
	)

	cmd := &cobra.Command{
		Use:   "burn [video_file] [srt_file]",
		Short: "Burn an existing subtitle file into a video",
		Long: `Burn an SRT file, for example one edited after "transcribe", into a copy
of the video. The audio stream is copied unchanged.

Examples:
  captioner burn video.mp4 video.srt
  captioner burn video.mp4 video.srt -o captioned.mp4 --alignment 2 --margin-v 20`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := app.newManager(app.cfg, app.log)
			if err != nil {
				return err
			}
			req := jobs.Request{
				Kind:       jobs.KindBurn,
				SourcePath: args[0],
				SRTPath:    args[1],
				OutputPath: output,
				Style:      style.apply(cmd, app.cfg.Style),
			}
			app.log.Infow("starting burn-in", "video", args[0], "subtitles", args[1])
			if err := submitAndWatch(cmd, manager, req, idleTimeout, app.log); err != nil {
				return fmt.Errorf("burn-in failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output video path (default: timestamped name next to the source)")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "Cancel the job when it reports no progress for this long (0 waits forever)")
	style.register(cmd)
	return cmd
}
