package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mgpai22/captioner/internal/server"
	"github.com/mgpai22/captioner/internal/transcribe"
)

func newServeCommand(app *appContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API over HTTP",
		Long: `Start the HTTP server. Clients submit transcription and burn-in jobs,
follow their progress as server-sent events or over a websocket, cancel
them, and load or save subtitle files for editing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.cfg
			if cmd.Flags().Changed("bind") {
				cfg.Server.Bind = bind
			}

			manager, err := app.newManager(cfg, app.log)
			if err != nil {
				return err
			}
			srv, err := server.New(server.Options{
				Manager: manager,
				Defaults: server.Defaults{
					Engine: cfg.Transcription.Engine,
					Model:  transcribe.ModelSize(cfg.Transcription.Model),
					Chunk:  cfg.ChunkOptions(),
					Style:  cfg.Style,
				},
				IdleTimeout: cfg.EventIdleTimeout(),
				Log:         app.log,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, cfg.Server.Bind)
		},
	}

	cmd.Flags().StringVarP(&bind, "bind", "b", "", "Address to listen on (default from config, 127.0.0.1:5000)")
	return cmd
}
