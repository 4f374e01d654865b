package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, settlement pool and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := conf.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := NewApp(ctx, conf)
		if err != nil {
			return err
		}
		defer app.Close()

		return app.Run(ctx)
	},
}
