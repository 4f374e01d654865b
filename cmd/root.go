package cmd

import (
	"context"

	"bounty-settlement-system/config"
	"bounty-settlement-system/logger"

	"github.com/spf13/cobra"
)

var (
	RootCmd = &cobra.Command{
		Use:   "bounty",
		Short: "Pays GitHub pull request bounties out of on-chain escrow",

		// All child commands will use this
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			conf, err = config.Load(envFile)
			if err != nil {
				return
			}
			return logger.Init(conf.LogLevel)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	conf    *config.Config
	envFile string
)

func init() {
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load before reading the environment (default .env)")
}

// Execute runs the selected command.
func Execute() error {
	return RootCmd.ExecuteContext(context.Background())
}
