package main

import (
	"os"

	"bounty-settlement-system/cmd"
	"bounty-settlement-system/logger"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logger.L().WithError(err).Error("❌ exiting")
		os.Exit(1)
	}
}
