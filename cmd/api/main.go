package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"parley/api/internal/config"
	"parley/api/internal/logging"
)

const programName = "parley"

var globalFlags = struct {
	debug bool
}{}

// commonRun loads configuration and builds the logger shared by every
// subcommand.
func commonRun() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	level := cfg.LogLevel
	if globalFlags.debug {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Dev)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger.With(zap.String("component", programName)), nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Multi-tenant conference moderation API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(
		serveCommand(),
		tenantCommand(),
		tokenCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
