// Package cli implements the strider command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/me/strider/internal/config"
	"github.com/me/strider/internal/logging"
)

var (
	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.KernelConfig
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the strider CLI.
func NewRootCmd() *cobra.Command {
	flagConfig, flagDebug = "", false
	defaults := logging.DefaultOptions()

	root := &cobra.Command{
		Use:   "strider",
		Short: "strider: a stride-scheduled kernel core you can run workloads on",
		Long: "strider boots a single-core kernel with a stride scheduler, runs workload\n" +
			"programs on it, records every dispatch, and serves the recorded runs.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(flagConfig)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Log.Format = flagLogFormat
			}
			if flagDebug {
				cfg.Log.Level = "debug"
			}
			if err := cfg.Log.Validate(); err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			logger = logging.NewWithWriter(cfg.Log, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", defaults.Level, "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", defaults.Format, "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newRunsCmd(),
		newServeCmd(),
	)

	return root
}
