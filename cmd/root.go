// Package cmd implements the baseline command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"baseline/pkg/logging"
)

var logLevel string

// rootCmd is the base command; invoked without a subcommand it prints help.
var rootCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Snapshot and restore profiles of a modular runtime",
	Long: `baseline manages unit-state profiles of a long-lived modular runtime:
repositories, features and bundles. Profiles capture a known-good state;
the reconciliation engine drives a drifted runtime back to it, which keeps
integration test runs isolated from each other.`,
	// SilenceUsage keeps handled errors from dumping the usage text.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		logging.Init(level, cmd.ErrOrStderr())
		return nil
	},
}

// SetVersion sets the version for the root command, injected from main at
// build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the build version.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "baseline version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch s {
	case "debug":
		return logging.LevelDebug, nil
	case "info":
		return logging.LevelInfo, nil
	case "warn":
		return logging.LevelWarn, nil
	case "error":
		return logging.LevelError, nil
	}
	return logging.LevelInfo, fmt.Errorf("unknown log level %q (expected debug, info, warn or error)", s)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newDiffCmd())
	rootCmd.AddCommand(newHistoryCmd())
}
