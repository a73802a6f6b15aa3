package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var verbose bool

// rootCmd is the application entry point.
var rootCmd = &cobra.Command{
	Use:   "rulecheck",
	Short: "Evaluate declarative entity rules against property fixtures",
	Long: `rulecheck loads a YAML rule document, builds a dynamic entity from a
fixture of property values, assigns every value through the rule pipeline,
and reports the resulting messages and meta-state.`,
	Version: version,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
