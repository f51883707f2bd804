// Package cmd implements the raglet command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/raglet/raglet/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "raglet",
	Short: "raglet - conversational retrieval pipeline",
	Long: `raglet answers questions by decomposing them into sub-questions,
running each against a retrieval tool, and synthesizing the results
into a grounded answer.

Run "raglet serve" to start the HTTP API, or "raglet ask" for a
one-shot query from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the process logger honoring the --verbose flag.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}
