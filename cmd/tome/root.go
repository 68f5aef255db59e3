package main

import (
	"github.com/spf13/cobra"

	"github.com/tomelabs/tome/version"
)

var (
	cfgFile string
	homeDir string
)

var rootCmd = &cobra.Command{
	Use:   "tome",
	Short: "Book retention engine with LLM analysis and spaced-repetition delivery",
	Long: `Tome ingests books, analyzes them chapter by chapter with an LLM,
and schedules spaced-repetition reminders so the ideas actually stick.

The lifecycle:
  - Chapter-aware chunking of submitted books
  - Per-chapter analysis followed by a book-wide synthesis
  - Spaced-repetition tiers (day 1, 3, 7, 30) delivered on schedule
  - Free-text responses graded to adapt future intervals`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.tome/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "tome home directory (default: ~/.tome)",
	)

	rootCmd.AddCommand(versionCmd)
}
