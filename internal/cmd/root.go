package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "specforge",
	Short: "Review and decompose spec documents with an AI assistant",
	Long: `specforge runs an AI coding assistant over Markdown specs. It reviews a spec across
several quality categories, turns it into user stories and technical tasks through a
generate-review-revise loop, and tracks the suggestions you approve, edit, or reject.

State lives under .specforge/ next to your documents.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	rootDir       string
	rootLogLevel  string
	rootLogFormat string
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which commands use for cancellation
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "C", ".", "project root holding .specforge/")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "log level (debug, info, warn, error); overrides log.level")
	rootCmd.PersistentFlags().StringVar(&rootLogFormat, "log-format", "", "log format (text, json); overrides log.format")
}
