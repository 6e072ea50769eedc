package cmd

import (
	"os"

	"github.com/noorlatif/portfolio-assistant/pkg/logutil"
	"github.com/spf13/cobra"
)

var (
	rootLogLevel  string
	rootLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "portfolio-assistant",
	Short: "Streaming AI assistant for portfolio projects",
	Long:  "Portfolio assistant answers visitor questions about portfolio projects by streaming text from an upstream model.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootLogFormat, "logformat", "text", "Log format (text, json, logfmt)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return logutil.Configure(rootLogLevel, rootLogFormat)
	}
}
