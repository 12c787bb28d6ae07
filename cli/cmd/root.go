// Package cmd contains CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/instantcocoa/naxos/cli/internal/config"
)

var (
	cfg     *config.Config
	format  string
	verbose bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "naxos",
	Short: "Naxos CLI - AI application observability",
	Long: `Naxos collects and queries traces from AI applications.

This CLI provides commands to query traces, inspect spans, and trigger
scoring runs.

Examples:
  # List traces
  naxos traces list

  # List traces for one agent
  naxos traces list --entity-type agent --entity-id weather-agent

  # Inspect a trace
  naxos traces get 0f5e2a31

  # Trigger a scoring run
  naxos traces score error-rate 0f5e2a31
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.DefaultConfig()
		if format != "" {
			cfg.Format = format
		}
		cfg.Verbose = verbose
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", "", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(tracesCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints version info.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("naxos version 0.1.0")
	},
}
