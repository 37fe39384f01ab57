package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile   string
	logLevel     string
	outputFormat string

	version = "v0.1.0" // injected by -ldflags during build
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mcpctx",
		Short:         "Connection and extension lifecycle manager for MCP servers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format (table, json, yaml)")

	rootCmd.AddCommand(newServersCommand())
	rootCmd.AddCommand(newExtCommand())
	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newRunCommand())
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}
