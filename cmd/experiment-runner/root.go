package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yqhp/experiment-runner/pkg/logger"
)

// Version is the current version number.
const Version = "0.1.0"

var (
	cfgFile string
	debug   bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "experiment-runner",
	Short: "Distributed experiment trial runner",
	Long: `experiment-runner expands experiments into trials and executes them
serially, across goroutines, across a worker pool, or across the processes
of a compute cluster. Completed trials are persisted, so an interrupted run
resumes where it left off.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case debug:
			logger.SetLevelFromString("debug")
		case quiet:
			logger.SetLevelFromString("error")
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
