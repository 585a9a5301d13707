package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	output  string
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "safetest",
	Short: "Change-aware test selection with guarded execution",
	Long: `safetest picks the tests affected by a change and runs them under an
execution guard that enforces timeouts, watches for hung tests and kills
their process trees when they stop cooperating.

Commands:
  select    Show which tests a change selects
  run       Select and run tests under the execution guard
  history   List and show recorded runs
  validate  Check the selection policy
  config    Show resolved configuration with sources
  version   Show version information`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json, jsonl, yaml, markdown)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Project config file (default: .safetest/config.yaml)")
}

// VerbosePrintf prints to stderr only when verbose mode is enabled, so
// machine-readable output on stdout stays clean.
func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("SAFETEST_CONFIG", path)
}

// newLogger returns the structured logger handed to internal packages.
// Only warnings are shown unless verbose is set.
func newLogger(w io.Writer, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: !verbose, FullTimestamp: true})
	log.SetLevel(logrus.WarnLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}
