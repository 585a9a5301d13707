package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boshu2/safetest/internal/formatter"
)

var errSelectionFailed = errors.New("test selection failed")

var selectUncommitted bool

var selectCmd = &cobra.Command{
	Use:   "select [files...]",
	Short: "Show which tests a change selects",
	Long: `Select the tests affected by a change without running them.

With file arguments (paths relative to the repository root) the selection
policy is applied to exactly those files. Otherwise the change set is the
files changed since --since plus uncommitted changes, or only uncommitted
changes with --uncommitted.

Smart selection is used only when the analysis is confident enough and
selects a small enough share of the suite; otherwise every test is
selected. Exits non-zero when a collaborator failed and nothing could be
selected.

Examples:
  safetest select
  safetest select --since main -o json
  safetest select internal/guard/token.go`,
	RunE: runSelect,
}

func init() {
	rootCmd.AddCommand(selectCmd)
	addSelectionFlags(selectCmd.Flags())
	selectCmd.Flags().BoolVar(&selectUncommitted, "uncommitted", false, "Only consider uncommitted changes")
}

func runSelect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	f, err := a.format()
	if err != nil {
		return err
	}

	res := a.selectTests(cmd.Context(), args, selectUncommitted)
	if err := formatter.WriteSelection(cmd.OutOrStdout(), f, res); err != nil {
		return err
	}
	if res.Degraded {
		return fmt.Errorf("%w: %s", errSelectionFailed, strings.Join(res.Warnings, "; "))
	}
	return nil
}
