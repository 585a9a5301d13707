package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/boshu2/safetest/internal/formatter"
	"github.com/boshu2/safetest/internal/selection"
	"github.com/boshu2/safetest/internal/storage"
)

var errTestsFailed = errors.New("tests did not pass")

var (
	runAll         bool
	runFailed      bool
	runUncommitted bool
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Select and run tests under the execution guard",
	Long: `Select the tests affected by a change and run each one under an
execution guard.

The robust profile cancels a test cooperatively (SIGTERM to its process
group) at the primary timeout and kills the process tree at the escalation
deadline, or earlier when heartbeats stop. Every line a test prints counts
as a heartbeat. The aggressive profile caps timeouts at 30s and kills
immediately.

Interrupting safetest cancels running tests the same way. Exits non-zero
when any test fails, times out or is cancelled, and when selection fails.

Examples:
  safetest run
  safetest run --all --profile aggressive --timeout 20s
  safetest run --since main --parallel 4 -o markdown
  safetest run --failed`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addSelectionFlags(runCmd.Flags())
	addGuardFlags(runCmd.Flags())
	runCmd.Flags().BoolVar(&runAll, "all", false, "Run every discovered test, skipping selection")
	runCmd.Flags().BoolVar(&runFailed, "failed", false, "Re-run the tests that did not pass in the last recorded run")
	runCmd.Flags().BoolVar(&runUncommitted, "uncommitted", false, "Only consider uncommitted changes")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	tests, err := a.testsToRun(ctx, cmd.ErrOrStderr(), args)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No tests selected.")
		return nil
	}

	var stream io.Writer
	if verbose {
		stream = cmd.ErrOrStderr()
	}
	VerbosePrintf("Running %s tests (profile %s, parallelism %d)\n",
		humanize.Comma(int64(len(tests))), cfg.Timeouts.Profile, cfg.Runner.Parallelism)

	report, err := a.execute(ctx, tests, stream)
	if err != nil {
		return err
	}
	a.save(&report)
	if err := formatter.WriteReport(cmd.OutOrStdout(), f, report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%w: %s", errTestsFailed, formatter.Totals(report))
	}
	return nil
}

// testsToRun returns every test with --all, the last run's failures with
// --failed, otherwise the selection. A degraded selection is an error.
func (a *app) testsToRun(ctx context.Context, errOut io.Writer, files []string) ([]string, error) {
	if runFailed {
		latest, err := a.history().Latest()
		if err != nil {
			return nil, err
		}
		report, err := a.history().ReadReport(latest.RunID)
		if err != nil {
			return nil, err
		}
		VerbosePrintf("Re-running %d of %d tests from run %s\n", latest.NotPassed, latest.Tests, latest.RunID)
		return storage.NotPassed(report), nil
	}
	if runAll {
		tests, err := a.analyzer.DiscoverAllTests(ctx, a.root)
		if err != nil {
			return nil, fmt.Errorf("discover tests: %w", err)
		}
		return tests, nil
	}

	res := a.selectTests(ctx, files, runUncommitted)
	if res.Degraded {
		fmt.Fprint(errOut, selection.GetSelectionSummary(res))
		return nil, fmt.Errorf("%w: %s", errSelectionFailed, strings.Join(res.Warnings, "; "))
	}
	VerbosePrintf("%s\n", selection.GetSelectionSummary(res))
	return res.SelectedTests, nil
}
