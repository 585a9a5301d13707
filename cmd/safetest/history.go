package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/boshu2/safetest/internal/formatter"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded test runs",
	Long: `List the runs recorded by safetest run, newest first.

Reports are kept under history.dir (default .safetest/history in the
repository root). Disable recording with --save=false or history.enabled.

Examples:
  safetest history
  safetest history --limit 5 -o json
  safetest history show 3f2a`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show a recorded run report",
	Long:  `Show the report of a recorded run. The ID may be a unique prefix; without one the latest run is shown.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.PersistentFlags().String("dir", "", "Directory inside the repository (default: current directory)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list (0 = all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, f, err := historyApp(cmd)
	if err != nil {
		return err
	}
	entries, err := a.history().ListRuns()
	if err != nil {
		return err
	}

	// newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if historyLimit > 0 && len(entries) > historyLimit {
		entries = entries[:historyLimit]
	}

	w := cmd.OutOrStdout()
	switch f {
	case formatter.FormatJSON:
		return formatter.WriteJSON(w, entries)
	case formatter.FormatJSONL:
		return formatter.WriteJSONL(w, entries)
	case formatter.FormatYAML:
		return formatter.WriteYAML(w, entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	tbl := formatter.NewTable(w, "RUN", "STARTED", "PROFILE", "TESTS", "PASSED", "NOT PASSED", "DURATION")
	for _, e := range entries {
		tbl.AddRow(shortRunID(e.RunID), humanize.RelTime(e.StartedAt, time.Now(), "ago", "from now"), string(e.Profile),
			humanize.Comma(int64(e.Tests)), humanize.Comma(int64(e.Passed)), humanize.Comma(int64(e.NotPassed)),
			formatter.FormatDuration(e.Duration))
	}
	return tbl.Render()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	a, f, err := historyApp(cmd)
	if err != nil {
		return err
	}
	store := a.history()

	id := ""
	if len(args) == 1 {
		id = args[0]
	} else {
		latest, err := store.Latest()
		if err != nil {
			return err
		}
		id = latest.RunID
	}
	report, err := store.ReadReport(id)
	if err != nil {
		return err
	}
	return formatter.WriteReport(cmd.OutOrStdout(), f, *report)
}

func historyApp(cmd *cobra.Command) (*app, formatter.Format, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	a, err := newApp(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, "", err
	}
	f, err := a.format()
	if err != nil {
		return nil, "", err
	}
	return a, f, nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
