package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/safetest/internal/formatter"
	"github.com/boshu2/safetest/internal/selection"
)

var errInvalidOptions = errors.New("selection options are invalid")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the selection policy",
	Long: `Validate the resolved selection options.

Out-of-range thresholds are errors. Combinations that make smart selection
unlikely or impossible are warnings. An invalid policy still runs, but
always selects every test.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	addSelectionFlags(validateCmd.Flags())
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	f, err := formatter.ParseFormat(cfg.Output)
	if err != nil {
		return err
	}

	res := selection.ValidateOptions(cfg.Selection.SelectionOptions)
	w := cmd.OutOrStdout()
	switch f {
	case formatter.FormatJSON, formatter.FormatJSONL:
		err = formatter.WriteJSON(w, res)
	case formatter.FormatYAML:
		err = formatter.WriteYAML(w, res)
	default:
		if res.Valid {
			fmt.Fprintln(w, "✓ Selection options are valid")
		}
		for _, e := range res.Errors {
			fmt.Fprintf(w, "✗ %s\n", e)
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "⚠ %s\n", warn)
		}
	}
	if err != nil {
		return err
	}
	if !res.Valid {
		return errInvalidOptions
	}
	return nil
}
