package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/boshu2/safetest/internal/config"
	"github.com/boshu2/safetest/internal/formatter"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show resolved configuration",
	Long: `View the resolved safetest configuration and where each value came from.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (SAFETEST_*)
  3. Project config (.safetest/config.yaml)
  4. Home config (~/.safetest/config.yaml)
  5. Defaults

Every key can be set from the environment by upper-casing it and replacing
dots with underscores, e.g. timeouts.default_timeout is
SAFETEST_TIMEOUTS_DEFAULT_TIMEOUT. SAFETEST_CONFIG (or --config) points at
an explicit project config file.

Examples:
  safetest config
  safetest config -o json`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	overrides := flagOverrides(cmd.Flags())
	resolved, err := config.Resolve(overrides)
	if err != nil {
		return err
	}
	cfg, err := config.Load(overrides)
	if err != nil {
		return err
	}
	f, err := formatter.ParseFormat(cfg.Output)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch f {
	case formatter.FormatJSON:
		return formatter.WriteJSON(w, resolved)
	case formatter.FormatJSONL:
		return formatter.WriteJSONL(w, resolved)
	case formatter.FormatYAML:
		return formatter.WriteYAML(w, resolved)
	}

	fmt.Fprintln(w, "safetest Configuration")
	fmt.Fprintln(w, "======================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Config files:")
	if home, err := homedir.Dir(); err == nil {
		printConfigFile(w, "Home:   ", filepath.Join(home, ".safetest", "config.yaml"))
	}
	project := strings.TrimSpace(os.Getenv("SAFETEST_CONFIG"))
	if project == "" {
		cwd, _ := os.Getwd()
		project = filepath.Join(cwd, ".safetest", "config.yaml")
	}
	printConfigFile(w, "Project:", project)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Resolved values:")
	tbl := formatter.NewTable(w, "KEY", "VALUE", "SOURCE")
	tbl.SetMaxWidth(1, 60)
	for _, r := range resolved {
		tbl.AddRow(r.Key, r.Value, string(r.Source))
	}
	if err := tbl.Render(); err != nil {
		return err
	}

	var set []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, config.EnvPrefix) {
			set = append(set, kv)
		}
	}
	if len(set) > 0 {
		sort.Strings(set)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Environment variables:")
		for _, kv := range set {
			fmt.Fprintf(w, "  %s\n", kv)
		}
	}
	return nil
}

func printConfigFile(w io.Writer, label, path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  ✓ %s %s\n", label, path)
	} else {
		fmt.Fprintf(w, "  ✗ %s %s (not found)\n", label, path)
	}
}
