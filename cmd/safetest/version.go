package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// buildDetails is what the version command reports beyond the Go runtime.
type buildDetails struct {
	Version  string
	Revision string
	Modified bool
}

// readBuildDetails prefers the ldflags version and falls back to the module
// version recorded by `go install`. VCS stamps come from the build info.
func readBuildDetails(ldVersion string, info *debug.BuildInfo) buildDetails {
	d := buildDetails{Version: ldVersion}
	if info == nil {
		return d
	}
	if d.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		d.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			d.Revision = s.Value
		case "vcs.modified":
			d.Modified = s.Value == "true"
		}
	}
	return d
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the version, the VCS revision it was built from, and runtime details.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info, _ := debug.ReadBuildInfo()
		d := readBuildDetails(version, info)

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "safetest version %s\n", d.Version)
		if d.Revision != "" {
			rev := d.Revision
			if len(rev) > 12 {
				rev = rev[:12]
			}
			if d.Modified {
				rev += " (modified)"
			}
			fmt.Fprintf(w, "  Revision: %s\n", rev)
		}
		fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
		fmt.Fprintf(w, "  Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
