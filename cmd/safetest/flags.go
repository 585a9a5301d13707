package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/boshu2/safetest/internal/config"
)

// flagKeys maps CLI flag names to the config keys they override.
var flagKeys = map[string]string{
	"output":  "output",
	"verbose": "verbose",

	"since":          "selection.since_ref",
	"min-confidence": "selection.minimum_confidence",
	"max-ratio":      "selection.maximum_selection_ratio",
	"indirect":       "selection.include_indirect_dependencies",
	"include-config": "selection.include_config_file_tests",
	"include-infra":  "selection.include_infrastructure_tests",
	"force-refresh":  "selection.force_refresh",
	"cache":          "selection.use_cache",
	"fallback":       "selection.fallback_to_all_tests",

	"profile":                "timeouts.profile",
	"timeout":                "timeouts.default_timeout",
	"escalation-timeout":     "timeouts.escalation_timeout",
	"heartbeat-interval":     "timeouts.heartbeat_interval",
	"max-heartbeat-failures": "timeouts.max_heartbeat_failures",
	"process-timeout":        "timeouts.process_timeout",
	"force-cancel":           "timeouts.enable_force_cancellation",

	"command":  "runner.command",
	"dir":      "runner.dir",
	"parallel": "runner.parallelism",
	"tail":     "runner.output_tail_lines",

	"save": "history.enabled",
}

// addSelectionFlags registers the selection policy flags. Defaults shown in
// help are the built-in defaults; only flags the user sets override config.
func addSelectionFlags(fs *pflag.FlagSet) {
	def := config.Default().Selection
	fs.String("since", def.SinceRef, "Git revision to detect changes against")
	fs.String("dir", "", "Directory inside the repository (default: current directory)")
	fs.Float64("min-confidence", def.MinimumConfidence, "Minimum analyzer confidence for smart selection")
	fs.Float64("max-ratio", def.MaximumSelectionRatio, "Maximum share of the suite smart selection may pick")
	fs.Bool("indirect", def.IncludeIndirectDependencies, "Include tests of packages that depend on changed packages")
	fs.Bool("include-config", def.IncludeConfigFileTests, "Count configuration file changes")
	fs.Bool("include-infra", def.IncludeInfrastructureTests, "Count build and container descriptor changes")
	fs.Bool("force-refresh", def.ForceRefresh, "Bypass and overwrite cached impact analyses")
	fs.Bool("cache", def.UseCache, "Use cached impact analyses")
	fs.Bool("fallback", def.FallbackToAllTests, "Allow smart selection despite analyzer warnings")
}

// addGuardFlags registers the execution guard and runner flags.
func addGuardFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.String("profile", def.Timeouts.Profile, "Guard profile (robust, aggressive)")
	fs.Duration("timeout", def.Timeouts.DefaultTimeout, "Primary per-test timeout")
	fs.Duration("escalation-timeout", def.Timeouts.EscalationTimeout, "Escalation timeout (robust profile)")
	fs.Duration("heartbeat-interval", def.Timeouts.HeartbeatInterval, "Heartbeat polling interval (0 disables)")
	fs.Int("max-heartbeat-failures", def.Timeouts.MaxHeartbeatFailures, "Missed heartbeats tolerated before force-cancel")
	fs.Duration("process-timeout", def.Timeouts.ProcessTimeout, "Hard per-test backstop (0 disables)")
	fs.Bool("force-cancel", def.Timeouts.EnableForceCancellation, "Allow killing test process trees")
	fs.String("command", def.Runner.Command, "Test command template; {test} is replaced by the test id")
	fs.Int("parallel", def.Runner.Parallelism, "Maximum tests running at once")
	fs.Int("tail", def.Runner.OutputTailLines, "Output lines kept for failed tests")
	fs.Bool("save", def.History.Enabled, "Save the run report to history")
}

// flagOverrides returns the config overrides for every flag the user set.
func flagOverrides(fs *pflag.FlagSet) map[string]string {
	out := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			out[key] = f.Value.String()
		}
	})
	return out
}

// loadConfig resolves configuration for cmd, with its set flags on top.
// Verbose from config or environment also enables VerbosePrintf.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagOverrides(cmd.Flags()))
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		verbose = true
	}
	return cfg, nil
}
