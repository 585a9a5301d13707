package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field binds a dotted config key to its place in Config.
type field struct {
	key  string
	set  func(*Config, string) error
	show func(*Config) string
}

func bind[T any](key string, ptr func(*Config) *T, parse func(string) (T, error), format func(T) string) field {
	return field{
		key: key,
		set: func(c *Config, raw string) error {
			v, err := parse(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*ptr(c) = v
			return nil
		},
		show: func(c *Config) string { return format(*ptr(c)) },
	}
}

func str(key string, ptr func(*Config) *string) field {
	return bind(key, ptr, func(s string) (string, error) { return s, nil }, func(s string) string { return s })
}

func boolean(key string, ptr func(*Config) *bool) field {
	return bind(key, ptr, strconv.ParseBool, strconv.FormatBool)
}

func integer(key string, ptr func(*Config) *int) field {
	return bind(key, ptr, strconv.Atoi, strconv.Itoa)
}

func float(key string, ptr func(*Config) *float64) field {
	return bind(key, ptr,
		func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
		func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) })
}

func duration(key string, ptr func(*Config) *time.Duration) field {
	return bind(key, ptr, time.ParseDuration, time.Duration.String)
}

// list fields are comma separated outside YAML.
func list(key string, ptr func(*Config) *[]string) field {
	return bind(key, ptr,
		func(s string) ([]string, error) {
			var out []string
			for _, p := range strings.Split(s, ",") {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out, nil
		},
		func(v []string) string { return strings.Join(v, ",") })
}

var fields = []field{
	str("output", func(c *Config) *string { return &c.Output }),
	boolean("verbose", func(c *Config) *bool { return &c.Verbose }),

	float("selection.minimum_confidence", func(c *Config) *float64 { return &c.Selection.MinimumConfidence }),
	float("selection.maximum_selection_ratio", func(c *Config) *float64 { return &c.Selection.MaximumSelectionRatio }),
	boolean("selection.include_indirect_dependencies", func(c *Config) *bool { return &c.Selection.IncludeIndirectDependencies }),
	boolean("selection.include_config_file_tests", func(c *Config) *bool { return &c.Selection.IncludeConfigFileTests }),
	boolean("selection.include_infrastructure_tests", func(c *Config) *bool { return &c.Selection.IncludeInfrastructureTests }),
	boolean("selection.force_refresh", func(c *Config) *bool { return &c.Selection.ForceRefresh }),
	boolean("selection.use_cache", func(c *Config) *bool { return &c.Selection.UseCache }),
	boolean("selection.fallback_to_all_tests", func(c *Config) *bool { return &c.Selection.FallbackToAllTests }),
	str("selection.since_ref", func(c *Config) *string { return &c.Selection.SinceRef }),
	list("selection.config_patterns", func(c *Config) *[]string { return &c.Selection.ConfigPatterns }),
	list("selection.infrastructure_patterns", func(c *Config) *[]string { return &c.Selection.InfrastructurePatterns }),

	str("timeouts.profile", func(c *Config) *string { return &c.Timeouts.Profile }),
	duration("timeouts.default_timeout", func(c *Config) *time.Duration { return &c.Timeouts.DefaultTimeout }),
	duration("timeouts.escalation_timeout", func(c *Config) *time.Duration { return &c.Timeouts.EscalationTimeout }),
	duration("timeouts.heartbeat_interval", func(c *Config) *time.Duration { return &c.Timeouts.HeartbeatInterval }),
	integer("timeouts.max_heartbeat_failures", func(c *Config) *int { return &c.Timeouts.MaxHeartbeatFailures }),
	duration("timeouts.process_timeout", func(c *Config) *time.Duration { return &c.Timeouts.ProcessTimeout }),
	boolean("timeouts.enable_force_cancellation", func(c *Config) *bool { return &c.Timeouts.EnableForceCancellation }),

	str("runner.command", func(c *Config) *string { return &c.Runner.Command }),
	str("runner.dir", func(c *Config) *string { return &c.Runner.Dir }),
	integer("runner.parallelism", func(c *Config) *int { return &c.Runner.Parallelism }),
	integer("runner.output_tail_lines", func(c *Config) *int { return &c.Runner.OutputTailLines }),

	boolean("history.enabled", func(c *Config) *bool { return &c.History.Enabled }),
	str("history.dir", func(c *Config) *string { return &c.History.Dir }),
}

// Keys returns every configuration key in display order.
func Keys() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.key
	}
	return out
}

// EnvVar returns the environment variable that overrides key,
// e.g. timeouts.default_timeout -> SAFETEST_TIMEOUTS_DEFAULT_TIMEOUT.
func EnvVar(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Set parses raw and stores it under key.
func (c *Config) Set(key, raw string) error {
	f, ok := lookupField(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.set(c, raw)
}

func lookupField(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}
