package selection

import (
	"fmt"
	"math"

	"github.com/boshu2/safetest/internal/types"
)

// ValidationResult is the outcome of ValidateOptions.
type ValidationResult struct {
	Valid    bool     `json:"valid" yaml:"valid"`
	Errors   []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// ValidateOptions checks a selection policy. It has no side effects.
//
// Thresholds outside [0,1] are errors. A minimum confidence above the
// maximum selection ratio, and ForceRefresh combined with UseCache, are
// warnings; in the latter case ForceRefresh wins.
func ValidateOptions(opts types.SelectionOptions) ValidationResult {
	var res ValidationResult

	if !inUnitRange(opts.MinimumConfidence) {
		res.Errors = append(res.Errors,
			fmt.Sprintf("minimum confidence must be between 0 and 1, got %s", formatFloat(opts.MinimumConfidence)))
	}
	if !inUnitRange(opts.MaximumSelectionRatio) {
		res.Errors = append(res.Errors,
			fmt.Sprintf("maximum selection ratio must be between 0 and 1, got %s", formatFloat(opts.MaximumSelectionRatio)))
	}

	if len(res.Errors) == 0 {
		if opts.MinimumConfidence > opts.MaximumSelectionRatio {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("minimum confidence (%s) is greater than maximum selection ratio (%s)",
					formatFloat(opts.MinimumConfidence), formatFloat(opts.MaximumSelectionRatio)))
		}
		if opts.MaximumSelectionRatio == 0 {
			res.Warnings = append(res.Warnings,
				"maximum selection ratio is 0: smart selection can never be used")
		}
	}
	if opts.ForceRefresh && opts.UseCache {
		res.Warnings = append(res.Warnings,
			"force refresh and use cache are both set: force refresh takes precedence and the cache is bypassed")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
