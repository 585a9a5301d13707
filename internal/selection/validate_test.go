package selection

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/boshu2/safetest/internal/types"
)

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name         string
		opts         types.SelectionOptions
		wantValid    bool
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name:      "defaults",
			opts:      types.DefaultSelectionOptions(),
			wantValid: true,
			// 0.8 > 0.5
			wantWarnings: []string{"greater than maximum selection ratio"},
		},
		{
			name:      "clean",
			opts:      types.SelectionOptions{MinimumConfidence: 0.5, MaximumSelectionRatio: 0.6},
			wantValid: true,
		},
		{
			name:       "confidence above one",
			opts:       types.SelectionOptions{MinimumConfidence: 1.2, MaximumSelectionRatio: 0.5},
			wantErrors: []string{"minimum confidence must be between 0 and 1"},
		},
		{
			name:       "negative ratio",
			opts:       types.SelectionOptions{MinimumConfidence: 0.5, MaximumSelectionRatio: -0.1},
			wantErrors: []string{"maximum selection ratio must be between 0 and 1"},
		},
		{
			name: "both out of range",
			opts: types.SelectionOptions{MinimumConfidence: -1, MaximumSelectionRatio: 2},
			wantErrors: []string{
				"minimum confidence must be between 0 and 1",
				"maximum selection ratio must be between 0 and 1",
			},
		},
		{
			name:       "NaN confidence",
			opts:       types.SelectionOptions{MinimumConfidence: math.NaN(), MaximumSelectionRatio: 0.5},
			wantErrors: []string{"minimum confidence must be between 0 and 1"},
		},
		{
			name:         "confidence above ratio is only a warning",
			opts:         types.SelectionOptions{MinimumConfidence: 0.9, MaximumSelectionRatio: 0.2},
			wantValid:    true,
			wantWarnings: []string{"greater than maximum selection ratio"},
		},
		{
			name: "force refresh wins over cache",
			opts: types.SelectionOptions{
				MinimumConfidence: 0.5, MaximumSelectionRatio: 0.5, ForceRefresh: true, UseCache: true,
			},
			wantValid:    true,
			wantWarnings: []string{"force refresh takes precedence"},
		},
		{
			name:         "zero ratio",
			opts:         types.SelectionOptions{MinimumConfidence: 0, MaximumSelectionRatio: 0},
			wantValid:    true,
			wantWarnings: []string{"smart selection can never be used"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateOptions(tt.opts)
			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Len(t, res.Errors, len(tt.wantErrors))
			for i, want := range tt.wantErrors {
				if i < len(res.Errors) {
					assert.Contains(t, res.Errors[i], want)
				}
			}
			assert.Len(t, res.Warnings, len(tt.wantWarnings))
			for _, want := range tt.wantWarnings {
				assert.True(t, containsAny(res.Warnings, want), "missing warning %q in %v", want, res.Warnings)
			}
		})
	}
}

func containsAny(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
