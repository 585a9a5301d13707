// Package storage persists run reports and an index of past runs so that
// results can be listed, inspected and re-run later.
package storage

import (
	"time"

	"github.com/boshu2/safetest/internal/runner"
	"github.com/boshu2/safetest/internal/types"
)

// IndexEntry summarises one stored run.
type IndexEntry struct {
	// RunID links to the full report.
	RunID string `json:"run_id" yaml:"run_id"`

	// StartedAt for ordering and filtering.
	StartedAt time.Time `json:"started_at" yaml:"started_at"`

	Profile  types.Profile `json:"profile" yaml:"profile"`
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Tests is the number of tests in the run.
	Tests int `json:"tests" yaml:"tests"`

	Passed int `json:"passed" yaml:"passed"`

	// NotPassed counts every test that did not pass: failures, timeouts,
	// cancellations and guard errors.
	NotPassed int `json:"not_passed" yaml:"not_passed"`

	// ReportPath is the path to the report file.
	ReportPath string `json:"report_path" yaml:"report_path"`
}

// OK reports whether every test in the run passed.
func (e IndexEntry) OK() bool { return e.NotPassed == 0 }

// Store is the interface for persisting run history.
type Store interface {
	// SaveReport writes a report and indexes it.
	// Returns the path where the report was written.
	SaveReport(report *runner.RunReport) (string, error)

	// ReadReport retrieves a report by run ID or unique ID prefix.
	ReadReport(runID string) (*runner.RunReport, error)

	// ListRuns returns all index entries, oldest first.
	ListRuns() ([]IndexEntry, error)

	// Latest returns the most recent index entry.
	Latest() (*IndexEntry, error)

	// Init creates the required directory structure.
	Init() error

	// Close releases any resources.
	Close() error
}
