package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/boshu2/safetest/internal/runner"
)

const (
	// DefaultBaseDir is the default history directory, relative to the repository root.
	DefaultBaseDir = ".safetest/history"

	// RunsDir holds one JSON report per run.
	RunsDir = "runs"

	// IndexFile is the name of the run index.
	IndexFile = "runs.jsonl"

	// shortIDLength is how much of the run ID goes into report file names.
	shortIDLength = 8
)

var _ Store = (*FileStorage)(nil)

// FileStorage implements Store using the local filesystem.
type FileStorage struct {
	// BaseDir is the root directory (e.g., .safetest/history).
	BaseDir string

	mu sync.Mutex
}

// FileStorageOption configures a FileStorage instance.
type FileStorageOption func(*FileStorage)

// WithBaseDir sets the base directory.
func WithBaseDir(dir string) FileStorageOption {
	return func(fs *FileStorage) {
		fs.BaseDir = dir
	}
}

// NewFileStorage creates a new file-based store.
func NewFileStorage(opts ...FileStorageOption) *FileStorage {
	fs := &FileStorage{BaseDir: DefaultBaseDir}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Init creates the required directory structure.
func (fs *FileStorage) Init() error {
	dir := filepath.Join(fs.BaseDir, RunsDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// SaveReport writes the report atomically and appends it to the index.
// Saving the same run twice rewrites the report but indexes it once.
func (fs *FileStorage) SaveReport(report *runner.RunReport) (string, error) {
	if report.ID == "" {
		return "", ErrRunIDRequired
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	// YYYY-MM-DD-HHMMSS-{runID[:8]}.json
	shortID := report.ID
	if len(shortID) > shortIDLength {
		shortID = shortID[:shortIDLength]
	}
	name := fmt.Sprintf("%s-%s.json", report.StartedAt.UTC().Format("2006-01-02-150405"), shortID)
	path := filepath.Join(fs.BaseDir, RunsDir, name)

	if err := fs.atomicWrite(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	indexPath := fs.GetIndexPath()
	if fs.hasIndexEntry(indexPath, report.ID) {
		return path, nil
	}
	entry := IndexEntry{
		RunID:      report.ID,
		StartedAt:  report.StartedAt,
		Profile:    report.Profile,
		Duration:   report.Duration,
		Tests:      len(report.Results),
		Passed:     report.Passed,
		NotPassed:  len(report.Results) - report.Passed,
		ReportPath: path,
	}
	if err := fs.appendJSONL(indexPath, entry); err != nil {
		return "", fmt.Errorf("index report: %w", err)
	}
	return path, nil
}

// ReadReport retrieves a report by run ID or by a prefix that matches
// exactly one run.
func (fs *FileStorage) ReadReport(runID string) (*runner.RunReport, error) {
	entries, err := fs.ListRuns()
	if err != nil {
		return nil, err
	}

	var match *IndexEntry
	for i := range entries {
		e := &entries[i]
		if e.RunID == runID {
			match = e
			break
		}
		if runID != "" && strings.HasPrefix(e.RunID, runID) {
			if match != nil {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguousRunID, runID)
			}
			match = e
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return readReportFile(match.ReportPath)
}

// ListRuns returns all index entries in the order they were saved.
func (fs *FileStorage) ListRuns() (entries []IndexEntry, err error) {
	f, err := os.Open(fs.GetIndexPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry IndexEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // Skip malformed lines
		}
		entries = append(entries, entry)
	}

	return entries, scanner.Err()
}

// Latest returns the most recently saved run.
func (fs *FileStorage) Latest() (*IndexEntry, error) {
	entries, err := fs.ListRuns()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoRuns
	}
	latest := entries[len(entries)-1]
	return &latest, nil
}

// Close releases any resources.
func (fs *FileStorage) Close() error {
	return nil // No resources to release for file storage
}

// atomicWrite writes to a temp file and renames atomically.
func (fs *FileStorage) atomicWrite(path string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	// Create temp file in same directory for atomic rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if err := writeFunc(tmpFile); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write content: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// appendJSONL appends one JSON line. A partial line from a crash is
// skipped by ListRuns.
func (fs *FileStorage) appendJSONL(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // sync already called, close best-effort
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write line: %w", err)
	}

	return f.Sync()
}

// hasIndexEntry checks if a run ID already exists in the index.
func (fs *FileStorage) hasIndexEntry(indexPath, runID string) bool {
	f, err := os.Open(indexPath)
	if err != nil {
		return false
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only check, errors non-critical
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry IndexEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if entry.RunID == runID {
			return true
		}
	}

	return false
}

func readReportFile(path string) (*runner.RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report runner.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &report, nil
}

// NotPassed returns the IDs of tests in report that did not pass, in run order.
func NotPassed(report *runner.RunReport) []string {
	var out []string
	for _, res := range report.Results {
		if !res.IsSuccess {
			out = append(out, res.TestID)
		}
	}
	return out
}

// GetBaseDir returns the configured base directory.
func (fs *FileStorage) GetBaseDir() string {
	return fs.BaseDir
}

// GetRunsDir returns the full path to the reports directory.
func (fs *FileStorage) GetRunsDir() string {
	return filepath.Join(fs.BaseDir, RunsDir)
}

// GetIndexPath returns the full path to the index file.
func (fs *FileStorage) GetIndexPath() string {
	return filepath.Join(fs.BaseDir, IndexFile)
}
