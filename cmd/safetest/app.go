package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/boshu2/safetest/internal/config"
	"github.com/boshu2/safetest/internal/formatter"
	"github.com/boshu2/safetest/internal/gitchanges"
	"github.com/boshu2/safetest/internal/guard"
	"github.com/boshu2/safetest/internal/impact"
	"github.com/boshu2/safetest/internal/runner"
	"github.com/boshu2/safetest/internal/selection"
	"github.com/boshu2/safetest/internal/storage"
	"github.com/boshu2/safetest/internal/telemetry"
	"github.com/boshu2/safetest/internal/types"
)

// app wires the selection engine, its collaborators and the guarded runner
// from resolved configuration.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	root     string
	analyzer *impact.Analyzer
	engine   *selection.Engine
}

func newApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	log := newLogger(logOut, cfg.Verbose)

	base := cfg.Runner.Dir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		base = wd
	}

	root, err := impact.FindModuleRoot(base)
	if err != nil {
		log.WithError(err).Warn("using the working directory as the module root")
		root = base
	}
	// Changed paths are reported relative to the module, so a module in a
	// subdirectory of the repository lines up with the analyzer.
	detector := gitchanges.NewDetector(base, log, gitchanges.WithScope(root))

	analyzer := impact.NewAnalyzer(root, log)
	engine := selection.NewEngine(detector, analyzer, root,
		selection.WithClassifier(selection.NewClassifier(cfg.Selection.ConfigPatterns, cfg.Selection.InfrastructurePatterns)),
		selection.WithCache(selection.NewAnalysisCache()),
		selection.WithLogger(log),
		selection.WithRecorder(telemetry.Default()),
	)
	return &app{cfg: cfg, log: log, root: root, analyzer: analyzer, engine: engine}, nil
}

// selectTests selects for explicit files when given, otherwise for
// uncommitted changes or the changes since the configured ref.
func (a *app) selectTests(ctx context.Context, files []string, uncommitted bool) types.SelectionResult {
	opts := a.cfg.Selection.SelectionOptions
	switch {
	case len(files) > 0:
		return a.engine.SelectTestsForChangedFiles(ctx, files, opts)
	case uncommitted:
		return a.engine.SelectTests(ctx, opts)
	default:
		return a.engine.SelectTestsForGitChanges(ctx, a.cfg.Selection.SinceRef, opts)
	}
}

func (a *app) format() (formatter.Format, error) {
	return formatter.ParseFormat(a.cfg.Output)
}

// execute runs tests under a guard built from the timeout configuration.
// stream, when set, receives live test output.
func (a *app) execute(ctx context.Context, tests []string, stream io.Writer) (runner.RunReport, error) {
	profile, err := a.cfg.Profile()
	if err != nil {
		return runner.RunReport{}, err
	}
	g, err := guard.New(profile, a.cfg.Timeouts.TimeoutConfiguration,
		guard.WithLogger(a.log),
		guard.WithRecorder(telemetry.Default()),
	)
	if err != nil {
		return runner.RunReport{}, err
	}
	r, err := runner.New(g, runner.Options{
		Command:         a.cfg.Runner.Command,
		Dir:             a.root,
		Parallelism:     a.cfg.Runner.Parallelism,
		OutputTailLines: a.cfg.Runner.OutputTailLines,
		Output:          stream,
		Timeout:         a.cfg.Timeouts.DefaultTimeout,
	}, a.log)
	if err != nil {
		return runner.RunReport{}, err
	}
	return r.Run(ctx, tests), nil
}

// history returns the run history store. Relative history dirs live under
// the repository root.
func (a *app) history() *storage.FileStorage {
	dir := a.cfg.History.Dir
	if dir == "" {
		dir = storage.DefaultBaseDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(a.root, dir)
	}
	return storage.NewFileStorage(storage.WithBaseDir(dir))
}

// save records report in history when enabled. Failing to save is logged,
// not fatal.
func (a *app) save(report *runner.RunReport) {
	if !a.cfg.History.Enabled {
		return
	}
	path, err := a.history().SaveReport(report)
	if err != nil {
		a.log.WithError(err).Warn("could not save run report")
		return
	}
	a.log.WithField("path", path).Debug("saved run report")
}
