// Package runner executes selected tests as OS processes, each one
// supervised by an execution guard.
package runner

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/boshu2/safetest/internal/guard"
	"github.com/boshu2/safetest/internal/proctree"
	"github.com/boshu2/safetest/internal/types"
	"github.com/boshu2/safetest/internal/worker"
)

// Placeholder is replaced by the test id in every word of the command.
const Placeholder = "{test}"

// DefaultCommand runs one Go package's tests verbosely, so that per-test
// output keeps heartbeats flowing.
const DefaultCommand = "go test -count=1 -v {test}"

// Options configure a Runner.
type Options struct {
	// Command is a shell-like template; words are split with shell quoting
	// rules. If no word contains Placeholder the test id is appended.
	Command string
	// Dir is the working directory of every test process.
	Dir string
	// Env, when non-nil, replaces the environment of test processes.
	Env []string
	// Parallelism bounds concurrent tests; <= 0 means the number of CPUs.
	Parallelism int
	// OutputTailLines is how many trailing output lines a failure keeps.
	OutputTailLines int
	// Output, when set, receives every output line prefixed with the test id.
	Output io.Writer
	// Timeout is the per-test primary timeout; <= 0 uses the guard default.
	Timeout time.Duration
}

// RunReport summarises one execution of a test selection.
type RunReport struct {
	ID             string                      `json:"id" yaml:"id"`
	Profile        types.Profile               `json:"profile" yaml:"profile"`
	StartedAt      time.Time                   `json:"started_at" yaml:"started_at"`
	Duration       time.Duration               `json:"duration" yaml:"duration"`
	Results        []types.TestExecutionResult `json:"results" yaml:"results"`
	Passed         int                         `json:"passed" yaml:"passed"`
	Failed         int                         `json:"failed" yaml:"failed"`
	TimedOut       int                         `json:"timed_out" yaml:"timed_out"`
	ForceCancelled int                         `json:"force_cancelled" yaml:"force_cancelled"`
	Cancelled      int                         `json:"cancelled" yaml:"cancelled"`
	GuardErrors    int                         `json:"guard_errors" yaml:"guard_errors"`
}

// OK reports whether every test passed.
func (r RunReport) OK() bool {
	return r.Passed == len(r.Results)
}

// Runner runs tests under a guard.
type Runner struct {
	guard guard.Guard
	opts  Options
	argv  []string
	log   logrus.FieldLogger
}

// New validates opts and returns a runner. A nil logger discards output.
func New(g guard.Guard, opts Options, log logrus.FieldLogger) (*Runner, error) {
	if g == nil {
		return nil, ErrNoGuard
	}
	if strings.TrimSpace(opts.Command) == "" {
		opts.Command = DefaultCommand
	}
	argv, err := shlex.Split(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("parse test command %q: %w", opts.Command, err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	if opts.Output != nil {
		opts.Output = &syncWriter{w: opts.Output}
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Runner{guard: g, opts: opts, argv: argv, log: log}, nil
}

// Argv expands the command template for testID.
func (r *Runner) Argv(testID string) []string {
	out := make([]string, 0, len(r.argv)+1)
	substituted := false
	for _, word := range r.argv {
		if strings.Contains(word, Placeholder) {
			substituted = true
			word = strings.ReplaceAll(word, Placeholder, testID)
		}
		out = append(out, word)
	}
	if !substituted {
		out = append(out, testID)
	}
	return out
}

// Unit returns the guarded unit that runs testID as a process in its own
// process group. Cancelling the unit's context sends SIGTERM to the group.
func (r *Runner) Unit(testID string) guard.Unit {
	return func(ctx context.Context, handle guard.Handle) error {
		argv := r.Argv(testID)
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = r.opts.Dir
		if r.opts.Env != nil {
			cmd.Env = r.opts.Env
		}
		proctree.Setpgid(cmd)
		proctree.TerminateOnCancel(cmd)

		out := newLineWriter(handle, r.opts.OutputTailLines, r.opts.Output, "["+testID+"] ")
		cmd.Stdout = out
		cmd.Stderr = out

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", argv[0], err)
		}
		handle.AttachProcess(cmd.Process)
		handle.Beat()

		err := cmd.Wait()
		out.flush()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", context.Cause(ctx), err)
		}
		if tail := out.Tail(); len(tail) > 0 {
			return fmt.Errorf("%s: %w\n%s", strings.Join(argv, " "), err, strings.Join(tail, "\n"))
		}
		return fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
	}
}

// Run executes tests with bounded parallelism and returns the report with
// results in input order. Cancelling ctx cancels running tests through
// their guards and skips tests not yet started.
func (r *Runner) Run(ctx context.Context, tests []string) RunReport {
	report := RunReport{
		ID:        uuid.NewString(),
		Profile:   r.guard.Profile(),
		StartedAt: time.Now(),
	}
	log := r.log.WithField("report", report.ID)
	log.WithFields(logrus.Fields{
		"tests":       len(tests),
		"parallelism": r.opts.Parallelism,
	}).Info("running tests")

	pool := worker.NewPool[string, types.TestExecutionResult](r.opts.Parallelism)
	results := pool.Process(ctx, tests, func(ctx context.Context, id string) (types.TestExecutionResult, error) {
		return r.guard.MonitorExecution(ctx, id, r.Unit(id), r.opts.Timeout), nil
	})

	report.Results = make([]types.TestExecutionResult, len(results))
	for i, res := range results {
		if res.Err != nil {
			report.Results[i] = types.Cancelled(tests[i], 0, fmt.Sprintf("not started: %v", res.Err))
			continue
		}
		report.Results[i] = res.Value
	}
	report.Duration = time.Since(report.StartedAt)
	report.tally()

	log.WithFields(logrus.Fields{
		"passed":   report.Passed,
		"failed":   report.Failed,
		"timeout":  report.TimedOut,
		"duration": report.Duration,
	}).Info("run complete")
	return report
}

func (r *RunReport) tally() {
	for _, res := range r.Results {
		switch {
		case res.IsSuccess:
			r.Passed++
		case res.Outcome == types.OutcomeCompleted:
			r.Failed++
		case res.Outcome == types.OutcomeCancelled:
			r.Cancelled++
		case res.Outcome == types.OutcomeGuardError:
			r.GuardErrors++
		}
		if res.IsTimeout {
			r.TimedOut++
		}
		if res.IsForceCancelled {
			r.ForceCancelled++
		}
	}
}
