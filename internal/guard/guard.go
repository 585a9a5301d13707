// Package guard bounds the execution of a single test unit.
//
// A Guard races the unit against a primary deadline, an escalation deadline,
// heartbeat liveness checks and a process-timeout backstop. Cancellation is
// always two-tier: the unit's context is cancelled first, and any attached OS
// process tree is killed second. Two profiles implement the same Guard
// interface: RobustGuard waits for cooperative shutdown before escalating,
// AggressiveGuard caps timeouts and kills immediately.
//
// MonitorExecution never returns an error; every outcome, including a unit
// panic or a guard fault, is encoded in the returned TestExecutionResult.
package guard

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/boshu2/safetest/internal/proctree"
	"github.com/boshu2/safetest/internal/telemetry"
	"github.com/boshu2/safetest/internal/types"
)

// Unit is one guarded piece of work. It should return when ctx is done and
// call handle.Beat while it makes progress.
type Unit func(ctx context.Context, handle Handle) error

// Handle is how a running unit reports back to its guard.
type Handle interface {
	// Beat records liveness. Heartbeat monitoring starts with the first
	// beat; a unit that never beats is only bounded by its deadlines.
	Beat()
	// AttachProcess registers the OS process backing the unit so force
	// cancellation can terminate it and its descendants. The guard keeps
	// the pid only; p stays owned by the caller.
	AttachProcess(p *os.Process)
}

// Guard supervises guarded test runs.
type Guard interface {
	// Profile names the implementation.
	Profile() types.Profile

	// CreateTimeoutToken returns a two-tier cancellation token linked to ctx.
	CreateTimeoutToken(ctx context.Context, timeout time.Duration) *Token

	// MonitorExecution runs unit under the guard and returns its terminal
	// result. A non-positive timeout means the configured default. Cancelling
	// ctx requests cancellation of the run.
	MonitorExecution(ctx context.Context, testID string, unit Unit, timeout time.Duration) types.TestExecutionResult

	// ForceCancelTest force-cancels an active run. It is a no-op for a test
	// that is not active, and safe to call repeatedly.
	ForceCancelTest(testID, reason string) error

	// GetConfiguration returns the active configuration.
	GetConfiguration() types.TimeoutConfiguration

	// UpdateConfiguration replaces the configuration for runs started later.
	UpdateConfiguration(cfg types.TimeoutConfiguration)

	// ActiveTests lists the test ids currently monitored.
	ActiveTests() []string

	// ActiveProcesses counts the processes currently attached.
	ActiveProcesses() int
}

// Option configures a guard.
type Option func(*core)

// WithLogger sets the logger. Nil keeps the discard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *core) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(c *core) { c.recorder = r }
}

// WithProcessKiller replaces the function used to kill an attached process
// tree. The default is proctree.Kill.
func WithProcessKiller(kill func(pid int) error) Option {
	return func(c *core) {
		if kill != nil {
			c.kill = kill
		}
	}
}

// New returns the guard implementation for profile.
func New(profile types.Profile, cfg types.TimeoutConfiguration, opts ...Option) (Guard, error) {
	switch profile {
	case types.ProfileRobust, "":
		return NewRobust(cfg, opts...), nil
	case types.ProfileAggressive:
		return NewAggressive(cfg, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownProfile, profile)
	}
}

// core is the state shared by both profiles.
type core struct {
	profile types.Profile

	cfgMu sync.RWMutex
	cfg   types.TimeoutConfiguration

	reg      *registry
	log      logrus.FieldLogger
	recorder *telemetry.Recorder
	kill     func(pid int) error
}

func newCore(profile types.Profile, cfg types.TimeoutConfiguration, opts []Option) *core {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	c := &core{
		profile: profile,
		cfg:     cfg.Normalized(),
		reg:     newRegistry(),
		log:     discard,
		kill:    proctree.Kill,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *core) Profile() types.Profile { return c.profile }

func (c *core) GetConfiguration() types.TimeoutConfiguration {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

func (c *core) UpdateConfiguration(cfg types.TimeoutConfiguration) {
	c.cfgMu.Lock()
	c.cfg = cfg.Normalized()
	c.cfgMu.Unlock()
	c.log.WithField("profile", c.profile).Debug("timeout configuration updated")
}

func (c *core) ActiveTests() []string { return c.reg.testIDs() }

func (c *core) ActiveProcesses() int { return c.reg.processCount() }

func (c *core) ForceCancelTest(testID, reason string) error {
	run := c.reg.lookup(testID)
	if run == nil {
		return nil
	}
	if reason == "" {
		reason = "force cancellation requested"
	}
	if !run.force(reason) {
		return nil
	}
	c.logger(run).WithField("reason", reason).Warn("force cancellation requested")
	return c.killAttached(run)
}

func (c *core) logger(run *runState) logrus.FieldLogger {
	return c.log.WithFields(logrus.Fields{
		"test":    run.testID,
		"run":     run.runID,
		"profile": c.profile,
	})
}

// begin registers a new run. The caller owns the token until begin succeeds.
func (c *core) begin(testID string, cfg types.TimeoutConfiguration, tok *Token) (*runState, error) {
	run := newRunState(c, testID, uuid.NewString(), cfg, tok)
	if !c.reg.add(run) {
		return nil, fmt.Errorf("%w: %s", ErrTestAlreadyActive, testID)
	}
	c.logger(run).WithField("timeout", tok.PrimaryTimeout()).Debug("monitoring started")
	return run, nil
}

// finish is the single exit path of a run: timers are released, the run is
// deregistered and any attached pid is dropped.
func (c *core) finish(run *runState, res types.TestExecutionResult, panicked any) types.TestExecutionResult {
	if panicked != nil {
		res = types.GuardFailure(run.testID, run.elapsed(), fmt.Sprintf("guard fault: %v", panicked))
		run.force("guard fault")
		if err := c.killAttached(run); err != nil {
			c.logger(run).WithError(err).Warn("process termination failed")
		}
	}
	run.token.Stop()
	c.reg.remove(run)
	c.reg.detach(run.testID)

	res.RunID = run.runID
	c.recorder.RecordOutcome(context.Background(), string(c.profile), string(res.Outcome), res.Duration)

	entry := c.logger(run).WithFields(logrus.Fields{
		"outcome":  res.Outcome,
		"duration": res.Duration,
	})
	switch {
	case res.IsSuccess:
		entry.Debug("test completed")
	case res.Outcome == types.OutcomeCompleted:
		entry.Info("test failed")
	default:
		entry.WithField("reason", res.CancellationReason).Warn("test did not complete")
	}
	return res
}

// rejected builds the result for a run that never started.
func (c *core) rejected(testID string, err error) types.TestExecutionResult {
	c.log.WithField("test", testID).WithError(err).Error("cannot monitor test")
	return types.GuardFailure(testID, 0, err.Error())
}

// killAttached terminates the process tree attached to run, when force
// cancellation is enabled for it.
func (c *core) killAttached(run *runState) error {
	if !run.cfg.EnableForceCancellation {
		return nil
	}
	pid, ok := c.reg.detach(run.testID)
	if !ok {
		return nil
	}
	if err := c.kill(pid); err != nil {
		return fmt.Errorf("terminate process %d for %s: %w", pid, run.testID, err)
	}
	return nil
}

// forceStop is the forceful tier. The duration is taken before any process
// is killed so it reflects the decision, not the cleanup.
func (c *core) forceStop(run *runState, outcome types.Outcome, reason string, timedOut bool) types.TestExecutionResult {
	d := run.elapsed()
	run.force(reason)
	if err := c.killAttached(run); err != nil {
		c.logger(run).WithError(err).Warn("process termination failed; run abandoned")
	}
	if !run.cfg.EnableForceCancellation {
		reason += " (force cancellation disabled, run abandoned)"
	}
	if timedOut {
		return types.TimedOut(run.testID, d, outcome, reason, true)
	}
	return types.ForceCancelled(run.testID, d, outcome, reason)
}

// settle classifies a unit that returned on its own. Success is always
// reported as success. An error returned after the guard or the caller
// cancelled the unit is reported as that cancellation, since the unit was
// only reacting to it. An error returned before the cancellation is the
// unit's own failure, even when the deadline fired before settle ran.
func (c *core) settle(ctx context.Context, run *runState, r unitResult) types.TestExecutionResult {
	if r.err == nil || run.token.Context().Err() == nil {
		return run.completed(r)
	}
	d := r.at.Sub(run.start)
	select {
	case <-run.forced:
		if r.at.Before(run.forcedAt) {
			return run.completed(r)
		}
		return types.ForceCancelled(run.testID, d, types.OutcomeForceCancelled, run.reason())
	default:
	}
	if run.token.PrimaryFired() {
		if r.at.Before(run.token.PrimaryDeadline()) {
			return run.completed(r)
		}
		reason := fmt.Sprintf("timed out after %s; stopped after cooperative cancellation", run.token.PrimaryTimeout())
		return types.TimedOut(run.testID, d, types.OutcomeTimeout, reason, false)
	}
	if ctx.Err() != nil {
		return types.Cancelled(run.testID, d, callerCancelReason(ctx))
	}
	return run.completed(r)
}

// forcedResult reports a run stopped through ForceCancelTest.
func (c *core) forcedResult(run *runState, timedOut bool) types.TestExecutionResult {
	d := run.elapsed()
	if timedOut {
		return types.TimedOut(run.testID, d, types.OutcomeForceCancelled, run.reason(), true)
	}
	return types.ForceCancelled(run.testID, d, types.OutcomeForceCancelled, run.reason())
}

func callerCancelReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	if cause == nil {
		return "cancelled by caller"
	}
	return fmt.Sprintf("cancelled by caller: %v", cause)
}
