package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/boshu2/safetest/internal/types"
)

// fallbackGrace bounds the wait for cooperative shutdown after a caller
// cancellation when no escalation tier is armed.
const fallbackGrace = 10 * time.Second

// RobustGuard cancels cooperatively at the primary deadline and only
// force-terminates once the escalation deadline passes.
type RobustGuard struct {
	*core
}

var _ Guard = (*RobustGuard)(nil)

// NewRobust returns a cooperative-first guard.
func NewRobust(cfg types.TimeoutConfiguration, opts ...Option) *RobustGuard {
	return &RobustGuard{core: newCore(types.ProfileRobust, cfg, opts)}
}

// escalationFor returns the escalation delay for a primary timeout. It is
// always strictly greater than timeout: twice the timeout, or the configured
// escalation timeout when timeout is the configured default and the
// configured escalation is later.
func escalationFor(timeout time.Duration, cfg types.TimeoutConfiguration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	if timeout == cfg.DefaultTimeout && cfg.EscalationTimeout > 2*timeout {
		return cfg.EscalationTimeout
	}
	return 2 * timeout
}

// CreateTimeoutToken arms a primary tier at timeout and an escalation tier
// after it. Both tiers cancel the token's context.
func (g *RobustGuard) CreateTimeoutToken(ctx context.Context, timeout time.Duration) *Token {
	cfg := g.GetConfiguration()
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	return newToken(ctx, timeout, escalationFor(timeout, cfg), true)
}

// MonitorExecution races the unit against the primary deadline, heartbeat
// monitoring, the process timeout, caller cancellation and ForceCancelTest.
func (g *RobustGuard) MonitorExecution(ctx context.Context, testID string, unit Unit, timeout time.Duration) (res types.TestExecutionResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	if unit == nil {
		return g.rejected(testID, ErrNilUnit)
	}
	cfg := g.GetConfiguration()
	tok := g.CreateTimeoutToken(ctx, timeout)
	run, err := g.begin(testID, cfg, tok)
	if err != nil {
		tok.Stop()
		return g.rejected(testID, err)
	}
	defer func() { res = g.finish(run, res, recover()) }()

	run.launch(unit)
	mon := startMonitors(run, true)
	defer mon.stop()

	select {
	case r := <-run.done:
		return g.settle(ctx, run, r)

	case <-tok.Primary():
		if r, ok := run.finished(); ok {
			return g.settle(ctx, run, r)
		}
		return g.escalate(run, mon)

	case <-ctx.Done():
		if r, ok := run.finished(); ok {
			return g.settle(ctx, run, r)
		}
		return g.cancelled(ctx, run)

	case <-mon.heartbeat:
		if r, ok := run.finished(); ok {
			return g.settle(ctx, run, r)
		}
		return g.forceStop(run, types.OutcomeHeartbeatFailure, "heartbeat monitoring failure", false)

	case <-mon.process:
		if r, ok := run.finished(); ok {
			return g.settle(ctx, run, r)
		}
		reason := fmt.Sprintf("process timeout of %s elapsed", run.cfg.ProcessTimeout)
		return g.forceStop(run, types.OutcomeProcessTimeout, reason, false)

	case <-run.forced:
		if r, ok := run.finished(); ok {
			return g.settle(ctx, run, r)
		}
		return g.forcedResult(run, false)
	}
}

// escalate waits, after the cooperative signal, for the unit to stop before
// the escalation deadline, and force-terminates it otherwise.
func (g *RobustGuard) escalate(run *runState, mon *monitors) types.TestExecutionResult {
	tok := run.token
	g.logger(run).WithField("timeout", tok.PrimaryTimeout()).Info("primary timeout elapsed, cancellation requested")

	select {
	case <-run.done:
		reason := fmt.Sprintf("timed out after %s; stopped after cooperative cancellation", tok.PrimaryTimeout())
		return types.TimedOut(run.testID, run.elapsed(), types.OutcomeTimeout, reason, false)

	case <-tok.Escalation():
		if _, ok := run.finished(); ok {
			reason := fmt.Sprintf("timed out after %s; stopped after cooperative cancellation", tok.PrimaryTimeout())
			return types.TimedOut(run.testID, run.elapsed(), types.OutcomeTimeout, reason, false)
		}
		reason := fmt.Sprintf("timed out after %s; cooperative cancellation ignored until escalation deadline %s",
			tok.PrimaryTimeout(), tok.EscalationTimeout())
		return g.forceStop(run, types.OutcomeEscalated, reason, true)

	case <-mon.heartbeat:
		return g.forceStop(run, types.OutcomeHeartbeatFailure,
			fmt.Sprintf("timed out after %s; heartbeat monitoring failure", tok.PrimaryTimeout()), true)

	case <-mon.process:
		return g.forceStop(run, types.OutcomeProcessTimeout,
			fmt.Sprintf("timed out after %s; process timeout of %s elapsed", tok.PrimaryTimeout(), run.cfg.ProcessTimeout), true)

	case <-run.forced:
		return g.forcedResult(run, true)
	}
}

// cancelled handles caller cancellation. The unit already saw its context
// cancelled; it gets until the escalation deadline, bounded by the
// escalation window, to stop before it is force-terminated.
func (g *RobustGuard) cancelled(ctx context.Context, run *runState) types.TestExecutionResult {
	reason := callerCancelReason(ctx)
	g.logger(run).WithField("reason", reason).Info("caller cancelled run")

	timer := time.NewTimer(cancelGrace(run.token))
	defer timer.Stop()

	select {
	case <-run.done:
		return types.Cancelled(run.testID, run.elapsed(), reason)
	case <-timer.C:
		if _, ok := run.finished(); ok {
			return types.Cancelled(run.testID, run.elapsed(), reason)
		}
		return g.forceStop(run, types.OutcomeForceCancelled, reason+"; cooperative cancellation ignored", false)
	case <-run.forced:
		return g.forcedResult(run, false)
	}
}

func cancelGrace(tok *Token) time.Duration {
	window := tok.EscalationTimeout() - tok.PrimaryTimeout()
	if window <= 0 {
		return fallbackGrace
	}
	if untilEscalation := time.Until(tok.EscalationDeadline()); untilEscalation < window {
		window = untilEscalation
	}
	if window < 0 {
		return 0
	}
	return window
}
