package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/boshu2/safetest/internal/types"
)

// AggressiveTimeoutCap is the largest primary timeout the aggressive
// profile will wait.
const AggressiveTimeoutCap = 30 * time.Second

// AggressiveGuard fails fast: timeouts are capped at AggressiveTimeoutCap
// and every stop is forceful as soon as it is decided. There is no heartbeat
// grace period and no second wait stage.
type AggressiveGuard struct {
	*core
}

var _ Guard = (*AggressiveGuard)(nil)

// NewAggressive returns a fail-fast guard.
func NewAggressive(cfg types.TimeoutConfiguration, opts ...Option) *AggressiveGuard {
	return &AggressiveGuard{core: newCore(types.ProfileAggressive, cfg, opts)}
}

func effectiveTimeout(configured time.Duration) time.Duration {
	if configured <= 0 || configured > AggressiveTimeoutCap {
		return AggressiveTimeoutCap
	}
	return configured
}

// CreateTimeoutToken arms the primary tier at min(timeout, 30s). The
// escalation tier is armed at half the configured timeout; it is reported
// through EscalationFired but never cancels the context.
func (g *AggressiveGuard) CreateTimeoutToken(ctx context.Context, timeout time.Duration) *Token {
	if timeout <= 0 {
		timeout = g.GetConfiguration().DefaultTimeout
	}
	return newToken(ctx, effectiveTimeout(timeout), timeout/2, false)
}

// MonitorExecution races the unit against the capped deadline, the process
// timeout, caller cancellation and ForceCancelTest. Whatever stops the unit
// is followed immediately by termination of its process tree.
func (g *AggressiveGuard) MonitorExecution(ctx context.Context, testID string, unit Unit, timeout time.Duration) (res types.TestExecutionResult) {
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
	mon := startMonitors(run, false)
	defer mon.stop()

	select {
	case r := <-run.done:
		return g.settle(ctx, run, r)

	case <-tok.Primary():
		if r, ok := run.finished(); ok {
			return g.settle(ctx, run, r)
		}
		return g.forceStop(run, types.OutcomeTimeout, fmt.Sprintf("timed out after %s", tok.PrimaryTimeout()), true)

	case <-ctx.Done():
		if r, ok := run.finished(); ok {
			return g.settle(ctx, run, r)
		}
		return g.forceStop(run, types.OutcomeForceCancelled, callerCancelReason(ctx), false)

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
