package guard

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boshu2/safetest/internal/types"
)

type unitResult struct {
	err error
	at  time.Time
}

// runState is the per-run supervision state. It is also the Handle handed
// to the unit.
type runState struct {
	testID string
	runID  string
	start  time.Time
	cfg    types.TimeoutConfiguration
	token  *Token
	core   *core

	done     chan unitResult
	lastBeat atomic.Int64
	beating  atomic.Bool

	forceOnce   sync.Once
	forced      chan struct{}
	forceReason string
	forcedAt    time.Time
}

func newRunState(c *core, testID, runID string, cfg types.TimeoutConfiguration, tok *Token) *runState {
	now := time.Now()
	run := &runState{
		testID: testID,
		runID:  runID,
		start:  now,
		cfg:    cfg,
		token:  tok,
		core:   c,
		done:   make(chan unitResult, 1),
		forced: make(chan struct{}),
	}
	run.lastBeat.Store(now.UnixNano())
	return run
}

// Beat records liveness and opts the run into heartbeat monitoring.
func (r *runState) Beat() {
	r.lastBeat.Store(time.Now().UnixNano())
	r.beating.Store(true)
}

// healthy reports whether the run counts as live: it has not beaten yet,
// or its last beat is within grace.
func (r *runState) healthy(grace time.Duration) bool {
	return !r.beating.Load() || r.sinceBeat() <= grace
}

// AttachProcess registers the pid of the OS process backing this run. A
// process attached after the run was forced is killed straight away.
func (r *runState) AttachProcess(p *os.Process) {
	if p == nil {
		return
	}
	r.core.reg.attach(r.testID, p.Pid)
	select {
	case <-r.forced:
		if err := r.core.killAttached(r); err != nil {
			r.core.logger(r).WithError(err).Warn("kill of late-attached process failed")
		}
	default:
	}
}

func (r *runState) sinceBeat() time.Duration {
	return time.Since(time.Unix(0, r.lastBeat.Load()))
}

func (r *runState) elapsed() time.Duration {
	return time.Since(r.start)
}

// launch runs the unit on its own goroutine. A unit that ignores its
// context keeps running after the guard returns; its process, if attached,
// is what force cancellation reclaims.
func (r *runState) launch(unit Unit) {
	go func() {
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: %v", ErrUnitPanic, p)
			}
			r.done <- unitResult{err: err, at: time.Now()}
		}()
		err = unit(r.token.Context(), r)
	}()
}

// finished is a non-blocking check for unit completion. Completion always
// wins over a deadline observed at the same time.
func (r *runState) finished() (unitResult, bool) {
	select {
	case res := <-r.done:
		return res, true
	default:
		return unitResult{}, false
	}
}

// completed maps a unit's own return to a result.
func (r *runState) completed(res unitResult) types.TestExecutionResult {
	d := res.at.Sub(r.start)
	if res.err == nil {
		return types.Passed(r.testID, d)
	}
	return types.Failed(r.testID, d, res.err.Error())
}

// force marks the run forced and cancels the unit's context. Only the first
// call has any effect; it reports whether this call was the one.
func (r *runState) force(reason string) bool {
	first := false
	r.forceOnce.Do(func() {
		first = true
		r.forceReason = reason
		r.forcedAt = time.Now()
		r.token.Cancel(fmt.Errorf("%w: %s", ErrForceCancelled, reason))
		close(r.forced)
	})
	return first
}

// reason returns the force reason. Valid once forced is closed.
func (r *runState) reason() string {
	<-r.forced
	return r.forceReason
}
