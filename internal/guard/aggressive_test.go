package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/boshu2/safetest/internal/types"
)

func TestAggressiveTokenCapsTimeout(t *testing.T) {
	g := NewAggressive(quietConfig())

	tok := g.CreateTimeoutToken(context.Background(), 5*time.Minute)
	defer tok.Stop()
	assert.Equal(t, AggressiveTimeoutCap, tok.PrimaryTimeout())
	assert.Equal(t, 150*time.Second, tok.EscalationTimeout())

	short := g.CreateTimeoutToken(context.Background(), 10*time.Second)
	defer short.Stop()
	assert.Equal(t, 10*time.Second, short.PrimaryTimeout())
	assert.Equal(t, 5*time.Second, short.EscalationTimeout())
}

func TestAggressiveEscalationTierDoesNotCancel(t *testing.T) {
	g := NewAggressive(quietConfig())
	tok := g.CreateTimeoutToken(context.Background(), 80*time.Millisecond)
	defer tok.Stop()

	<-tok.Escalation()
	assert.True(t, tok.EscalationFired())
	assert.NoError(t, tok.Context().Err())

	<-tok.Done()
	assert.True(t, tok.PrimaryFired())
	assert.ErrorIs(t, tok.Cause(), ErrPrimaryTimeout)
}

func TestAggressiveKillsImmediatelyOnTimeout(t *testing.T) {
	killer := &fakeKiller{}
	g := NewAggressive(quietConfig(), WithProcessKiller(killer.kill))

	hang := hangingUnit(t)
	start := time.Now()
	res := g.MonitorExecution(context.Background(), "T1", func(ctx context.Context, handle Handle) error {
		handle.AttachProcess(selfProcess(t))
		return hang(ctx, handle)
	}, 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, types.OutcomeTimeout, res.Outcome)
	assert.True(t, res.IsTimeout)
	assert.True(t, res.IsForceCancelled)
	assert.Less(t, elapsed, 200*time.Millisecond, "no second wait stage")
	assert.Equal(t, 1, killer.calls())
	assertReleased(t, g)
}

func TestAggressiveExternalCancellationForces(t *testing.T) {
	killer := &fakeKiller{}
	g := NewAggressive(quietConfig(), WithProcessKiller(killer.kill))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	hang := hangingUnit(t)
	res := g.MonitorExecution(ctx, "T1", func(ctx context.Context, handle Handle) error {
		handle.AttachProcess(selfProcess(t))
		return hang(ctx, handle)
	}, time.Second)

	assert.Equal(t, types.OutcomeForceCancelled, res.Outcome)
	assert.Less(t, res.Duration, 200*time.Millisecond)
	assert.Equal(t, 1, killer.calls())
}

func TestAggressiveForceDisabledAbandonsRun(t *testing.T) {
	killer := &fakeKiller{}
	cfg := quietConfig()
	cfg.EnableForceCancellation = false
	g := NewAggressive(cfg, WithProcessKiller(killer.kill))

	hang := hangingUnit(t)
	res := g.MonitorExecution(context.Background(), "T1", func(ctx context.Context, handle Handle) error {
		handle.AttachProcess(selfProcess(t))
		return hang(ctx, handle)
	}, 50*time.Millisecond)

	assert.True(t, res.IsForceCancelled)
	assert.Contains(t, res.CancellationReason, "force cancellation disabled")
	assert.Zero(t, killer.calls())
	assertReleased(t, g)
}
