package guard

import (
	"context"
	"sync/atomic"
	"time"
)

// Token is a two-tier cancellation handle linked to a caller context.
//
// Its context is cancelled when the caller context is done, when the primary
// tier fires, or when Cancel is called. Whether the escalation tier also
// cancels the context depends on the profile that created the token.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	primaryAfter    time.Duration
	escalationAfter time.Duration
	createdAt       time.Time

	primaryTimer    *time.Timer
	escalationTimer *time.Timer
	primaryCh       chan struct{}
	escalationCh    chan struct{}
	primaryFired    atomic.Bool
	escalationFired atomic.Bool
}

// newToken arms both tiers. A non-positive duration leaves that tier unarmed.
func newToken(parent context.Context, primary, escalation time.Duration, escalationCancels bool) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	t := &Token{
		ctx:             ctx,
		cancel:          cancel,
		primaryAfter:    primary,
		escalationAfter: escalation,
		createdAt:       time.Now(),
	}
	if primary > 0 {
		t.primaryCh = make(chan struct{})
		t.primaryTimer = time.AfterFunc(primary, func() {
			t.primaryFired.Store(true)
			close(t.primaryCh)
			cancel(ErrPrimaryTimeout)
		})
	}
	if escalation > 0 {
		t.escalationCh = make(chan struct{})
		t.escalationTimer = time.AfterFunc(escalation, func() {
			t.escalationFired.Store(true)
			close(t.escalationCh)
			if escalationCancels {
				cancel(ErrEscalationTimeout)
			}
		})
	}
	return t
}

// Context is the cooperative cancellation context handed to the unit.
func (t *Token) Context() context.Context { return t.ctx }

// Done is closed when the token's context is cancelled.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Cause reports why the token was cancelled, or nil.
func (t *Token) Cause() error { return context.Cause(t.ctx) }

// Cancel cancels the token cooperatively. Only the first cause is kept.
func (t *Token) Cancel(cause error) { t.cancel(cause) }

// PrimaryFired reports whether the primary tier has fired.
func (t *Token) PrimaryFired() bool { return t.primaryFired.Load() }

// EscalationFired reports whether the escalation tier has fired.
func (t *Token) EscalationFired() bool { return t.escalationFired.Load() }

// Primary is closed when the primary tier fires. Nil when unarmed.
func (t *Token) Primary() <-chan struct{} { return t.primaryCh }

// Escalation is closed when the escalation tier fires. Nil when unarmed.
func (t *Token) Escalation() <-chan struct{} { return t.escalationCh }

// PrimaryTimeout is the delay of the primary tier.
func (t *Token) PrimaryTimeout() time.Duration { return t.primaryAfter }

// EscalationTimeout is the delay of the escalation tier.
func (t *Token) EscalationTimeout() time.Duration { return t.escalationAfter }

// PrimaryDeadline is the wall-clock time of the primary tier, or the zero
// time when unarmed.
func (t *Token) PrimaryDeadline() time.Time {
	if t.primaryAfter <= 0 {
		return time.Time{}
	}
	return t.createdAt.Add(t.primaryAfter)
}

// EscalationDeadline is the wall-clock time of the escalation tier, or the
// zero time when unarmed.
func (t *Token) EscalationDeadline() time.Time {
	if t.escalationAfter <= 0 {
		return time.Time{}
	}
	return t.createdAt.Add(t.escalationAfter)
}

// Stop disarms both tiers and releases the context.
func (t *Token) Stop() {
	if t.primaryTimer != nil {
		t.primaryTimer.Stop()
	}
	if t.escalationTimer != nil {
		t.escalationTimer.Stop()
	}
	t.cancel(context.Canceled)
}
