// Package telemetry owns the OpenTelemetry instruments used by selection and
// the execution guard. Instruments come from the global MeterProvider unless
// one is supplied, so nothing is exported until the embedding program
// installs a provider.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope for all safetest instruments.
const ScopeName = "github.com/boshu2/safetest"

// Instrument names.
const (
	SelectionDecisions = "safetest.selection.decisions"
	GuardOutcomes      = "safetest.guard.outcomes"
	GuardDuration      = "safetest.guard.duration"
)

// Recorder records selection decisions and guard outcomes.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	decisions metric.Int64Counter
	outcomes  metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewRecorder creates the instruments on mp, or on the global provider when mp is nil.
func NewRecorder(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(ScopeName)

	decisions, err := meter.Int64Counter(SelectionDecisions,
		metric.WithDescription("Test selection decisions by strategy"))
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter(GuardOutcomes,
		metric.WithDescription("Terminal outcomes of guarded test runs"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(GuardDuration,
		metric.WithDescription("Wall time of guarded test runs"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Recorder{decisions: decisions, outcomes: outcomes, duration: duration}, nil
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns a recorder bound to the global MeterProvider. It returns nil
// (a no-op recorder) if the instruments cannot be created.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder, _ = NewRecorder(nil)
	})
	return defaultRecorder
}

// RecordSelection counts one selection decision.
func (r *Recorder) RecordSelection(ctx context.Context, smart bool, degraded bool) {
	if r == nil {
		return
	}
	r.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("smart", smart),
		attribute.Bool("degraded", degraded),
	))
}

// RecordOutcome counts one guarded run and its duration.
func (r *Recorder) RecordOutcome(ctx context.Context, profile, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("outcome", outcome),
	)
	r.outcomes.Add(ctx, 1, attrs)
	r.duration.Record(ctx, d.Seconds(), attrs)
}
