package guard

import (
	"context"
	"time"
)

// monitors are the watchdogs racing a unit besides its token.
type monitors struct {
	heartbeat <-chan struct{}
	process   <-chan time.Time

	cancel       context.CancelFunc
	processTimer *time.Timer
}

// startMonitors arms heartbeat monitoring (when heartbeats is set and an
// interval is configured) and the process-timeout backstop.
func startMonitors(run *runState, heartbeats bool) *monitors {
	ctx, cancel := context.WithCancel(context.Background())
	m := &monitors{cancel: cancel}

	if heartbeats && run.cfg.HeartbeatInterval > 0 {
		failed := make(chan struct{})
		m.heartbeat = failed
		go runHeartbeatMonitor(ctx, run, run.cfg.HeartbeatInterval, run.cfg.MaxHeartbeatFailures, failed)
	}
	if run.cfg.ProcessTimeout > 0 {
		m.processTimer = time.NewTimer(run.cfg.ProcessTimeout)
		m.process = m.processTimer.C
	}
	return m
}

func (m *monitors) stop() {
	m.cancel()
	if m.processTimer != nil {
		m.processTimer.Stop()
	}
}

// runHeartbeatMonitor closes failed after maxFailures consecutive ticks on
// which no beat arrived within twice the interval. A healthy tick resets
// the count. Ticks before the unit's first beat are healthy.
func runHeartbeatMonitor(ctx context.Context, run *runState, interval time.Duration, maxFailures int, failed chan<- struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	grace := 2 * interval
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if run.healthy(grace) {
				failures = 0
				continue
			}
			failures++
			run.core.logger(run).WithField("failures", failures).Debug("heartbeat missed")
			if failures >= maxFailures {
				close(failed)
				return
			}
		}
	}
}
