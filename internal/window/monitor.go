package window

import (
	"sync"
	"time"
)

// DefaultPollInterval is the liveness poll cadence used when no interval is
// configured.
const DefaultPollInterval = 500 * time.Millisecond

// Monitor polls a window handle until it reports closed, then fires the
// closed callback exactly once and stops. Stop halts polling without firing;
// whichever of the two paths runs first wins, so a window closed through the
// normal protocol path never produces a second notification.
type Monitor struct {
	stop     chan struct{}
	stopOnce sync.Once
}

// Watch starts polling w every interval. onClosed is invoked at most once,
// from the monitor's goroutine, on the first poll that finds w closed.
func Watch(w Window, interval time.Duration, onClosed func()) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	m := &Monitor{stop: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		fired := false
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if !w.Closed() {
					continue
				}
				if !fired {
					fired = true
					onClosed()
				}
				return
			}
		}
	}()

	return m
}

// Stop halts polling. It is idempotent and safe to call after the monitor
// has already fired.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}
