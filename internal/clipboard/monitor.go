package clipboard

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// defaultPollInterval is how often the monitor samples the clipboard.
const defaultPollInterval = 200 * time.Millisecond

// Monitor polls the clipboard and fires a no-argument notification whenever
// the plain-text value changes, including changes caused by the engine
// itself. Echo suppression is the engine's job, not the monitor's.
type Monitor struct {
	clipboard Clipboard
	notify    func()
	log       zerolog.Logger
	clock     clockwork.Clock
	interval  time.Duration

	last string
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock overrides the polling clock.
func WithMonitorClock(clock clockwork.Clock) MonitorOption {
	return func(m *Monitor) {
		m.clock = clock
	}
}

// WithPollInterval overrides the polling interval.
func WithPollInterval(interval time.Duration) MonitorOption {
	return func(m *Monitor) {
		m.interval = interval
	}
}

// NewMonitor creates a monitor that calls notify on every detected change.
func NewMonitor(clipboard Clipboard, notify func(), log zerolog.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		clipboard: clipboard,
		notify:    notify,
		log:       log,
		clock:     clockwork.NewRealClock(),
		interval:  defaultPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run polls until ctx is cancelled. It runs on its own goroutine since the
// engine must never block on clipboard sampling.
func (m *Monitor) Run(ctx context.Context) error {
	if content, err := m.clipboard.Read(); err == nil {
		m.last = content.Plain
	}

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			content, err := m.clipboard.Read()
			if err != nil {
				m.log.Debug().Err(err).Msg("clipboard read failed")
				continue
			}
			if content.Plain == m.last {
				continue
			}
			m.last = content.Plain
			m.notify()
		}
	}
}
