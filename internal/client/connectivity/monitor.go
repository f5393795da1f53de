// Package connectivity tracks whether the result server is reachable.
package connectivity

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/okian/speedsync/pkg/logger"
	"github.com/okian/speedsync/pkg/metrics"
)

const defaultProbeInterval = 5 * time.Second

// Prober checks the server once. A nil error means online.
type Prober interface {
	Ping(ctx context.Context) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock driving the probe ticker.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithInterval sets the time between probes.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeTimeout bounds a single probe. Defaults to the interval.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// Monitor holds the online/offline state. It starts offline.
type Monitor struct {
	prober       Prober
	clock        clockwork.Clock
	interval     time.Duration
	probeTimeout time.Duration
	log          logger.Logger

	online      atomic.Bool
	transitions chan struct{}
}

// New returns an offline Monitor using prober. prober may be nil when the
// state is only ever driven by Set.
func New(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:      prober,
		clock:       clockwork.NewRealClock(),
		interval:    defaultProbeInterval,
		log:         logger.Nop(),
		transitions: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.probeTimeout == 0 {
		m.probeTimeout = m.interval
	}
	metrics.UpdateConnectivity(false)
	return m
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Transitions receives a value for every offline to online change. Changes
// that happen while a value is still unread are coalesced into it.
func (m *Monitor) Transitions() <-chan struct{} {
	return m.transitions
}

// Set forces the state.
func (m *Monitor) Set(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	metrics.UpdateConnectivity(online)
	metrics.RecordConnectivityTransition(online)
	if !online {
		m.log.Info(context.Background(), "connectivity lost")
		return
	}
	m.log.Info(context.Background(), "connectivity restored")
	select {
	case m.transitions <- struct{}{}:
	default:
	}
}

// Probe checks the server once and updates the state.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	err := m.prober.Ping(pctx)
	if err != nil && ctx.Err() != nil {
		// shutting down, not a connectivity change
		return m.Online()
	}
	if err != nil {
		m.log.Debug(ctx, "probe failed", logger.Error(err))
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Probe(ctx)
		}
	}
}
