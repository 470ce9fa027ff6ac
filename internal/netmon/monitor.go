// Package netmon turns connectivity signals into edge events. The host
// platform pushes its own signal through SetOnline; an optional prober
// fills the gap on platforms without one.
package netmon

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"azbuka/internal/domain"
	"azbuka/internal/events"
	"azbuka/internal/metrics"
	"azbuka/internal/models"

	"github.com/rs/zerolog"
)

// Config controls the polling fallback and the pre-first-signal state.
type Config struct {
	ProbeInterval time.Duration
	AssumeOnline  bool
}

type Monitor struct {
	prober domain.Prober
	bus    *events.EventBus
	logger *zerolog.Logger
	config Config
	online atomic.Bool
	now    func() time.Time
}

// New builds a monitor. A nil prober disables polling; the monitor then
// only reflects what SetOnline is told.
func New(prober domain.Prober, cfg Config, bus *events.EventBus, logger *zerolog.Logger) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = models.DefaultProbeInterval
	}

	m := &Monitor{
		prober: prober,
		bus:    bus,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}
	m.online.Store(cfg.AssumeOnline)
	return m
}

// Online answers the point-in-time connectivity question.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline records a connectivity signal. Repeating the current state
// is a no-op; only a real edge logs, counts and publishes.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	metrics.IncTransition(online)
	m.logger.Info().Bool("online", online).Msg("Connectivity changed")

	payload := events.ConnectivityPayload{Online: online, At: m.now()}
	if err := m.bus.PublishJSON(events.EventConnectivityChanged, payload); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to publish connectivity event")
	}
}

// Subscribe registers a callback for connectivity edges and returns its
// unsubscribe function.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	return m.bus.Subscribe(events.EventConnectivityChanged, func(event *events.Event) error {
		var payload events.ConnectivityPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		fn(payload.Online)
		return nil
	})
}

// Start polls the prober until ctx is done. Without a prober there is
// nothing to poll and Start returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	if m.prober == nil {
		m.logger.Info().Msg("No reachability prober configured, relying on pushed signals")
		return
	}

	m.logger.Info().Dur("interval", m.config.ProbeInterval).Msg("Network monitor started")

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeInterval)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	if err != nil && m.Online() {
		m.logger.Warn().Err(err).Msg("Reachability probe failed")
	}
	m.SetOnline(err == nil)
}
