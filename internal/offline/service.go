// Package offline assembles the client data layer: durable store, TTL
// cache, mutation queue, connectivity monitor and sync orchestrator,
// behind one facade the host application owns the lifecycle of.
package offline

import (
	"context"
	"encoding/json"
	"sync"

	"azbuka/internal/cache"
	"azbuka/internal/config"
	"azbuka/internal/domain"
	"azbuka/internal/events"
	"azbuka/internal/models"
	"azbuka/internal/netmon"
	"azbuka/internal/queue"
	"azbuka/internal/syncer"

	"github.com/rs/zerolog"
)

type Service struct {
	store   domain.Store
	bus     *events.EventBus
	cache   *cache.Cache
	queue   *queue.Queue
	monitor *netmon.Monitor
	syncer  *syncer.Syncer
	config  *config.Config
	logger  *zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the components together. Nothing runs until Start.
func New(store domain.Store, dispatcher domain.Dispatcher, prober domain.Prober, cfg *config.Config, logger *zerolog.Logger) *Service {
	bus := events.NewEventBus()

	cacheLogger := logger.With().Str("component", "cache").Logger()
	queueLogger := logger.With().Str("component", "queue").Logger()
	netLogger := logger.With().Str("component", "netmon").Logger()
	syncLogger := logger.With().Str("component", "syncer").Logger()

	c := cache.New(store, &cacheLogger)
	q := queue.New(store, queue.Config{
		MaxRetries:      cfg.Sync.MaxRetries,
		DeadLetterLimit: cfg.Sync.DeadLetterLimit,
	}, &queueLogger)
	monitor := netmon.New(prober, netmon.Config{
		ProbeInterval: cfg.Network.ProbeInterval.Duration,
		AssumeOnline:  !cfg.Network.AssumeOffline,
	}, bus, &netLogger)
	s := syncer.New(q, dispatcher, monitor, bus, store, syncer.Config{
		Interval:        cfg.Sync.Interval.Duration,
		DispatchTimeout: cfg.Sync.DispatchTimeout.Duration,
		Concurrency:     cfg.Sync.Concurrency,
		RateRPS:         cfg.Sync.RateRPS,
		RateBurst:       cfg.Sync.RateBurst,
	}, &syncLogger)

	return &Service{
		store:   store,
		bus:     bus,
		cache:   c,
		queue:   q,
		monitor: monitor,
		syncer:  s,
		config:  cfg,
		logger:  logger,
	}
}

// Start spawns the background loops and returns. A queue left over from
// the previous run gets an immediate attempt instead of waiting out the
// first timer tick.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.Start(runCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.syncer.Start(runCtx)
	}()

	if interval := s.config.Cache.SweepInterval.Duration; interval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cache.StartSweeper(runCtx, interval)
		}()
	}

	if s.monitor.Online() {
		s.syncer.Kick()
	}

	s.logger.Info().Msg("Offline data layer started")
}

// Stop cancels the background loops and waits for them to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("Offline data layer stopped")
}

// Cache exposes the read cache for direct get/set/invalidate use.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// EnqueueMutation persists a mutation for later delivery and returns
// its id.
func (s *Service) EnqueueMutation(ctx context.Context, kind string, payload json.RawMessage, priority models.Priority) (string, error) {
	item, err := s.queue.Enqueue(ctx, kind, payload, priority)
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

// ForceSync runs a pass right now; true means everything pending got
// delivered.
func (s *Service) ForceSync(ctx context.Context) bool {
	return s.syncer.ForceSync(ctx)
}

// SyncStatus reports the orchestrator state and queue depth.
func (s *Service) SyncStatus(ctx context.Context) (models.SyncStatus, error) {
	return s.syncer.Status(ctx)
}

// CacheStats scans the cache namespace for diagnostics.
func (s *Service) CacheStats(ctx context.Context) (models.CacheStats, error) {
	return s.cache.Stats(ctx)
}

// Online answers the point-in-time connectivity question.
func (s *Service) Online() bool {
	return s.monitor.Online()
}

// SetOnline feeds a host platform connectivity signal in.
func (s *Service) SetOnline(online bool) {
	s.monitor.SetOnline(online)
}

// SubscribeConnectivity registers a callback for online/offline edges.
func (s *Service) SubscribeConnectivity(fn func(online bool)) func() {
	return s.monitor.Subscribe(fn)
}

// SubscribeSyncCompleted registers a callback for finished passes.
func (s *Service) SubscribeSyncCompleted(fn func(events.SyncCompletedPayload)) func() {
	return s.bus.Subscribe(events.EventSyncCompleted, func(event *events.Event) error {
		var payload events.SyncCompletedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		fn(payload)
		return nil
	})
}

// SubscribeItemExhausted registers a callback for mutations dropped to
// the dead letter, so the host can surface them to the user.
func (s *Service) SubscribeItemExhausted(fn func(events.ItemExhaustedPayload)) func() {
	return s.bus.Subscribe(events.EventItemExhausted, func(event *events.Event) error {
		var payload events.ItemExhaustedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		fn(payload)
		return nil
	})
}

// ExhaustedItems lists mutations that ran out of retries.
func (s *Service) ExhaustedItems(ctx context.Context) ([]models.QueueItem, error) {
	return s.queue.Exhausted(ctx)
}

// RequeueExhausted is the "retry failed items" user action. Moved items
// get an immediate sync attempt.
func (s *Service) RequeueExhausted(ctx context.Context) (int, error) {
	moved, err := s.queue.RequeueExhausted(ctx)
	if err == nil && moved > 0 {
		s.syncer.Kick()
	}
	return moved, err
}

// ClearQueue is the "discard pending work" user action.
func (s *Service) ClearQueue(ctx context.Context) (int, error) {
	return s.queue.Clear(ctx)
}

// Ping checks the durable store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
