// Package syncer drains the mutation queue against the backend. One
// pass runs at a time; triggers are a periodic timer, the online edge
// and explicit force requests, and every trigger is a no-op while a
// pass is already in flight or the device is offline.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"azbuka/internal/domain"
	"azbuka/internal/events"
	"azbuka/internal/metrics"
	"azbuka/internal/models"
	"azbuka/internal/netmon"
	"azbuka/internal/queue"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config bounds pass scheduling and fan-out.
type Config struct {
	Interval        time.Duration
	DispatchTimeout time.Duration
	Concurrency     int
	RateRPS         float64
	RateBurst       int
}

type Syncer struct {
	queue      *queue.Queue
	dispatcher domain.Dispatcher
	monitor    *netmon.Monitor
	bus        *events.EventBus
	store      domain.Store
	config     Config
	logger     *zerolog.Logger
	limiter    *rate.Limiter

	syncing atomic.Bool
	kick    chan struct{}

	mu       sync.Mutex
	lastSync *time.Time

	now func() time.Time
}

func New(q *queue.Queue, dispatcher domain.Dispatcher, monitor *netmon.Monitor, bus *events.EventBus, store domain.Store, cfg Config, logger *zerolog.Logger) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = models.DefaultSyncInterval
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = models.DefaultDispatchTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = models.DefaultDispatchConcurrency
	}

	s := &Syncer{
		queue:      q,
		dispatcher: dispatcher,
		monitor:    monitor,
		bus:        bus,
		store:      store,
		config:     cfg,
		logger:     logger,
		kick:       make(chan struct{}, 1),
		now:        time.Now,
	}

	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = cfg.Concurrency
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), burst)
	}

	s.loadLastSync()
	return s
}

// Start runs the trigger loop until ctx is done. The online edge and
// Kick share one coalescing slot, so a burst of triggers produces at
// most one queued pass.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.config.Interval).Msg("Sync orchestrator started")

	unsubscribe := s.monitor.Subscribe(func(online bool) {
		if online {
			s.Kick()
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sync orchestrator stopped")
			return
		case <-ticker.C:
			s.trySync(ctx, "timer")
		case <-s.kick:
			s.trySync(ctx, "kick")
		}
	}
}

// Kick requests an immediate pass without waiting for the timer.
// Kicks arriving while one is already pending collapse into it.
func (s *Syncer) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// ForceSync runs a pass right now and reports whether everything
// pending was delivered: true for an empty queue or a pass with no
// failures, false when offline, already syncing, aborted or dirty.
func (s *Syncer) ForceSync(ctx context.Context) bool {
	report, ran := s.trySync(ctx, "forced")
	return ran && report.Clean()
}

// Status assembles the point-in-time view callers poll.
func (s *Syncer) Status(ctx context.Context) (models.SyncStatus, error) {
	qs, err := s.queue.Status(ctx)
	if err != nil {
		return models.SyncStatus{}, err
	}

	state := models.SyncStateIdle
	if s.syncing.Load() {
		state = models.SyncStateSyncing
	}

	return models.SyncStatus{
		State:        state,
		Online:       s.monitor.Online(),
		Pending:      qs.Pending,
		Exhausted:    qs.Exhausted,
		LastSyncTime: s.lastSyncTime(),
	}, nil
}

// trySync is the single gate in front of runPass. The swap on syncing
// is what makes concurrent triggers no-ops.
func (s *Syncer) trySync(ctx context.Context, trigger string) (models.SyncReport, bool) {
	if !s.monitor.Online() {
		s.logger.Debug().Str("trigger", trigger).Msg("Skipping sync while offline")
		return models.SyncReport{}, false
	}
	if !s.syncing.CompareAndSwap(false, true) {
		s.logger.Debug().Str("trigger", trigger).Msg("Sync already in flight")
		return models.SyncReport{}, false
	}
	defer s.syncing.Store(false)

	start := s.now()
	report, err := s.runPass(ctx, trigger)
	if err != nil {
		s.logger.Error().Err(err).Str("trigger", trigger).Msg("Sync pass aborted")
		metrics.ObserveSyncPass("aborted", s.now().Sub(start).Seconds())
		return models.SyncReport{}, false
	}
	return report, true
}

func (s *Syncer) runPass(ctx context.Context, trigger string) (models.SyncReport, error) {
	start := s.now()

	items, err := s.queue.Snapshot(ctx)
	if err != nil {
		return models.SyncReport{}, fmt.Errorf("failed to snapshot queue: %w", err)
	}
	if len(items) == 0 {
		return models.SyncReport{}, nil
	}

	s.logger.Info().Str("trigger", trigger).Int("items", len(items)).Msg("Sync pass started")

	succeeded, failed, rejected := s.dispatchAll(ctx, items)

	result, err := s.queue.ApplyOutcomes(ctx, succeeded, failed, rejected)
	if err != nil {
		// уходим без фиксации: очередь в сторе остаётся истиной
		return models.SyncReport{}, fmt.Errorf("failed to commit sync outcomes: %w", err)
	}

	finished := s.now()
	report := models.SyncReport{
		Attempted:  len(items),
		Succeeded:  len(succeeded),
		Failed:     result.Retried,
		Exhausted:  result.Exhausted,
		Duration:   finished.Sub(start),
		FinishedAt: finished,
	}

	s.setLastSync(finished)
	if err := s.store.Set(ctx, models.LastSyncTimeKey, []byte(finished.Format(time.RFC3339Nano))); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist last sync time")
	}

	s.notify(report, result.ExhaustedItems)

	passResult := "clean"
	if !report.Clean() {
		passResult = "dirty"
	}
	metrics.ObserveSyncPass(passResult, report.Duration.Seconds())

	s.logger.Info().
		Str("trigger", trigger).
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("exhausted", report.Exhausted).
		Dur("duration", report.Duration).
		Msg("Sync pass finished")

	return report, nil
}

// dispatchAll fans the snapshot out to the backend and classifies every
// outcome. Item order in the slices follows the snapshot, not delivery
// order.
func (s *Syncer) dispatchAll(ctx context.Context, items []models.QueueItem) (succeeded []string, failed, rejected []queue.ItemError) {
	outcomes := make([]error, len(items))
	sem := make(chan struct{}, s.config.Concurrency)

	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int, item models.QueueItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					outcomes[i] = fmt.Errorf("rate limit wait: %w", err)
					return
				}
			}

			dispatchCtx, cancel := context.WithTimeout(ctx, s.config.DispatchTimeout)
			defer cancel()
			outcomes[i] = s.dispatcher.Dispatch(dispatchCtx, &item)
		}(i, items[i])
	}
	wg.Wait()

	for i, err := range outcomes {
		item := items[i]
		switch {
		case err == nil:
			metrics.IncDispatch("success")
			succeeded = append(succeeded, item.ID)
		case domain.IsPermanent(err):
			metrics.IncDispatch("permanent")
			s.logger.Warn().Err(err).Str("id", item.ID).Str("kind", item.Kind).Msg("Mutation rejected permanently")
			rejected = append(rejected, queue.ItemError{ID: item.ID, Err: err})
		default:
			metrics.IncDispatch("retry")
			s.logger.Warn().Err(err).Str("id", item.ID).Str("kind", item.Kind).Msg("Mutation delivery failed")
			failed = append(failed, queue.ItemError{ID: item.ID, Err: err})
		}
	}
	return succeeded, failed, rejected
}

func (s *Syncer) notify(report models.SyncReport, exhausted []models.QueueItem) {
	payload := events.SyncCompletedPayload{
		OK:         report.Clean(),
		Attempted:  report.Attempted,
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Exhausted:  report.Exhausted,
		DurationMS: report.Duration.Milliseconds(),
		FinishedAt: report.FinishedAt,
	}
	if err := s.bus.PublishJSON(events.EventSyncCompleted, payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish sync completion")
	}

	for _, item := range exhausted {
		reason := ""
		if item.LastError != nil {
			reason = *item.LastError
		}
		p := events.ItemExhaustedPayload{ItemID: item.ID, Kind: item.Kind, Reason: reason}
		if err := s.bus.PublishJSON(events.EventItemExhausted, p); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish exhaustion event")
		}
	}
}

func (s *Syncer) loadLastSync() {
	raw, err := s.store.Get(context.Background(), models.LastSyncTimeKey)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read last sync time")
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Persisted last sync time corrupt, ignoring")
		return
	}
	s.setLastSync(ts)
}

func (s *Syncer) setLastSync(t time.Time) {
	s.mu.Lock()
	s.lastSync = &t
	s.mu.Unlock()
}

func (s *Syncer) lastSyncTime() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSync == nil {
		return nil
	}
	t := *s.lastSync
	return &t
}
