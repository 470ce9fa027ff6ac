// Package queue is the ordered, durable list of offline mutations.
// The whole queue lives under one store key and every mutation is a
// read-modify-write of that document under an in-process mutex, so a
// crash can never leave half an update behind.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"azbuka/internal/domain"
	"azbuka/internal/metrics"
	"azbuka/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidKind     = errors.New("kind must be non-empty")
	ErrInvalidPriority = errors.New("unknown priority")
	ErrInvalidPayload  = errors.New("payload must be valid JSON")
)

// Config bounds the queue's retry and dead-letter behavior.
type Config struct {
	MaxRetries      int
	DeadLetterLimit int
}

// ItemError pairs a queue item with its dispatch failure.
type ItemError struct {
	ID  string
	Err error
}

// ApplyResult reports what one batched write did. ExhaustedItems carries
// the mutations that just moved to the dead letter so callers can notify.
type ApplyResult struct {
	Removed        int
	Retried        int
	Exhausted      int
	ExhaustedItems []models.QueueItem
}

// document is the persisted form. Items are kept as raw JSON so a
// single damaged element can be skipped without losing the rest.
type document struct {
	NextSeq    uint64            `json:"next_seq"`
	Items      []json.RawMessage `json:"items"`
	DeadLetter []json.RawMessage `json:"dead_letter"`
}

type state struct {
	nextSeq    uint64
	items      []models.QueueItem
	deadLetter []models.QueueItem
}

type Queue struct {
	store  domain.Store
	config Config
	logger *zerolog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

func New(store domain.Store, cfg Config, logger *zerolog.Logger) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = models.DefaultMaxRetries
	}
	if cfg.DeadLetterLimit <= 0 {
		cfg.DeadLetterLimit = models.DefaultDeadLetterLimit
	}
	return &Queue{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue validates and persists a new mutation, returning the stored
// item. An empty priority defaults to medium.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload json.RawMessage, priority models.Priority) (*models.QueueItem, error) {
	if kind == "" {
		return nil, ErrInvalidKind
	}
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	item := models.QueueItem{
		ID:        uuid.NewString(),
		Seq:       st.nextSeq,
		Kind:      kind,
		Priority:  priority,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: q.now(),
	}
	st.nextSeq++
	st.items = append(st.items, item)

	if err := q.save(ctx, st); err != nil {
		return nil, err
	}

	metrics.IncEnqueued(kind, string(priority))
	q.logger.Debug().Str("id", item.ID).Str("kind", kind).Str("priority", string(priority)).Msg("Mutation enqueued")
	return &item, nil
}

// Snapshot returns the pending items in dispatch order: priority weight
// descending, enqueue order within a priority. The queue itself is not
// modified.
func (q *Queue) Snapshot(ctx context.Context) ([]models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	items := append([]models.QueueItem(nil), st.items...)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Before(&items[j])
	})
	return items, nil
}

// RemoveSucceeded drops delivered items in one write.
func (q *Queue) RemoveSucceeded(ctx context.Context, ids []string) (int, error) {
	res, err := q.ApplyOutcomes(ctx, ids, nil, nil)
	return res.Removed, err
}

// IncrementRetry charges one failed attempt to each item; items that
// reach the retry limit move to the dead letter.
func (q *Queue) IncrementRetry(ctx context.Context, failures []ItemError) (ApplyResult, error) {
	return q.ApplyOutcomes(ctx, nil, failures, nil)
}

// ApplyOutcomes commits the results of one sync pass as a single
// durable write: succeeded items are removed, failed items are charged
// a retry, rejected items are exhausted immediately.
func (q *Queue) ApplyOutcomes(ctx context.Context, succeeded []string, failed, rejected []ItemError) (ApplyResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res ApplyResult

	st, err := q.load(ctx)
	if err != nil {
		return res, err
	}

	drop := make(map[string]bool, len(succeeded))
	for _, id := range succeeded {
		drop[id] = true
	}
	retry := make(map[string]error, len(failed))
	for _, f := range failed {
		retry[f.ID] = f.Err
	}
	kill := make(map[string]error, len(rejected))
	for _, r := range rejected {
		kill[r.ID] = r.Err
	}

	kept := st.items[:0]
	for _, item := range st.items {
		switch {
		case drop[item.ID]:
			res.Removed++
		case kill[item.ID] != nil:
			res.ExhaustedItems = append(res.ExhaustedItems, q.exhaust(st, item, item.RetryCount+1, kill[item.ID]))
			res.Exhausted++
		case retry[item.ID] != nil:
			cause := retry[item.ID]
			newCount := item.RetryCount + 1
			if newCount >= q.config.MaxRetries {
				res.ExhaustedItems = append(res.ExhaustedItems, q.exhaust(st, item, newCount, cause))
				res.Exhausted++
				continue
			}
			msg := cause.Error()
			item.RetryCount = newCount
			item.LastError = &msg
			kept = append(kept, item)
			res.Retried++
		default:
			kept = append(kept, item)
		}
	}
	st.items = kept

	if err := q.save(ctx, st); err != nil {
		return ApplyResult{}, err
	}
	return res, nil
}

// Status reports queue depth without mutating anything.
func (q *Queue) Status(ctx context.Context) (models.QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load(ctx)
	if err != nil {
		return models.QueueStatus{}, err
	}

	status := models.QueueStatus{
		Pending:    len(st.items),
		Exhausted:  len(st.deadLetter),
		ByPriority: make(map[models.Priority]int),
	}
	now := q.now()
	for _, item := range st.items {
		status.ByPriority[item.Priority]++
		if age := now.Sub(item.CreatedAt); age > status.OldestAge {
			status.OldestAge = age
		}
	}
	return status, nil
}

// Exhausted lists dead-letter items, oldest first.
func (q *Queue) Exhausted(ctx context.Context) ([]models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	return append([]models.QueueItem(nil), st.deadLetter...), nil
}

// RequeueExhausted moves every dead-letter item back into the active
// queue with a fresh retry budget and a new seq.
func (q *Queue) RequeueExhausted(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load(ctx)
	if err != nil {
		return 0, err
	}

	moved := len(st.deadLetter)
	for _, item := range st.deadLetter {
		item.Seq = st.nextSeq
		st.nextSeq++
		item.RetryCount = 0
		st.items = append(st.items, item)
	}
	st.deadLetter = nil

	if err := q.save(ctx, st); err != nil {
		return 0, err
	}

	if moved > 0 {
		q.logger.Info().Int("count", moved).Msg("Exhausted items requeued")
	}
	return moved, nil
}

// Clear empties the active queue. Dead-letter items stay for later
// inspection or requeue.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load(ctx)
	if err != nil {
		return 0, err
	}

	removed := len(st.items)
	st.items = nil

	if err := q.save(ctx, st); err != nil {
		return 0, err
	}

	if removed > 0 {
		q.logger.Info().Int("count", removed).Msg("Queue cleared")
	}
	return removed, nil
}

func (q *Queue) exhaust(st *state, item models.QueueItem, attempts int, cause error) models.QueueItem {
	msg := cause.Error()
	item.RetryCount = attempts
	item.LastError = &msg
	st.deadLetter = append(st.deadLetter, item)

	// oldest dead-letter entries give way once the cap is hit
	if over := len(st.deadLetter) - q.config.DeadLetterLimit; over > 0 {
		st.deadLetter = append([]models.QueueItem(nil), st.deadLetter[over:]...)
	}

	q.logger.Warn().Str("id", item.ID).Str("kind", item.Kind).Int("attempts", attempts).Str("error", msg).Msg("Mutation exhausted, moved to dead letter")
	return item
}

// load reads and decodes the queue document. A missing document is an
// empty queue; a corrupt document or item is dropped rather than
// propagated, so persistence damage never takes the host down.
func (q *Queue) load(ctx context.Context) (*state, error) {
	st := &state{nextSeq: 1}

	raw, err := q.store.Get(ctx, models.QueueKey)
	if errors.Is(err, domain.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue document: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		q.logger.Error().Err(err).Msg("Queue document corrupt, starting empty")
		return st, nil
	}

	if doc.NextSeq > 0 {
		st.nextSeq = doc.NextSeq
	}
	st.items = q.decodeItems(doc.Items, "queue")
	st.deadLetter = q.decodeItems(doc.DeadLetter, "dead letter")

	// self-heal the counter if older writers raced it
	for _, item := range st.items {
		if item.Seq >= st.nextSeq {
			st.nextSeq = item.Seq + 1
		}
	}
	for _, item := range st.deadLetter {
		if item.Seq >= st.nextSeq {
			st.nextSeq = item.Seq + 1
		}
	}
	return st, nil
}

func (q *Queue) decodeItems(raws []json.RawMessage, section string) []models.QueueItem {
	items := make([]models.QueueItem, 0, len(raws))
	for _, raw := range raws {
		var item models.QueueItem
		if err := json.Unmarshal(raw, &item); err != nil || item.ID == "" {
			q.logger.Warn().Err(err).Str("section", section).Msg("Dropping corrupt queue item")
			continue
		}
		items = append(items, item)
	}
	return items
}

// save writes the whole document in one durable Set.
func (q *Queue) save(ctx context.Context, st *state) error {
	doc := document{
		NextSeq:    st.nextSeq,
		Items:      make([]json.RawMessage, 0, len(st.items)),
		DeadLetter: make([]json.RawMessage, 0, len(st.deadLetter)),
	}
	for _, item := range st.items {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal queue item %s: %w", item.ID, err)
		}
		doc.Items = append(doc.Items, raw)
	}
	for _, item := range st.deadLetter {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal dead-letter item %s: %w", item.ID, err)
		}
		doc.DeadLetter = append(doc.DeadLetter, raw)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal queue document: %w", err)
	}
	if err := q.store.Set(ctx, models.QueueKey, raw); err != nil {
		return fmt.Errorf("failed to write queue document: %w", err)
	}

	metrics.SetQueueDepth(len(st.items), len(st.deadLetter))
	return nil
}
