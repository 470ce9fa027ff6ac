package domain

import (
	"context"

	"azbuka/internal/models"
)

// Store is the durable key-value store underneath the cache and the
// sync queue. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dispatcher delivers a single queued mutation to the backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, item *models.QueueItem) error
}

// Prober reports whether the backend is currently reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// EventPublisher decouples components from the concrete event bus.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
