package models

import (
	"fmt"
	"time"
)

const (
	KindActivityResult = "activity_result"
	KindProgressUpdate = "progress_update"
	KindProfileUpdate  = "profile_update"
	KindSettingsUpdate = "settings_update"
)

// Key layout of the durable store. The version segment allows a future
// format migration by prefix scan.
const (
	CacheKeyPrefix  = "cache.v1."
	QueueKey        = "sync.v1.queue"
	LastSyncTimeKey = "sync.v1.lastSyncTime"
)

// CacheKey builds the durable-store key for a namespaced cache entry.
func CacheKey(namespace, key string) string {
	return fmt.Sprintf("%s%s.%s", CacheKeyPrefix, namespace, key)
}

const (
	// DefaultMaxRetries попыток доставки на элемент, дальше dead letter
	DefaultMaxRetries = 3

	// DefaultSyncInterval период фоновой синхронизации
	DefaultSyncInterval = 30 * time.Second

	// DefaultDispatchTimeout таймаут одного сетевого вызова
	DefaultDispatchTimeout = 10 * time.Second

	// DefaultProbeInterval период проверки доступности сети
	DefaultProbeInterval = 15 * time.Second

	// DefaultDeadLetterLimit сколько исчерпанных элементов храним
	DefaultDeadLetterLimit = 100

	// DefaultDispatchConcurrency параллельных отправок за один проход
	DefaultDispatchConcurrency = 4

	// DefaultCacheSweepInterval период фоновой чистки кэша
	DefaultCacheSweepInterval = 10 * time.Minute
)
