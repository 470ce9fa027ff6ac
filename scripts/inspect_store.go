package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"azbuka/internal/cache"
	"azbuka/internal/domain"
	"azbuka/internal/models"
	"azbuka/internal/queue"
	"azbuka/internal/storage"

	"github.com/rs/zerolog"
)

// Пробежаться по стору с устройства и напечатать, что там лежит.
// Очередь и кэш не трогаем, только читаем.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		dbPath   = flag.String("db", "./data/azbuka.db", "path to sqlite store")
		showDead = flag.Bool("dead", false, "print dead-letter items")
	)
	flag.Parse()

	store, err := storage.NewSQLite(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	q := queue.New(store, queue.Config{}, &logger)
	status, err := q.Status(ctx)
	if err != nil {
		return fmt.Errorf("queue status: %w", err)
	}

	stats, err := cache.New(store, &logger).Stats(ctx)
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}

	lastSync := "never"
	raw, err := store.Get(ctx, models.LastSyncTimeKey)
	switch {
	case err == nil:
		lastSync = string(raw)
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("read last sync time: %w", err)
	}

	fmt.Printf("queue: pending=%d exhausted=%d oldest_age=%s\n", status.Pending, status.Exhausted, status.OldestAge)
	for priority, n := range status.ByPriority {
		fmt.Printf("  priority %s: %d\n", priority, n)
	}
	fmt.Printf("cache: entries=%d expired=%d bytes=%d\n", stats.Entries, stats.Expired, stats.Bytes)
	fmt.Printf("last sync: %s\n", lastSync)

	if *showDead {
		items, err := q.Exhausted(ctx)
		if err != nil {
			return fmt.Errorf("dead letter: %w", err)
		}
		for _, item := range items {
			reason := ""
			if item.LastError != nil {
				reason = *item.LastError
			}
			fmt.Printf("dead: id=%s kind=%s retries=%d reason=%q\n", item.ID, item.Kind, item.RetryCount, reason)
		}
	}

	return nil
}
