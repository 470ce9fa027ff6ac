package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"azbuka/internal/admin"
	"azbuka/internal/config"
	"azbuka/internal/events"
	"azbuka/internal/logging"
	"azbuka/internal/metrics"
	"azbuka/internal/offline"
	"azbuka/internal/remote"
	"azbuka/internal/storage"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации хранилища")
		return err
	}
	defer store.Close()

	// Клиент бэкенда выступает и доставщиком мутаций, и пробником сети
	remoteLogger := logger.With().Str("component", "remote").Logger()
	client := remote.NewClient(cfg.Remote, &remoteLogger)

	service := offline.New(store, client, client, cfg, &logger)
	unsubscribe := subscribeSyncEvents(service, &logger)
	defer unsubscribe()

	service.Start(ctx)
	defer service.Stop()

	if cfg.Admin.Enabled {
		adminServer := admin.NewServer(cfg.Admin, service, &logger)
		go func() {
			if err := adminServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Admin server error")
			}
		}()
		defer func() {
			_ = adminServer.Shutdown(context.Background())
		}()
	}

	if cfg.Backup.Enabled && cfg.Storage.Backend == "sqlite" {
		backupService := storage.NewBackupService(cfg.Storage.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	logger.Info().Msg("Агент запущен...")
	<-ctx.Done()

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "agent-main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if cfg.Storage.Backend == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
			return err
		}
	}
	if cfg.Backup.Enabled && cfg.Backup.StoragePath != "" {
		if err := os.MkdirAll(cfg.Backup.StoragePath, 0o755); err != nil {
			logger.Error().Err(err).Msg("Ошибка создания директории для бэкапов")
			return err
		}
	}
	return nil
}

// subscribeSyncEvents wires host-side observers: the mobile shell shows
// sync state and dead-letter warnings to the user, here we log them.
func subscribeSyncEvents(service *offline.Service, logger *zerolog.Logger) func() {
	unsubscribeConnectivity := service.SubscribeConnectivity(func(online bool) {
		logger.Info().Bool("online", online).Msg("Connectivity changed")
	})

	unsubscribeCompleted := service.SubscribeSyncCompleted(func(payload events.SyncCompletedPayload) {
		logger.Info().
			Bool("ok", payload.OK).
			Int("attempted", payload.Attempted).
			Int("succeeded", payload.Succeeded).
			Int("failed", payload.Failed).
			Int("exhausted", payload.Exhausted).
			Int64("duration_ms", payload.DurationMS).
			Msg("Sync pass completed")
	})

	unsubscribeExhausted := service.SubscribeItemExhausted(func(payload events.ItemExhaustedPayload) {
		logger.Warn().
			Str("item_id", payload.ItemID).
			Str("kind", payload.Kind).
			Str("reason", payload.Reason).
			Msg("Mutation moved to dead letter")
	})

	return func() {
		unsubscribeConnectivity()
		unsubscribeCompleted()
		unsubscribeExhausted()
	}
}
