package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"azbuka/internal/config"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const backupPrefix = "backup_"

// BackupService snapshots the sqlite store file on a schedule, so a
// device whose store gets corrupted can be restored without losing the
// pending queue. Redis and memory backends have nothing to snapshot.
type BackupService struct {
	dbPath   string
	config   config.BackupConfig
	interval time.Duration
	logger   *zerolog.Logger
}

func NewBackupService(dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	interval := 24 * time.Hour
	if cfg.Schedule != "" {
		if d, err := time.ParseDuration(cfg.Schedule); err == nil {
			interval = d
		} else {
			logger.Warn().Err(err).Str("schedule", cfg.Schedule).Msg("Unparseable backup schedule, keeping 24h")
		}
	}

	return &BackupService{
		dbPath:   dbPath,
		config:   cfg,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the snapshot loop until the context is canceled. The first
// snapshot happens right away: a device that only stays up briefly
// should still leave one behind.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Store backups disabled")
		return
	}

	s.logger.Info().
		Dur("interval", s.interval).
		Str("dir", s.config.StoragePath).
		Msg("Store backup loop started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.PerformBackup(); err != nil {
			s.logger.Error().Err(err).Msg("Store backup failed")
		}
		s.CleanupOldBackups()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PerformBackup writes a point-in-time copy of the store into the backup
// directory. VACUUM INTO gives a consistent snapshot while the agent
// keeps writing; if it is unavailable we fall back to a raw file copy.
func (s *BackupService) PerformBackup() error {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	target := filepath.Join(s.config.StoragePath, backupName(time.Now()))

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store for backup: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", target)); err != nil {
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, copying the store file instead")
		if err := s.copyStoreFile(target); err != nil {
			return err
		}
	}

	s.logger.Info().Str("path", target).Msg("Store backup written")
	return nil
}

func backupName(now time.Time) string {
	return fmt.Sprintf("%s%s.db", backupPrefix, now.Format("20060102_150405"))
}

// copyStoreFile is the degraded path. It is not transactionally safe: a
// write landing mid-copy can corrupt the snapshot.
func (s *BackupService) copyStoreFile(target string) error {
	source, err := os.Open(s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store file: %w", err)
	}
	defer source.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, source); err != nil {
		return fmt.Errorf("failed to copy store file: %w", err)
	}
	return nil
}

// CleanupOldBackups drops snapshots older than the retention window.
// Files that do not look like our backups are left alone.
func (s *BackupService) CleanupOldBackups() {
	if s.config.RetentionDays <= 0 {
		return
	}

	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list backup directory")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.config.StoragePath, entry.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to delete old backup")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Old store backups deleted")
	}
}
