package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	snapshotPrefix = "reservas_"
	snapshotSuffix = ".db"
	snapshotLayout = "20060102_150405.000"
)

// BackupConfig controls periodic snapshots of the reservation store.
type BackupConfig struct {
	Enabled       bool
	Interval      time.Duration
	StoragePath   string
	RetentionDays int
}

// BackupService writes consistent snapshots of the live database and prunes
// the ones older than the retention period.
type BackupService struct {
	db     *DB
	config BackupConfig
	now    func() time.Time
	logger *zerolog.Logger
}

func NewBackupService(db *DB, cfg BackupConfig, logger *zerolog.Logger) *BackupService {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	l := logger.With().Str("component", "backup").Logger()
	return &BackupService{db: db, config: cfg, now: time.Now, logger: &l}
}

// Start snapshots once and then every interval until ctx is done.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backups disabled")
		return
	}
	s.logger.Info().Dur("interval", s.config.Interval).Str("path", s.config.StoragePath).Msg("Backups scheduled")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.PerformBackup(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Backup failed")
		}
		s.CleanupOldBackups()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PerformBackup writes a snapshot with VACUUM INTO, which reads a
// transactionally consistent view including pages still in the WAL.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	name := snapshotPrefix + s.now().UTC().Format(snapshotLayout) + snapshotSuffix
	target := filepath.Join(s.config.StoragePath, name)

	started := time.Now()
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO '"+strings.ReplaceAll(target, "'", "''")+"'"); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", target, err)
	}
	s.logger.Info().Str("file", name).Dur("took", time.Since(started)).Msg("Snapshot written")
	return target, nil
}

// CleanupOldBackups removes snapshots older than the retention period and
// returns how many were deleted. Age comes from the timestamp in the file
// name; files with any other name are left alone.
func (s *BackupService) CleanupOldBackups() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}
	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Read backup directory")
		return 0
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, e := range entries {
		taken, ok := snapshotTime(e.Name())
		if e.IsDir() || !ok || !taken.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.config.StoragePath, e.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name()).Msg("Delete old snapshot")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Old snapshots pruned")
	}
	return removed
}

func snapshotTime(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
	t, err := time.Parse(snapshotLayout, stamp)
	return t, err == nil
}
