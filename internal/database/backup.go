package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"beds4crew/internal/config"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const (
	backupPrefix     = "beds4crew_"
	backupExt        = ".db"
	backupTimeLayout = "20060102_150405.000"
	defaultSchedule  = 24 * time.Hour
)

// Snapshot is one backup file in the storage directory.
type Snapshot struct {
	Path    string
	TakenAt time.Time
}

// BackupService periodically snapshots the booking database with VACUUM INTO
// and prunes snapshots past the retention window.
type BackupService struct {
	dbPath string
	config config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBackupService(dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BackupService{
		dbPath: dbPath,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *BackupService) interval() time.Duration {
	if s.config.Schedule == "" {
		return defaultSchedule
	}
	d, err := time.ParseDuration(s.config.Schedule)
	if err != nil || d <= 0 {
		s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("Неверное расписание бэкапов, используем 24h")
		return defaultSchedule
	}
	return d
}

// Start takes a snapshot right away and then one per schedule tick until ctx is done.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	interval := s.interval()
	s.logger.Info().Dur("interval", interval).Str("path", s.config.StoragePath).Msg("Backup service started")

	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *BackupService) runOnce(ctx context.Context) {
	if _, err := s.PerformBackup(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Backup failed")
		}
		return
	}
	if n := s.CleanupOldBackups(); n > 0 {
		s.logger.Info().Int("removed", n).Msg("Old backups pruned")
	}
}

// PerformBackup writes a consistent snapshot and returns its path. When the
// source cannot be vacuumed the file is copied as is.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	backupPath := filepath.Join(s.config.StoragePath, snapshotName(s.now()))

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return "", fmt.Errorf("open source database: %w", err)
	}
	defer db.Close()

	quoted := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, copying the file")
		if err := s.copySnapshot(backupPath); err != nil {
			return "", err
		}
		return backupPath, nil
	}

	s.logger.Info().Str("path", backupPath).Msg("Backup completed")
	return backupPath, nil
}

// copySnapshot copies the database file through a temp file so a crash never
// leaves a half-written snapshot under a valid name. Concurrent writers can still
// make the copy inconsistent.
func (s *BackupService) copySnapshot(backupPath string) error {
	source, err := os.Open(s.dbPath)
	if err != nil {
		return fmt.Errorf("open source database: %w", err)
	}
	defer source.Close()

	tmp, err := os.CreateTemp(filepath.Dir(backupPath), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, source); err != nil {
		tmp.Close()
		return fmt.Errorf("copy database: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), backupPath); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	s.logger.Info().Str("path", backupPath).Msg("Fallback backup completed")
	return nil
}

// ListBackups returns the snapshots in the storage directory, oldest first.
// The time comes from the file name; foreign names fall back to the mtime.
func (s *BackupService) ListBackups() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || filepath.Ext(name) != backupExt {
			continue
		}
		takenAt, ok := parseSnapshotName(name)
		if !ok {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			takenAt = info.ModTime()
		}
		snapshots = append(snapshots, Snapshot{Path: filepath.Join(s.config.StoragePath, name), TakenAt: takenAt})
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].TakenAt.Before(snapshots[j].TakenAt) })
	return snapshots, nil
}

// CleanupOldBackups removes snapshots older than the retention window and
// returns how many were deleted.
func (s *BackupService) CleanupOldBackups() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	snapshots, err := s.ListBackups()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list backups for cleanup")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, snap := range snapshots {
		if !snap.TakenAt.Before(cutoff) {
			break
		}
		if err := os.Remove(snap.Path); err != nil {
			s.logger.Warn().Err(err).Str("file", snap.Path).Msg("Failed to delete old backup")
			continue
		}
		removed++
	}
	return removed
}

func snapshotName(t time.Time) string {
	return backupPrefix + t.UTC().Format(backupTimeLayout) + backupExt
}

func parseSnapshotName(name string) (time.Time, bool) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupExt)
	t, err := time.Parse(backupTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
