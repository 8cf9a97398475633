package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"beds4crew/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "source.db")
	storagePath := filepath.Join(tempDir, "backups")

	logger := zerolog.Nop()
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	seedHostel(t, db)
	require.NoError(t, db.Close())

	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	s := NewBackupService(dbPath, cfg, &logger)

	var backupPath string
	t.Run("PerformBackup", func(t *testing.T) {
		backupPath, err = s.PerformBackup(context.Background())
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(filepath.Base(backupPath), backupPrefix))

		files, err := os.ReadDir(storagePath)
		assert.NoError(t, err)
		assert.Len(t, files, 1)
	})

	t.Run("BackupIsReadable", func(t *testing.T) {
		restored, err := NewDB(backupPath, &logger)
		require.NoError(t, err)
		defer restored.Close()

		p, err := restored.LoadProperty(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "Harbour Hostel", p.Title)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, "beds4crew_old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		assert.Equal(t, 1, s.CleanupOldBackups())

		files, err := os.ReadDir(storagePath)
		assert.NoError(t, err)
		require.Len(t, files, 1)
		assert.NotEqual(t, "beds4crew_old.db", files[0].Name())
	})
}

func TestBackupService_Fallback(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "source.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("not really sqlite"), 0o644))

	logger := zerolog.New(io.Discard)
	s := NewBackupService(dbPath, config.BackupConfig{Enabled: true, StoragePath: tempDir}, &logger)

	backupPath := filepath.Join(tempDir, "fallback_test.db")
	require.NoError(t, s.copySnapshot(backupPath))

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "not really sqlite", string(data))
}

func TestBackupService_ListBackups(t *testing.T) {
	dir := t.TempDir()
	logger := zerolog.Nop()
	s := NewBackupService("unused", config.BackupConfig{StoragePath: dir, RetentionDays: 3}, &logger)

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for _, age := range []int{5, 1, 4} {
		name := snapshotName(now.AddDate(0, 0, -age))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))

	snapshots, err := s.ListBackups()
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.Equal(t, now.AddDate(0, 0, -5), snapshots[0].TakenAt)
	assert.Equal(t, now.AddDate(0, 0, -1), snapshots[2].TakenAt)

	// a fresh mtime does not save a snapshot whose name is old
	assert.Equal(t, 2, s.CleanupOldBackups())
	snapshots, err = s.ListBackups()
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, now.AddDate(0, 0, -1), snapshots[0].TakenAt)
}

func TestParseSnapshotName(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 600_000_000, time.UTC)
	got, ok := parseSnapshotName(snapshotName(at))
	require.True(t, ok)
	assert.True(t, at.Equal(got))

	_, ok = parseSnapshotName("beds4crew_old.db")
	assert.False(t, ok)
}

func TestBackupService_Loop(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "source.db")
	logger := zerolog.New(io.Discard)
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfg := config.BackupConfig{Enabled: true, Schedule: "20ms", StoragePath: filepath.Join(tempDir, "loop")}
	s := NewBackupService(dbPath, cfg, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	files, _ := os.ReadDir(cfg.StoragePath)
	assert.NotEmpty(t, files)
}

func TestBackupService_StoragePathIsFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "notadir")
	require.NoError(t, os.WriteFile(tmpFile, nil, 0o644))

	logger := zerolog.New(io.Discard)
	bs := NewBackupService(":memory:", config.BackupConfig{Enabled: true, StoragePath: tmpFile + "/subdir"}, &logger)

	_, err := bs.PerformBackup(context.Background())
	assert.Error(t, err)
}

func TestBackupService_Disabled(_ *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService("any", config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Stop immediately
	s.Start(ctx)
	// Should just return
}
