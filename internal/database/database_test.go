package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"reservas/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SyncCourts(context.Background(), []models.Court{
		{ID: 1, Name: "Cancha 1", HourlyPrice: 100000, IsActive: true},
		{ID: 2, Name: "Cancha 2", HourlyPrice: 80000, IsActive: true},
		{ID: 3, Name: "Cancha 3", HourlyPrice: 80000, IsActive: false},
	}))
	return db
}

func testSlot(t *testing.T, court int64, start, end string) models.Slot {
	t.Helper()
	s, err := models.NewSlot(court, "2025-06-01", start, end)
	require.NoError(t, err)
	return s
}

func TestNewDB_Reopen(t *testing.T) {
	logger := zerolog.New(io.Discard)
	path := filepath.Join(t.TempDir(), "nested", "reservas.db")

	db, err := NewDB(path, &logger)
	require.NoError(t, err)
	require.NoError(t, db.SyncCourts(context.Background(), []models.Court{{ID: 7, Name: "A", HourlyPrice: 1, IsActive: true}}))
	require.NoError(t, db.Close())

	db, err = NewDB(path, &logger)
	require.NoError(t, err)
	defer db.Close()

	court, err := db.GetCourt(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "A", court.Name)
	require.Equal(t, path, db.Path())
}

func TestBackupService_PerformBackup(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.New(io.Discard)
	dir := t.TempDir()

	svc := NewBackupService(db, BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: 1}, &logger)
	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)

	backup, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer backup.Close()

	courts, err := backup.ListCourts(context.Background())
	require.NoError(t, err)
	require.Len(t, courts, 3)

	assert.Zero(t, svc.CleanupOldBackups())
	require.FileExists(t, path)
}

func TestBackupService_CleanupOldBackups(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.New(io.Discard)
	dir := t.TempDir()

	svc := NewBackupService(db, BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: 7}, &logger)
	svc.now = func() time.Time { return time.Date(2025, 5, 1, 3, 0, 0, 0, time.UTC) }
	old, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC) }
	fresh, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	unrelated := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o600))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, unrelated)
}
