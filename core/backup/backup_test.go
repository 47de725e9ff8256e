package backup

import (
	"os"
	"testing"
	"time"

	"github.com/erc4337/aa-bundler/pkg/logger"
	"github.com/erc4337/aa-bundler/storage"
)

func mustDB(t *testing.T) storage.Storage {
	t.Helper()
	db, err := storage.NewWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBackup(t *testing.T) {
	t.Run("StartPeriodicBackup", func(t *testing.T) {
		db := mustDB(t)
		service := NewService(logger.NewNoOpLogger(), db, t.TempDir())

		if err := service.StartPeriodicBackup(time.Hour); err != nil {
			t.Fatalf("failed to start periodic backup: %v", err)
		}
		if !service.backupEnabled {
			t.Error("backup service should be enabled after starting")
		}
		if err := service.StartPeriodicBackup(time.Hour); err == nil {
			t.Error("starting backup service twice should return an error")
		}
		service.StopPeriodicBackup()
	})

	t.Run("StopPeriodicBackup", func(t *testing.T) {
		db := mustDB(t)
		service := NewService(logger.NewNoOpLogger(), db, t.TempDir())

		_ = service.StartPeriodicBackup(time.Hour)
		service.StopPeriodicBackup()
		if service.backupEnabled {
			t.Error("backup service should be disabled after stopping")
		}
		service.StopPeriodicBackup()
	})

	t.Run("PerformBackup", func(t *testing.T) {
		db := mustDB(t)
		service := NewService(logger.NewNoOpLogger(), db, t.TempDir())

		backupFile, err := service.PerformBackup()
		if err != nil {
			t.Fatalf("failed to perform backup: %v", err)
		}
		if _, err := os.Stat(backupFile); os.IsNotExist(err) {
			t.Errorf("backup file %s does not exist", backupFile)
		}
	})
}
