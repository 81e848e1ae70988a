package database_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/karloscodes/cartridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"scanly/internal/config"
	"scanly/internal/database"
	"scanly/internal/qrcodes"
	"scanly/internal/scans"
)

var _ cartridge.DBManager = (*database.DBManager)(nil)

func newTestManager(t *testing.T) (*database.DBManager, *config.Config) {
	t.Helper()
	t.Setenv("SCANLY_ENV", config.Test)
	t.Setenv("SCANLY_STORAGE_PATH", filepath.Join(t.TempDir(), "nested", "storage"))

	cfg, err := config.Load()
	require.NoError(t, err)

	dm := database.NewDBManager(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { dm.Close() })
	return dm, cfg
}

func TestInitCreatesStorageDirectory(t *testing.T) {
	dm, cfg := newTestManager(t)
	require.Nil(t, dm.GetConnection(), "no connection before Init")

	require.NoError(t, dm.Init())
	assert.DirExists(t, filepath.Dir(cfg.GetDatabasePath()))
	assert.FileExists(t, cfg.GetDatabasePath())
	assert.NotNil(t, dm.GetConnection())
}

func TestMigrateDatabase(t *testing.T) {
	dm, _ := newTestManager(t)

	require.ErrorIs(t, dm.MigrateDatabase(), gorm.ErrInvalidDB, "migrating before Init must fail")

	require.NoError(t, dm.Init())
	require.NoError(t, dm.MigrateDatabase())
	// idempotent
	require.NoError(t, dm.MigrateDatabase())

	db := dm.GetConnection()
	assert.True(t, db.Migrator().HasTable(&qrcodes.QRCode{}))
	assert.True(t, db.Migrator().HasTable(&scans.Scan{}))
	assert.True(t, db.Migrator().HasIndex(&scans.Scan{}, "idx_scans_qr_code_scanned_at"))

	var journalMode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)

	var triggers int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger'").Scan(&triggers).Error)
	assert.Equal(t, int64(3), triggers)

	require.NoError(t, dm.Ping(context.Background()))
}

func TestScansCascadeWithQRCode(t *testing.T) {
	dm, _ := newTestManager(t)
	require.NoError(t, dm.Init())
	require.NoError(t, dm.MigrateDatabase())
	db := dm.GetConnection()

	qr := &qrcodes.QRCode{ShortCode: "cascade", DestinationURL: "https://example.com"}
	require.NoError(t, db.Create(qr).Error)
	require.NoError(t, db.Omit("QRCode").Create(&scans.Scan{QRCodeID: qr.ID}).Error)

	require.NoError(t, db.Delete(qr).Error)

	var count int64
	require.NoError(t, db.Model(&scans.Scan{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestScanRequiresExistingQRCode(t *testing.T) {
	dm, _ := newTestManager(t)
	require.NoError(t, dm.Init())
	require.NoError(t, dm.MigrateDatabase())
	db := dm.GetConnection()

	err := db.Omit("QRCode").Create(&scans.Scan{QRCodeID: 999}).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOREIGN KEY constraint failed")

	t.Run("reassigning to a missing code fails", func(t *testing.T) {
		qr := &qrcodes.QRCode{ShortCode: "owner", DestinationURL: "https://example.com"}
		require.NoError(t, db.Create(qr).Error)
		scan := &scans.Scan{QRCodeID: qr.ID}
		require.NoError(t, db.Omit("QRCode").Create(scan).Error)

		err := db.Model(&scans.Scan{}).Where("id = ?", scan.ID).Update("qr_code_id", 4242).Error
		assert.Error(t, err)
	})
}

func TestCheckpointWAL(t *testing.T) {
	dm, _ := newTestManager(t)
	assert.ErrorIs(t, dm.CheckpointWAL("PASSIVE"), gorm.ErrInvalidDB)

	require.NoError(t, dm.Init())
	assert.Error(t, dm.CheckpointWAL("DROP TABLE scans"))
	assert.NoError(t, dm.CheckpointWAL("PASSIVE"))
}

func TestCloseIsIdempotent(t *testing.T) {
	dm, _ := newTestManager(t)
	require.NoError(t, dm.Init())

	require.NoError(t, dm.Close())
	require.NoError(t, dm.Close())
	assert.Nil(t, dm.GetConnection())
	assert.Error(t, dm.Ping(context.Background()))

	t.Run("init reopens", func(t *testing.T) {
		require.NoError(t, dm.Init())
		assert.NoError(t, dm.Ping(context.Background()))
	})
}
