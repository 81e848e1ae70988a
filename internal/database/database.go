// Package database owns the SQLite connection and schema migrations.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"scanly/internal/config"
	"scanly/internal/qrcodes"
	"scanly/internal/scans"
)

// Models lists every table the service owns, in migration order.
func Models() []any {
	return []any{
		&qrcodes.QRCode{},
		&scans.Scan{},
	}
}

// referentialTriggers keep scans tied to an existing QR code and remove them
// with it. They hold whether or not PRAGMA foreign_keys is on for the
// connection that writes.
var referentialTriggers = []string{
	`CREATE TRIGGER IF NOT EXISTS scans_qr_code_exists_insert
	BEFORE INSERT ON scans FOR EACH ROW
	WHEN NOT EXISTS (SELECT 1 FROM qr_codes WHERE id = NEW.qr_code_id)
	BEGIN SELECT RAISE(ABORT, 'FOREIGN KEY constraint failed'); END`,
	`CREATE TRIGGER IF NOT EXISTS scans_qr_code_exists_update
	BEFORE UPDATE OF qr_code_id ON scans FOR EACH ROW
	WHEN NOT EXISTS (SELECT 1 FROM qr_codes WHERE id = NEW.qr_code_id)
	BEGIN SELECT RAISE(ABORT, 'FOREIGN KEY constraint failed'); END`,
	`CREATE TRIGGER IF NOT EXISTS qr_codes_delete_scans
	AFTER DELETE ON qr_codes FOR EACH ROW
	BEGIN DELETE FROM scans WHERE qr_code_id = OLD.id; END`,
}

// Migrate creates or updates the qr_codes and scans tables on db.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	for _, stmt := range referentialTriggers {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create trigger: %w", err)
		}
	}
	return nil
}

// DBManager wraps cartridge's sqlite.Manager with scanly's migrations.
type DBManager struct {
	*sqlite.Manager
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	open bool
}

// NewDBManager creates a new database manager using cartridge's sqlite.Manager.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	busyTimeout := cfg.DatabaseBusyTimeoutMs
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	sqliteCfg := sqlite.Config{
		Path:         cfg.GetDatabasePath(),
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  busyTimeout,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		path:    sqliteCfg.Path,
		logger:  logger,
	}
}

// Init creates the storage directory and opens the database connection.
func (dm *DBManager) Init() error {
	if dir := filepath.Dir(dm.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if _, err := dm.Manager.Connect(); err != nil {
		return err
	}

	dm.mu.Lock()
	dm.open = true
	dm.mu.Unlock()
	return nil
}

// GetConnection returns the open connection, or nil before Init and after Close.
func (dm *DBManager) GetConnection() *gorm.DB {
	if !dm.isOpen() {
		return nil
	}
	return dm.Manager.GetConnection()
}

// MigrateDatabase runs scanly's migrations.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return Migrate(tx)
	})
	if err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}

// CheckpointWAL runs PRAGMA wal_checkpoint with the given mode
// (PASSIVE, FULL, RESTART or TRUNCATE).
func (dm *DBManager) CheckpointWAL(mode string) error {
	if !dm.isOpen() {
		return gorm.ErrInvalidDB
	}
	switch mode {
	case "PASSIVE", "FULL", "RESTART", "TRUNCATE":
	default:
		return fmt.Errorf("invalid checkpoint mode %q", mode)
	}
	return dm.Manager.CheckpointWAL(mode)
}

// Ping checks that the database answers within ctx.
func (dm *DBManager) Ping(ctx context.Context) error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close checkpoints the WAL and closes the connection. Later calls are no-ops.
func (dm *DBManager) Close() error {
	dm.mu.Lock()
	if !dm.open {
		dm.mu.Unlock()
		return nil
	}
	dm.open = false
	dm.mu.Unlock()

	if err := dm.Manager.CheckpointWAL("TRUNCATE"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL on close", slog.Any("error", err))
	}
	return dm.Manager.Close()
}

// isOpen reports whether Init ran and Close has not. The embedded Manager
// reconnects lazily, so this guard keeps a closed manager closed.
func (dm *DBManager) isOpen() bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.open
}
