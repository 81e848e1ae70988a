package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/samber/lo"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scanly/internal"
	"scanly/internal/config"
	"scanly/internal/database"
	"scanly/internal/qrcodes"
	"scanly/internal/redirect"
	"scanly/internal/scans"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared and a single connection,
// so concurrent writers in a test queue up instead of failing with a lock.
// Caches the database by root test name.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared&_foreign_keys=on", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("testsupport: failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db.Exec("PRAGMA foreign_keys = ON")

	if err := database.Migrate(db); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB.Close()
	})

	return db
}

// TestDBManager implements cartridge.DBManager for testing.
type TestDBManager = ctestsupport.TestDBManager

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDBManager wraps SetupTestDB in a DBManager
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	return ctestsupport.NewTestDBManager(SetupTestDB(t)), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	if len(tableNames) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CreateTestQRCode creates a QR code, reusing an existing one with the same short code
func CreateTestQRCode(t *testing.T, db *gorm.DB, shortCode, destination string, utm *qrcodes.UTMParams) *qrcodes.QRCode {
	t.Helper()

	var qr qrcodes.QRCode
	if db.Where("short_code = ?", shortCode).First(&qr).Error == nil {
		return &qr
	}

	qr = qrcodes.QRCode{
		ShortCode:      shortCode,
		DestinationURL: destination,
		UTMParams:      utm,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.Create(&qr).Error; err != nil {
		t.Fatalf("testsupport: failed to create qr code: %v", err)
	}
	return &qr
}

// ScanOption customizes a test scan.
type ScanOption func(*scans.Scan)

// WithCountry sets the scan country
func WithCountry(country string) ScanOption {
	return func(s *scans.Scan) { s.Country = lo.ToPtr(country) }
}

// WithCity sets the scan city
func WithCity(city string) ScanOption {
	return func(s *scans.Scan) { s.City = lo.ToPtr(city) }
}

// WithDeviceType sets the scan device type
func WithDeviceType(deviceType string) ScanOption {
	return func(s *scans.Scan) { s.DeviceType = lo.ToPtr(deviceType) }
}

// WithBrowser sets the scan browser
func WithBrowser(browser string) ScanOption {
	return func(s *scans.Scan) { s.Browser = lo.ToPtr(browser) }
}

// CreateTestScan inserts a scan of qrCodeID at scannedAt
func CreateTestScan(t *testing.T, db *gorm.DB, qrCodeID uint, scannedAt time.Time, opts ...ScanOption) *scans.Scan {
	t.Helper()

	scan := &scans.Scan{QRCodeID: qrCodeID, ScannedAt: scannedAt.UTC()}
	for _, opt := range opts {
		opt(scan)
	}
	if err := db.Omit("QRCode").Create(scan).Error; err != nil {
		t.Fatalf("testsupport: failed to create scan: %v", err)
	}
	return scan
}

// CountScans returns the number of stored scans, optionally for one QR code
func CountScans(t *testing.T, db *gorm.DB, qrCodeID ...uint) int64 {
	t.Helper()

	query := db.Model(&scans.Scan{})
	if len(qrCodeID) > 0 {
		query = query.Where("qr_code_id = ?", qrCodeID[0])
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		t.Fatalf("testsupport: failed to count scans: %v", err)
	}
	return count
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// TestConfig returns a test-environment configuration that touches no files.
func TestConfig() *config.Config {
	return &config.Config{
		AppName:            "scanly",
		AppPort:            "0",
		Environment:        config.Test,
		LogLevel:           config.LogLevelError,
		GeoTimeoutMs:       3000,
		GeoCacheTTLSeconds: 3600,
		CORSAllowOrigins:   "*",
		RateLimitMax:       120,
		JobIntervalSeconds: 86400,
	}
}

// AppOption customizes CreateTestApp.
type AppOption func(*internal.ServerDeps)

// WithGeo enables geolocation through geo
func WithGeo(geo redirect.GeoLookup) AppOption {
	return func(d *internal.ServerDeps) { d.Geo = geo }
}

// WithConfig replaces the test configuration
func WithConfig(cfg *config.Config) AppOption {
	return func(d *internal.ServerDeps) { d.Config = cfg }
}

// CreateTestApp builds the full HTTP server on db. Geolocation is off unless WithGeo is given.
func CreateTestApp(t *testing.T, db *gorm.DB, opts ...AppOption) *fiber.App {
	t.Helper()

	logger := GetLogger()
	deps := internal.ServerDeps{
		Config:    TestConfig(),
		Logger:    logger,
		DBManager: ctestsupport.NewTestDBManager(db),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return internal.NewServer(deps)
}
