package geoip

import (
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/samber/lo"
)

// LocalDB is an optional MaxMind GeoLite2 City database used when the remote
// provider is unconfigured or returns nothing.
type LocalDB struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	reader *geoip2.Reader
}

// OpenLocalDB opens the database at path. It returns nil if the path is
// empty or the file cannot be opened (local lookups are optional).
func OpenLocalDB(path string, logger *slog.Logger) *LocalDB {
	if path == "" {
		logger.Debug("GeoIP database path not configured - local geolocation disabled")
		return nil
	}

	db := &LocalDB{path: path, logger: logger}
	db.reader = db.open()
	return db
}

func (db *LocalDB) open() *geoip2.Reader {
	fileInfo, err := os.Stat(db.path)
	if os.IsNotExist(err) {
		db.logger.Info("GeoLite2 database not found - local geolocation disabled until it is downloaded",
			slog.String("path", db.path))
		return nil
	} else if err != nil {
		db.logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", db.path),
			slog.Any("error", err))
		return nil
	}

	reader, err := geoip2.Open(db.path)
	if err != nil {
		db.logger.Error("Failed to open GeoLite2 database",
			slog.String("path", db.path),
			slog.Any("error", err))
		return nil
	}

	db.logger.Info("GeoLite2 database loaded",
		slog.String("path", db.path),
		slog.Int64("size_bytes", fileInfo.Size()),
		slog.Time("mod_time", fileInfo.ModTime()))
	return reader
}

// Path is the configured database file.
func (db *LocalDB) Path() string {
	return db.path
}

// Available reports whether a database is currently loaded.
func (db *LocalDB) Available() bool {
	if db == nil {
		return false
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.reader != nil
}

// Reload reopens the database from disk. Call this after downloading a new file.
func (db *LocalDB) Reload() {
	if db == nil {
		return
	}
	reader := db.open()

	db.mu.Lock()
	old := db.reader
	db.reader = reader
	db.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Close releases the database.
func (db *LocalDB) Close() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.reader == nil {
		return nil
	}
	err := db.reader.Close()
	db.reader = nil
	return err
}

// Lookup resolves ip against the local database. ISP is never set.
func (db *LocalDB) Lookup(ip net.IP) *Location {
	if db == nil {
		return nil
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.reader == nil {
		return nil
	}

	record, err := db.reader.City(ip)
	if err != nil {
		db.logger.Debug("Local GeoIP lookup failed", slog.String("ip", ip.String()), slog.Any("error", err))
		return nil
	}

	loc := &Location{
		Country:  lo.EmptyableToPtr(record.Country.Names["en"]),
		City:     lo.EmptyableToPtr(record.City.Names["en"]),
		Timezone: lo.EmptyableToPtr(record.Location.TimeZone),
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = lo.EmptyableToPtr(record.Subdivisions[0].Names["en"])
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		loc.Latitude = lo.ToPtr(strconv.FormatFloat(record.Location.Latitude, 'f', -1, 64))
		loc.Longitude = lo.ToPtr(strconv.FormatFloat(record.Location.Longitude, 'f', -1, 64))
	}

	if loc.IsEmpty() {
		return nil
	}
	return loc
}
