// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// File paths
	DatabasePath string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"` // Derived from other settings

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns  int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns  int `mapstructure:"dbmaxidleconns"`
	DatabaseBusyTimeoutMs int `mapstructure:"dbbusytimeoutms"`

	// Geolocation settings
	IPStackAPIKey      string `mapstructure:"ipstackapikey"`
	IPStackBaseURL     string `mapstructure:"ipstackbaseurl"`
	GeoTimeoutMs       int    `mapstructure:"geotimeoutms"`
	GeoCacheTTLSeconds int    `mapstructure:"geocachettlseconds"`
	GeoDBPath          string `mapstructure:"geodbpath"`
	GeoLiteLicenseKey  string `mapstructure:"geolitelicensekey"`

	// Redirect policy
	ScanWriteFailOpen bool `mapstructure:"scanwritefailopen"`

	// HTTP settings
	CORSAllowOrigins string `mapstructure:"corsalloworigins"`
	RateLimitMax     int    `mapstructure:"ratelimitmax"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		loaded, err := Load()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	})
	return cfg
}

// Load reads configuration from the environment without caching it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("appname", "scanly")
	v.SetDefault("appport", "3000")
	v.SetDefault("environment", Development)
	v.SetDefault("loglevel", string(LogLevelDebug))
	v.SetDefault("storagepath", "storage")
	v.SetDefault("logsdir", "logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)
	v.SetDefault("dbmaxopenconns", 0)
	v.SetDefault("dbmaxidleconns", 0)
	v.SetDefault("dbbusytimeoutms", 5000)
	v.SetDefault("ipstackapikey", "")
	v.SetDefault("ipstackbaseurl", "http://api.ipstack.com")
	v.SetDefault("geotimeoutms", 3000)
	v.SetDefault("geocachettlseconds", 3600)
	v.SetDefault("geodbpath", "")
	v.SetDefault("geolitelicensekey", "")
	v.SetDefault("scanwritefailopen", false)
	v.SetDefault("corsalloworigins", "*")
	v.SetDefault("ratelimitmax", 120)
	v.SetDefault("jobintervalseconds", 86400)

	v.BindEnv("appname", "SCANLY_APP_NAME")
	v.BindEnv("appport", "SCANLY_APP_PORT")
	v.BindEnv("environment", "SCANLY_ENV")
	v.BindEnv("loglevel", "SCANLY_LOG_LEVEL")
	v.BindEnv("storagepath", "SCANLY_STORAGE_PATH")
	v.BindEnv("logsdir", "SCANLY_LOGS_DIR")
	v.BindEnv("logsmaxsizeinmb", "SCANLY_LOGS_MAX_SIZE_IN_MB")
	v.BindEnv("logsmaxbackups", "SCANLY_LOGS_MAX_BACKUPS")
	v.BindEnv("logsmaxageindays", "SCANLY_LOGS_MAX_AGE_IN_DAYS")
	v.BindEnv("dbmaxopenconns", "SCANLY_DB_MAX_OPEN_CONNS")
	v.BindEnv("dbmaxidleconns", "SCANLY_DB_MAX_IDLE_CONNS")
	v.BindEnv("dbbusytimeoutms", "SCANLY_DB_BUSY_TIMEOUT_MS")
	v.BindEnv("ipstackapikey", "IPSTACK_API_KEY")
	v.BindEnv("ipstackbaseurl", "SCANLY_IPSTACK_BASE_URL")
	v.BindEnv("geotimeoutms", "SCANLY_GEO_TIMEOUT_MS")
	v.BindEnv("geocachettlseconds", "SCANLY_GEO_CACHE_TTL_SECONDS")
	v.BindEnv("geodbpath", "SCANLY_GEO_DB_PATH")
	v.BindEnv("geolitelicensekey", "SCANLY_GEOLITE_LICENSE_KEY")
	v.BindEnv("scanwritefailopen", "SCANLY_SCAN_WRITE_FAIL_OPEN")
	v.BindEnv("corsalloworigins", "SCANLY_CORS_ALLOW_ORIGINS")
	v.BindEnv("ratelimitmax", "SCANLY_RATE_LIMIT_MAX")
	v.BindEnv("jobintervalseconds", "SCANLY_JOB_INTERVAL_SECONDS")

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c.DatabaseName = c.GetDatabasePath()
	return c, nil
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validLevels := map[LogLevel]bool{
		LogLevelDebug: true,
		LogLevelInfo:  true,
		LogLevelWarn:  true,
		LogLevelError: true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.GeoTimeoutMs <= 0 {
		return fmt.Errorf("geo timeout must be positive, got %d", c.GeoTimeoutMs)
	}
	if c.GeoCacheTTLSeconds < 0 {
		return fmt.Errorf("geo cache ttl cannot be negative, got %d", c.GeoCacheTTLSeconds)
	}
	if c.JobIntervalSeconds <= 0 {
		return fmt.Errorf("job interval must be positive, got %d", c.JobIntervalSeconds)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GeoTimeout is the bounded wait for one geolocation lookup.
func (c *Config) GeoTimeout() time.Duration {
	return time.Duration(c.GeoTimeoutMs) * time.Millisecond
}

// GeoCacheTTL is how long a successful geolocation result stays cached.
func (c *Config) GeoCacheTTL() time.Duration {
	return time.Duration(c.GeoCacheTTLSeconds) * time.Second
}

// JobInterval is the tick interval of the background scheduler.
func (c *Config) JobInterval() time.Duration {
	return time.Duration(c.JobIntervalSeconds) * time.Second
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory implements cartridge.Config. The service serves no static assets.
func (c *Config) GetPublicDirectory() string {
	return ""
}

// GetAssetsPrefix implements cartridge.Config.
func (c *Config) GetAssetsPrefix() string {
	return ""
}

// GetAppName returns the application name, used for the log file name.
func (c *Config) GetAppName() string {
	return c.AppName
}

// GetLogLevel returns the configured log level (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

var (
	_ cartridge.Config            = (*Config)(nil)
	_ cartridge.LogConfigProvider = (*Config)(nil)
)

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
