// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

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

// Database types
const (
	SQLiteDatabase = "sqlite"
)

const defaultPrivateKey = "88888888888888888888888888888888"

// Version is the running build, overridden at link time with -ldflags "-X".
var Version = "dev"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName                    string   `mapstructure:"appname"`
	AppPort                    string   `mapstructure:"appport"`
	Environment                string   `mapstructure:"environment"`
	LogLevel                   LogLevel `mapstructure:"loglevel"`
	PrivateKey                 string   `mapstructure:"privatekey"`
	SessionTimeoutSeconds      int      `mapstructure:"sessiontimeoutseconds"`
	LoginSessionTimeoutSeconds int      `mapstructure:"loginsessiontimeoutseconds"`
	TokenTTLHours              int      `mapstructure:"tokenttlhours"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Ingestion settings
	GeoLookupTimeoutMs int `mapstructure:"geolookuptimeoutms"`

	// Aggregation settings
	AggregationAPIKey         string `mapstructure:"aggregationapikey"`
	HourlyLookbackHours       int    `mapstructure:"hourlylookbackhours"`
	DailyLookbackDays         int    `mapstructure:"dailylookbackdays"`
	AggregationBatchSize      int    `mapstructure:"aggregationbatchsize"`
	AggregationBatchesPerSec  int    `mapstructure:"aggregationbatchespersec"`
	HourlyAggregationSchedule string `mapstructure:"hourlyaggregationschedule"`
	DailyAggregationSchedule  string `mapstructure:"dailyaggregationschedule"`

	// Dashboard settings
	RealtimeSampleSize   int `mapstructure:"realtimesamplesize"`
	AggregatedSampleSize int `mapstructure:"aggregatedsamplesize"`

	// Export settings
	ExportWorkers         int    `mapstructure:"exportworkers"`
	ExportRetentionDays   int    `mapstructure:"exportretentiondays"`
	ExportCleanupSchedule string `mapstructure:"exportcleanupschedule"`

	// GeoLite settings
	GeoLiteUpdateSchedule string `mapstructure:"geoliteupdateschedule"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "pocketwebanalytics")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", defaultPrivateKey)
		v.SetDefault("sessiontimeoutseconds", 1800)
		v.SetDefault("loginsessiontimeoutseconds", 604800) // 1 week
		v.SetDefault("tokenttlhours", 24)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "web/static")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("geolookuptimeoutms", 150)
		v.SetDefault("aggregationapikey", "")
		v.SetDefault("hourlylookbackhours", 2)
		v.SetDefault("dailylookbackdays", 1)
		v.SetDefault("aggregationbatchsize", 1000)
		v.SetDefault("aggregationbatchespersec", 20)
		v.SetDefault("hourlyaggregationschedule", "5 * * * *")
		v.SetDefault("dailyaggregationschedule", "15 0 * * *")
		v.SetDefault("realtimesamplesize", 20)
		v.SetDefault("aggregatedsamplesize", 50)
		v.SetDefault("exportworkers", 2)
		v.SetDefault("exportretentiondays", 7)
		v.SetDefault("exportcleanupschedule", "30 3 * * *")
		v.SetDefault("geoliteupdateschedule", "0 4 * * *")

		v.BindEnv("appname", "PWA_APP_NAME")
		v.BindEnv("appport", "PWA_APP_PORT")
		v.BindEnv("environment", "PWA_ENV")
		v.BindEnv("loglevel", "PWA_LOG_LEVEL")
		v.BindEnv("privatekey", "PWA_PRIVATE_KEY")
		v.BindEnv("sessiontimeoutseconds", "PWA_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("loginsessiontimeoutseconds", "PWA_LOGIN_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("tokenttlhours", "PWA_TOKEN_TTL_HOURS")
		v.BindEnv("storagepath", "PWA_STORAGE_PATH")
		v.BindEnv("geodbpath", "PWA_GEO_DB_PATH")
		v.BindEnv("publicdir", "PWA_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "PWA_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "PWA_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "PWA_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "PWA_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "PWA_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "PWA_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "PWA_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "PWA_DB_MAX_IDLE_CONNS")
		v.BindEnv("geolookuptimeoutms", "PWA_GEO_LOOKUP_TIMEOUT_MS")
		v.BindEnv("aggregationapikey", "PWA_AGGREGATION_API_KEY")
		v.BindEnv("hourlylookbackhours", "PWA_HOURLY_LOOKBACK_HOURS")
		v.BindEnv("dailylookbackdays", "PWA_DAILY_LOOKBACK_DAYS")
		v.BindEnv("aggregationbatchsize", "PWA_AGGREGATION_BATCH_SIZE")
		v.BindEnv("aggregationbatchespersec", "PWA_AGGREGATION_BATCHES_PER_SEC")
		v.BindEnv("hourlyaggregationschedule", "PWA_HOURLY_AGGREGATION_SCHEDULE")
		v.BindEnv("dailyaggregationschedule", "PWA_DAILY_AGGREGATION_SCHEDULE")
		v.BindEnv("realtimesamplesize", "PWA_REALTIME_SAMPLE_SIZE")
		v.BindEnv("aggregatedsamplesize", "PWA_AGGREGATED_SAMPLE_SIZE")
		v.BindEnv("exportworkers", "PWA_EXPORT_WORKERS")
		v.BindEnv("exportretentiondays", "PWA_EXPORT_RETENTION_DAYS")
		v.BindEnv("exportcleanupschedule", "PWA_EXPORT_CLEANUP_SCHEDULE")
		v.BindEnv("geoliteupdateschedule", "PWA_GEOLITE_UPDATE_SCHEDULE")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultPrivateKey {
			log.Fatal("Production requires a unique PWA_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
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

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.AggregationBatchSize <= 0 {
		return fmt.Errorf("aggregation batch size must be positive: %d", c.AggregationBatchSize)
	}
	if c.HourlyLookbackHours <= 0 || c.DailyLookbackDays <= 0 {
		return fmt.Errorf("aggregation lookbacks must be positive")
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

// ExportsDirectory is where generated export files are written.
func (c *Config) ExportsDirectory() string {
	return filepath.Join(c.DatabasePath, "exports")
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

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetSessionTimeout returns the visitor session timeout in seconds.
func (c *Config) GetSessionTimeout() int {
	return c.SessionTimeoutSeconds
}

// GetLoginSessionTimeout returns the login session timeout in seconds.
func (c *Config) GetLoginSessionTimeout() int {
	return c.LoginSessionTimeoutSeconds
}

// GetTokenTTL returns how long issued access tokens stay valid.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// GetGeoLookupTimeout bounds a single IP geolocation lookup.
func (c *Config) GetGeoLookupTimeout() time.Duration {
	return time.Duration(c.GeoLookupTimeoutMs) * time.Millisecond
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

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
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

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
