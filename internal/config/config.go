package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"geostamp/internal/enrichment"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// GeoIP enrichment configuration
	GeoIP GeoIPConfig

	// Log configuration
	LogLevel string

	// Event sources configuration
	Sources SourcesConfig

	// Server Configuration
	Server ServerConfig

	// Performance Configuration
	Performance PerformanceConfig
}

// DatabaseConfig contains database-related settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLife     time.Duration
	RetentionDays   int           // Number of days to retain events (0 = unlimited)
	CleanupInterval time.Duration // How often to check for cleanup (default: 1 hour)
	CleanupTime     string        // Time of day to run cleanup (24-hour format, e.g., "02:00")
	VacuumEnabled   bool          // Run VACUUM after cleanup to reclaim space
}

// GeoIPConfig contains the enrichment options
type GeoIPConfig struct {
	DatabasePath     string // geoIPDatabase, required
	PreserveExisting bool   // preserveExisting
	AddressHeader    string // addressHeader, the header stamped with the local address
	CacheSize        int    // LRU entries in front of the database (0 = no cache)
}

// SourcesConfig contains the files events are read from
type SourcesConfig struct {
	Paths        []string
	ParserType   string
	PollInterval time.Duration
	Watch        bool // Use filesystem notifications in addition to polling
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Host       string
	Port       int
	Production bool
	Enabled    bool
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	BatchSize               int
	WorkerPoolSize          int
	RealtimeMetricsInterval time.Duration
	SourceSyncInterval      time.Duration // How often new sources are picked up
}

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Path:            getEnv("DB_PATH", "geostamp.db"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 3),
			ConnMaxLife:     getEnvAsDuration("DB_CONN_MAX_LIFE", time.Hour),
			RetentionDays:   getEnvAsInt("DB_RETENTION_DAYS", 30),
			CleanupInterval: getEnvAsDuration("DB_CLEANUP_INTERVAL", 1*time.Hour),
			CleanupTime:     getEnv("DB_CLEANUP_TIME", "02:00"),
			VacuumEnabled:   getEnvAsBool("DB_VACUUM_ENABLED", true),
		},
		GeoIP: GeoIPConfig{
			DatabasePath:     getEnv("GEOIP_DATABASE", ""),
			PreserveExisting: getEnvAsBool("GEOIP_PRESERVE_EXISTING", false),
			AddressHeader:    getEnv("GEOIP_ADDRESS_HEADER", enrichment.DefaultTargetHeader),
			CacheSize:        getEnvAsInt("GEOIP_CACHE_SIZE", 10000),
		},
		Sources: SourcesConfig{
			Paths:        getEnvAsList("SOURCE_PATHS", []string{"events/events.log"}),
			ParserType:   getEnv("SOURCE_PARSER", "jsonheaders"),
			PollInterval: getEnvAsDuration("SOURCE_POLL_INTERVAL", 1*time.Second),
			Watch:        getEnvAsBool("SOURCE_WATCH", true),
		},
		Server: ServerConfig{
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			Port:       getEnvAsInt("SERVER_PORT", 8080),
			Production: getEnvAsBool("SERVER_PRODUCTION", false),
			Enabled:    getEnvAsBool("SERVER_ENABLED", true),
		},
		Performance: PerformanceConfig{
			BatchSize:               getEnvAsInt("BATCH_SIZE", 1000),
			WorkerPoolSize:          getEnvAsInt("WORKER_POOL_SIZE", 4),
			RealtimeMetricsInterval: getEnvAsDuration("METRICS_INTERVAL", 1*time.Second),
			SourceSyncInterval:      getEnvAsDuration("SOURCE_SYNC_INTERVAL", 30*time.Second),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// EnrichmentContext exposes the GeoIP section under the extractor's option names
func (c *Config) EnrichmentContext() enrichment.Context {
	ctx := enrichment.Context{
		enrichment.OptionPreserveExisting: strconv.FormatBool(c.GeoIP.PreserveExisting),
		enrichment.OptionAddressHeader:    c.GeoIP.AddressHeader,
		enrichment.OptionCacheSize:        strconv.Itoa(c.GeoIP.CacheSize),
	}
	// Left unset when empty so the builder reports the missing parameter
	if c.GeoIP.DatabasePath != "" {
		ctx[enrichment.OptionGeoIPDatabase] = c.GeoIP.DatabasePath
	}
	return ctx
}

// Helper functions to read environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			values = append(values, item)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
