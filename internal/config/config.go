// ==============================================
// Configuration for the pairing service
// Environment-driven, no config files
// ==============================================

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ==============================================
// Main Configuration Structure
// ==============================================

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Store    StoreConfig
	Matching MatchingConfig
}

// ==============================================
// Application Configuration
// ==============================================

type AppConfig struct {
	Name        string
	Version     string
	Environment string
	Debug       bool
}

// ==============================================
// Server Configuration
// ==============================================

type ServerConfig struct {
	HTTP      HTTPConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

type HTTPConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	IdleTTL           time.Duration
}

// ==============================================
// Store Configuration
// ==============================================

const (
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

type StoreConfig struct {
	Backend        string
	KeyPrefix      string
	OperationLimit time.Duration
	Redis          RedisConfig
	MongoDB        MongoConfig
}

type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoConfig struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	MinPoolSize            uint64
	MaxConnIdleTime        time.Duration
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
}

// ==============================================
// Matching & Lifecycle Configuration
// ==============================================

// MatchingConfig tunes pairing and teardown. ScanPageSize is how many queue
// entries a match attempt reads at once; TeardownTimeout bounds the steps
// that follow a won match deletion.
type MatchingConfig struct {
	SkipCooldown           time.Duration
	LeftBehindTTL          time.Duration
	LeftBehindProcessedTTL time.Duration
	TombstoneTTL           time.Duration
	ScanPageSize           int
	TeardownTimeout        time.Duration
	Stats                  StatsPolicy
}

// StatsPolicy selects which termination paths feed skip statistics.
type StatsPolicy struct {
	OnDisconnect         bool
	OnSkip               bool
	OnEnd                bool
	MaxPlausibleDuration time.Duration
}

// ==============================================
// Configuration Loading Functions
// ==============================================

func Load() *Config {
	return &Config{
		App:      loadAppConfig(),
		Server:   loadServerConfig(),
		Store:    loadStoreConfig(),
		Matching: loadMatchingConfig(),
	}
}

func loadAppConfig() AppConfig {
	return AppConfig{
		Name:        getEnv("APP_NAME", "vidmatch"),
		Version:     getEnv("APP_VERSION", "1.0.0"),
		Environment: getEnv("APP_ENV", "development"),
		Debug:       getEnvAsBool("DEBUG", false),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		HTTP: HTTPConfig{
			Port:            getEnv("PORT", "8080"),
			Host:            getEnv("HTTP_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", "15s"),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", "15s"),
			IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", "60s"),
			MaxHeaderBytes:  getEnvAsInt("HTTP_MAX_HEADER_BYTES", 1048576),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", "10s"),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getEnvAsSlice("CORS_ORIGINS", "http://localhost:3000"),
			AllowCredentials: getEnvAsBool("CORS_CREDENTIALS", true),
			MaxAge:           getEnvAsDuration("CORS_MAX_AGE", "12h"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getEnvAsFloat64("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
			IdleTTL:           getEnvAsDuration("RATE_LIMIT_IDLE_TTL", "3m"),
		},
	}
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:        strings.ToLower(getEnv("STORE_BACKEND", BackendRedis)),
		KeyPrefix:      getEnv("STORE_KEY_PREFIX", "vidmatch:"),
		OperationLimit: getEnvAsDuration("STORE_OPERATION_TIMEOUT", "5s"),
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", "5s"),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", "3s"),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", "3s"),
		},
		MongoDB: MongoConfig{
			URI:                    getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:               getEnv("MONGODB_DATABASE", "vidmatch"),
			MaxPoolSize:            getEnvAsUint64("MONGODB_MAX_POOL_SIZE", 100),
			MinPoolSize:            getEnvAsUint64("MONGODB_MIN_POOL_SIZE", 5),
			MaxConnIdleTime:        getEnvAsDuration("MONGODB_MAX_IDLE_TIME", "30m"),
			ConnectTimeout:         getEnvAsDuration("MONGODB_CONNECT_TIMEOUT", "10s"),
			ServerSelectionTimeout: getEnvAsDuration("MONGODB_SERVER_SELECTION_TIMEOUT", "5s"),
		},
	}
}

func loadMatchingConfig() MatchingConfig {
	return MatchingConfig{
		SkipCooldown:           getEnvAsDuration("SKIP_COOLDOWN", "5m"),
		LeftBehindTTL:          getEnvAsDuration("LEFT_BEHIND_TTL", "120s"),
		LeftBehindProcessedTTL: getEnvAsDuration("LEFT_BEHIND_PROCESSED_TTL", "60s"),
		TombstoneTTL:           getEnvAsDuration("TOMBSTONE_TTL", "5m"),
		ScanPageSize:           getEnvAsInt("MATCH_SCAN_PAGE_SIZE", 100),
		TeardownTimeout:        getEnvAsDuration("TEARDOWN_TIMEOUT", "10s"),
		Stats: StatsPolicy{
			OnDisconnect:         getEnvAsBool("STATS_ON_DISCONNECT", true),
			OnSkip:               getEnvAsBool("STATS_ON_SKIP", false),
			OnEnd:                getEnvAsBool("STATS_ON_END", false),
			MaxPlausibleDuration: getEnvAsDuration("STATS_MAX_PLAUSIBLE_DURATION", "24h"),
		},
	}
}

// DefaultMatchingConfig returns the matching defaults without reading the
// environment.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		SkipCooldown:           5 * time.Minute,
		LeftBehindTTL:          120 * time.Second,
		LeftBehindProcessedTTL: 60 * time.Second,
		TombstoneTTL:           5 * time.Minute,
		ScanPageSize:           100,
		TeardownTimeout:        10 * time.Second,
		Stats: StatsPolicy{
			OnDisconnect:         true,
			MaxPlausibleDuration: 24 * time.Hour,
		},
	}
}

// ==============================================
// Helper Functions
// ==============================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsSlice(key string, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// ==============================================
// Configuration Validation
// ==============================================

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRedis, BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	// a process-local store cannot coordinate several instances
	if c.Store.Backend == BackendMemory && c.App.Environment == "production" {
		return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
	}

	m := c.Matching
	if m.SkipCooldown <= 0 {
		return fmt.Errorf("SKIP_COOLDOWN must be positive")
	}
	if m.LeftBehindTTL <= 0 || m.LeftBehindProcessedTTL <= 0 {
		return fmt.Errorf("left-behind TTLs must be positive")
	}
	if m.LeftBehindProcessedTTL > m.LeftBehindTTL {
		return fmt.Errorf("LEFT_BEHIND_PROCESSED_TTL must not exceed LEFT_BEHIND_TTL")
	}
	if m.TombstoneTTL <= 0 {
		return fmt.Errorf("TOMBSTONE_TTL must be positive")
	}
	if m.ScanPageSize <= 0 {
		return fmt.Errorf("MATCH_SCAN_PAGE_SIZE must be positive")
	}
	if m.TeardownTimeout <= 0 {
		return fmt.Errorf("TEARDOWN_TIMEOUT must be positive")
	}
	if m.Stats.MaxPlausibleDuration <= 0 {
		return fmt.Errorf("STATS_MAX_PLAUSIBLE_DURATION must be positive")
	}

	rl := c.Server.RateLimit
	if rl.Enabled && (rl.RequestsPerSecond <= 0 || rl.Burst <= 0 || rl.IdleTTL <= 0) {
		return fmt.Errorf("rate limit requires positive RATE_LIMIT_RPS, RATE_LIMIT_BURST and RATE_LIMIT_IDLE_TTL")
	}
	return nil
}

// ==============================================
// Environment-specific Configuration
// ==============================================

func (c *Config) ApplyEnvironmentOverrides() {
	switch c.App.Environment {
	case "development":
		c.applyDevelopmentOverrides()
	case "production":
		c.applyProductionOverrides()
	}
}

func (c *Config) applyDevelopmentOverrides() {
	c.App.Debug = true
	c.Server.CORS.AllowedOrigins = append(c.Server.CORS.AllowedOrigins, "http://localhost:3001")
}

func (c *Config) applyProductionOverrides() {
	c.App.Debug = false
}
