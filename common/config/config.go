package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Sync      SyncConfig
	Platforms map[string]PlatformConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings for the job queue
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// SyncConfig holds global synchronization settings
type SyncConfig struct {
	RetryAttempts  int
	RetryBaseDelay time.Duration
	WorkerCount    int
	JobTimeout     time.Duration
	StatsWindow    time.Duration
}

// PlatformConfig holds per-platform credentials and rate limits.
// Each platform gets its own window and caps; they are independent
// and may differ arbitrarily.
type PlatformConfig struct {
	ClientID           string
	ClientSecret       string
	WebhookSecret      string
	APIBaseURL         string
	RequestsPerWindow  int
	WindowDuration     time.Duration
	ConcurrentRequests int
	SyncInterval       time.Duration
	PageSize           int
}

// Platform names recognized by the sync engine.
const (
	PlatformTicketing = "ticketing"
	PlatformPatronage = "patronage"
	PlatformMailer    = "email-marketing"
	PlatformChat      = "chat"
)

// PlatformNames lists all configured platform keys in a stable order.
func PlatformNames() []string {
	return []string{PlatformTicketing, PlatformPatronage, PlatformMailer, PlatformChat}
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "membersync"),
			User:        getEnv("POSTGRES_USER", "membersync"),
			Password:    getEnv("POSTGRES_PASSWORD", "membersync"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 5),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Sync: SyncConfig{
			RetryAttempts:  getEnvInt("SYNC_RETRY_ATTEMPTS", 3),
			RetryBaseDelay: getEnvDuration("SYNC_RETRY_BASE_DELAY", 2*time.Second),
			WorkerCount:    getEnvInt("SYNC_WORKER_COUNT", 5),
			JobTimeout:     getEnvDuration("SYNC_JOB_TIMEOUT", 2*time.Minute),
			StatsWindow:    getEnvDuration("SYNC_STATS_WINDOW", 24*time.Hour),
		},
		Platforms: map[string]PlatformConfig{
			// High-volume ticketing API tolerates a larger window and count
			PlatformTicketing: loadPlatform(PlatformTicketing, PlatformConfig{
				APIBaseURL:         "https://api.ticketing.example.com/v3",
				RequestsPerWindow:  1000,
				WindowDuration:     time.Hour,
				ConcurrentRequests: 10,
				SyncInterval:       6 * time.Hour,
				PageSize:           100,
			}),
			PlatformPatronage: loadPlatform(PlatformPatronage, PlatformConfig{
				APIBaseURL:         "https://api.patronage.example.com/v2",
				RequestsPerWindow:  100,
				WindowDuration:     time.Minute,
				ConcurrentRequests: 5,
				SyncInterval:       12 * time.Hour,
				PageSize:           50,
			}),
			PlatformMailer: loadPlatform(PlatformMailer, PlatformConfig{
				APIBaseURL:         "https://api.mailer.example.com/3.0",
				RequestsPerWindow:  500,
				WindowDuration:     time.Hour,
				ConcurrentRequests: 8,
				SyncInterval:       24 * time.Hour,
				PageSize:           100,
			}),
			// Chat API is the strictest of the four
			PlatformChat: loadPlatform(PlatformChat, PlatformConfig{
				APIBaseURL:         "https://chat.example.com/api/v10",
				RequestsPerWindow:  50,
				WindowDuration:     time.Minute,
				ConcurrentRequests: 3,
				SyncInterval:       time.Hour,
				PageSize:           50,
			}),
		},
	}

	return cfg, cfg.Validate()
}

// loadPlatform overlays environment variables on per-platform defaults.
// Env keys are upper-cased with '-' replaced by '_',
// e.g. EMAIL_MARKETING_WEBHOOK_SECRET.
func loadPlatform(name string, defaults PlatformConfig) PlatformConfig {
	prefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))

	return PlatformConfig{
		ClientID:           getEnv(prefix+"_CLIENT_ID", ""),
		ClientSecret:       getEnv(prefix+"_CLIENT_SECRET", ""),
		WebhookSecret:      getEnv(prefix+"_WEBHOOK_SECRET", ""),
		APIBaseURL:         getEnv(prefix+"_API_BASE_URL", defaults.APIBaseURL),
		RequestsPerWindow:  getEnvInt(prefix+"_REQUESTS_PER_WINDOW", defaults.RequestsPerWindow),
		WindowDuration:     getEnvDuration(prefix+"_WINDOW_DURATION", defaults.WindowDuration),
		ConcurrentRequests: getEnvInt(prefix+"_CONCURRENT_REQUESTS", defaults.ConcurrentRequests),
		SyncInterval:       getEnvDuration(prefix+"_SYNC_INTERVAL", defaults.SyncInterval),
		PageSize:           getEnvInt(prefix+"_PAGE_SIZE", defaults.PageSize),
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("sync retry attempts must be >= 1")
	}

	if c.Sync.WorkerCount < 1 {
		return fmt.Errorf("sync worker count must be >= 1")
	}

	for name, platform := range c.Platforms {
		if platform.RequestsPerWindow < 1 {
			return fmt.Errorf("platform %s: requests_per_window must be >= 1", name)
		}
		if platform.ConcurrentRequests < 1 {
			return fmt.Errorf("platform %s: concurrent_requests must be >= 1", name)
		}
		if platform.WindowDuration <= 0 {
			return fmt.Errorf("platform %s: window_duration must be positive", name)
		}
		if platform.SyncInterval <= 0 {
			return fmt.Errorf("platform %s: sync_interval must be positive", name)
		}
	}

	return nil
}

// Platform returns the configuration for a platform, or false when the
// platform key is not recognized.
func (c *Config) Platform(name string) (PlatformConfig, bool) {
	platform, ok := c.Platforms[name]
	return platform, ok
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
