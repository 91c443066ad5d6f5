package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Server     ServerConfig
	Ingest     IngestConfig
	Quota      QuotaConfig
	Session    SessionConfig
	Slack      SlackConfig
	SelfHosted bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// IngestConfig tunes the line buffer and processing workers.
type IngestConfig struct {
	BufferMaxSize   int
	BatchSize       int
	FlushInterval   time.Duration
	Workers         int
	StoreInterval   time.Duration
	MetricsInterval time.Duration
}

// QuotaConfig tunes client-wide rate limiting.
type QuotaConfig struct {
	BurstPerSecond int
	SweepInterval  time.Duration
	SweepMaxAge    time.Duration
}

// SessionConfig tunes the session registry.
type SessionConfig struct {
	MaxSessions   int
	SweepInterval time.Duration
	IdleAfter     time.Duration
	StaleAfter    time.Duration
}

// SlackConfig holds the kill/wipe announcer settings. Empty BotToken
// disables the announcer.
type SlackConfig struct {
	BotToken  string
	ChannelID string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (DB password, Slack token) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("LODESTONE_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("LODESTONE_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("LODESTONE_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("LODESTONE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("LODESTONE_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	bufferMax, err := getEnvInt("LODESTONE_BUFFER_MAX_SIZE", 5000)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	batchSize, err := getEnvInt("LODESTONE_BATCH_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	flushInterval, err := getEnvDuration("LODESTONE_FLUSH_INTERVAL", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	workers, err := getEnvInt("LODESTONE_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	storeInterval, err := getEnvDuration("LODESTONE_STORE_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	metricsInterval, err := getEnvDuration("LODESTONE_METRICS_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	burst, err := getEnvInt("LODESTONE_BURST_PER_SECOND", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	quotaSweep, err := getEnvDuration("LODESTONE_QUOTA_SWEEP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	quotaMaxAge, err := getEnvDuration("LODESTONE_QUOTA_SWEEP_MAX_AGE", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxSessions, err := getEnvInt("LODESTONE_MAX_SESSIONS", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sessionSweep, err := getEnvDuration("LODESTONE_SESSION_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	idleAfter, err := getEnvDuration("LODESTONE_SESSION_IDLE_AFTER", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	staleAfter, err := getEnvDuration("LODESTONE_SESSION_STALE_AFTER", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("LODESTONE_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("LODESTONE_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("LODESTONE_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("LODESTONE_DB_USER", "lodestone"),
			Password: getEnv("LODESTONE_DB_PASSWORD", ""),
			DBName:   getEnv("LODESTONE_DB_NAME", "lodestone_dev"),
			SSLMode:  getEnv("LODESTONE_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("LODESTONE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("LODESTONE_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Server: ServerConfig{
			Addr:         getEnv("LODESTONE_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Ingest: IngestConfig{
			BufferMaxSize:   bufferMax,
			BatchSize:       batchSize,
			FlushInterval:   flushInterval,
			Workers:         workers,
			StoreInterval:   storeInterval,
			MetricsInterval: metricsInterval,
		},
		Quota: QuotaConfig{
			BurstPerSecond: burst,
			SweepInterval:  quotaSweep,
			SweepMaxAge:    quotaMaxAge,
		},
		Session: SessionConfig{
			MaxSessions:   maxSessions,
			SweepInterval: sessionSweep,
			IdleAfter:     idleAfter,
			StaleAfter:    staleAfter,
		},
		Slack: SlackConfig{
			BotToken:  getEnv("LODESTONE_SLACK_BOT_TOKEN", ""),
			ChannelID: getEnv("LODESTONE_SLACK_CHANNEL_ID", ""),
		},
		SelfHosted: selfHosted,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// DB SSL mode warning for non-self-hosted deployments.
	if c.Database.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("LODESTONE_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("LODESTONE_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("LODESTONE_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("LODESTONE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("LODESTONE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Ingest.BufferMaxSize < 1 {
		return fmt.Errorf("LODESTONE_BUFFER_MAX_SIZE must be >= 1, got %d", c.Ingest.BufferMaxSize)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("LODESTONE_BATCH_SIZE must be >= 1, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.BatchSize > c.Ingest.BufferMaxSize {
		return fmt.Errorf("LODESTONE_BATCH_SIZE must be <= LODESTONE_BUFFER_MAX_SIZE, got %d > %d",
			c.Ingest.BatchSize, c.Ingest.BufferMaxSize)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("LODESTONE_WORKERS must be >= 1, got %d", c.Ingest.Workers)
	}
	if c.Quota.BurstPerSecond < 1 {
		return fmt.Errorf("LODESTONE_BURST_PER_SECOND must be >= 1, got %d", c.Quota.BurstPerSecond)
	}
	if c.Session.MaxSessions < 1 {
		return fmt.Errorf("LODESTONE_MAX_SESSIONS must be >= 1, got %d", c.Session.MaxSessions)
	}
	if c.Slack.BotToken != "" && c.Slack.ChannelID == "" {
		return fmt.Errorf("LODESTONE_SLACK_CHANNEL_ID is required when LODESTONE_SLACK_BOT_TOKEN is set")
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
