package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Env         string
	Port        int
	APIPrefix   string
	StoreDriver string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Ledger        LedgerConfig
	Leaderboard   LeaderboardConfig
	Notifications NotificationConfig
	Audit         AuditConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AppName      string
	LockTimeout  time.Duration
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	AppName   string
	OpTimeout time.Duration
}

// JWTConfig describes how tokens minted by the identity provider are verified.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LedgerConfig tunes the write path of the ledger.
type LedgerConfig struct {
	MaxRequestXP    int64
	ConflictRetries int
	ConflictBackoff time.Duration
	DailyLoginXP    int64
}

// LeaderboardConfig governs leaderboard paging and caching.
type LeaderboardConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	MaxLimit     int
}

// NotificationConfig controls event fan-out to the notification collaborator.
type NotificationConfig struct {
	Enabled    bool
	Channel    string
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// AuditConfig schedules the periodic ledger consistency sweep.
type AuditConfig struct {
	Enabled     bool
	Interval    time.Duration
	Concurrency int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER")))
	if cfg.StoreDriver != StoreDriverMemory {
		cfg.StoreDriver = StoreDriverPostgres
	}

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AppName:      v.GetString("APP_NAME"),
		LockTimeout:  parseDuration(v.GetString("DB_LOCK_TIMEOUT"), 2*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		AppName:   v.GetString("APP_NAME"),
		OpTimeout: parseDuration(v.GetString("REDIS_OP_TIMEOUT"), 500*time.Millisecond),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Ledger = LedgerConfig{
		MaxRequestXP:    v.GetInt64("LEDGER_MAX_REQUEST_XP"),
		ConflictRetries: v.GetInt("LEDGER_CONFLICT_RETRIES"),
		ConflictBackoff: parseDuration(v.GetString("LEDGER_CONFLICT_BACKOFF"), 25*time.Millisecond),
		DailyLoginXP:    v.GetInt64("DAILY_LOGIN_XP"),
	}

	cfg.Leaderboard = LeaderboardConfig{
		CacheEnabled: v.GetBool("ENABLE_LEADERBOARD_CACHE"),
		CacheTTL:     parseDuration(v.GetString("LEADERBOARD_CACHE_TTL"), 30*time.Second),
		MaxLimit:     v.GetInt("LEADERBOARD_MAX_LIMIT"),
	}

	cfg.Notifications = NotificationConfig{
		Enabled:    v.GetBool("ENABLE_NOTIFICATIONS"),
		Channel:    v.GetString("NOTIFY_CHANNEL"),
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		BufferSize: v.GetInt("NOTIFY_BUFFER"),
		MaxRetries: v.GetInt("NOTIFY_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), time.Second),
	}

	cfg.Audit = AuditConfig{
		Enabled:     v.GetBool("ENABLE_AUDIT"),
		Interval:    parseDuration(v.GetString("AUDIT_INTERVAL"), time.Hour),
		Concurrency: v.GetInt("AUDIT_CONCURRENCY"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("APP_NAME", "xp-ledger")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "xp_ledger")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_LOCK_TIMEOUT", "2s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_OP_TIMEOUT", "500ms")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LEDGER_MAX_REQUEST_XP", 10000)
	v.SetDefault("LEDGER_CONFLICT_RETRIES", 3)
	v.SetDefault("LEDGER_CONFLICT_BACKOFF", "25ms")
	v.SetDefault("DAILY_LOGIN_XP", 10)

	v.SetDefault("ENABLE_LEADERBOARD_CACHE", false)
	v.SetDefault("LEADERBOARD_CACHE_TTL", "30s")
	v.SetDefault("LEADERBOARD_MAX_LIMIT", 100)

	v.SetDefault("ENABLE_NOTIFICATIONS", false)
	v.SetDefault("NOTIFY_CHANNEL", "xp-ledger-events")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_BUFFER", 256)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "1s")

	v.SetDefault("ENABLE_AUDIT", false)
	v.SetDefault("AUDIT_INTERVAL", "1h")
	v.SetDefault("AUDIT_CONCURRENCY", 4)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
