package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Telegram TelegramConfig
	Support  SupportConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr keeps pending actions in memory.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Format is "json" or "console".
	Format string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	// BootstrapLogin and BootstrapPassword seed one agent at startup when both are set.
	BootstrapLogin    string
	BootstrapPassword string
}

// TelegramConfig configures the chat transport. An empty token runs the log-only transport.
type TelegramConfig struct {
	Token              string
	SupportChatID      int64
	ReviewsThreadID    int64
	PollTimeoutSeconds int
}

// SupportConfig tunes the ticket core.
type SupportConfig struct {
	LongPollDefaultSeconds   int
	LongPollMaxSeconds       int
	PendingActionTTLSeconds  int
	CloseReward              float64
	StreamBuffer             int
	TerminalRetentionSeconds int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	supportChatID, err := strconv.ParseInt(getEnv("TELEGRAM_SUPPORT_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_SUPPORT_CHAT_ID: %w", err)
	}
	reviewsThreadID, err := strconv.ParseInt(getEnv("TELEGRAM_REVIEWS_THREAD_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_REVIEWS_THREAD_ID: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-relay"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 60),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "support-relay:"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			BootstrapLogin:        os.Getenv("AUTH_BOOTSTRAP_AGENT_LOGIN"),
			BootstrapPassword:     os.Getenv("AUTH_BOOTSTRAP_AGENT_PASSWORD"),
		},
		Telegram: TelegramConfig{
			Token:              os.Getenv("TELEGRAM_BOT_TOKEN"),
			SupportChatID:      supportChatID,
			ReviewsThreadID:    reviewsThreadID,
			PollTimeoutSeconds: getEnvAsInt("TELEGRAM_POLL_TIMEOUT_SECONDS", 50),
		},
		Support: SupportConfig{
			LongPollDefaultSeconds:   getEnvAsInt("SUPPORT_LONGPOLL_DEFAULT_SECONDS", 30),
			LongPollMaxSeconds:       getEnvAsInt("SUPPORT_LONGPOLL_MAX_SECONDS", 55),
			PendingActionTTLSeconds:  getEnvAsInt("SUPPORT_PENDING_ACTION_TTL_SECONDS", 600),
			CloseReward:              getEnvAsFloat("SUPPORT_CLOSE_REWARD", 50),
			StreamBuffer:             getEnvAsInt("SUPPORT_STREAM_BUFFER", 64),
			TerminalRetentionSeconds: getEnvAsInt("SUPPORT_TERMINAL_RETENTION_SECONDS", 600),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot run with.
func (c *Config) Validate() error {
	if c.Telegram.Token != "" && c.Telegram.SupportChatID == 0 {
		return errors.New("TELEGRAM_SUPPORT_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.Support.LongPollMaxSeconds <= 0 {
		return errors.New("SUPPORT_LONGPOLL_MAX_SECONDS must be positive")
	}
	if c.Support.LongPollDefaultSeconds > c.Support.LongPollMaxSeconds {
		return errors.New("SUPPORT_LONGPOLL_DEFAULT_SECONDS exceeds SUPPORT_LONGPOLL_MAX_SECONDS")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// LongPollDefault is the wait used when a caller does not pass a timeout.
func (s SupportConfig) LongPollDefault() time.Duration {
	return time.Duration(s.LongPollDefaultSeconds) * time.Second
}

// LongPollMax caps caller supplied long-poll timeouts.
func (s SupportConfig) LongPollMax() time.Duration {
	return time.Duration(s.LongPollMaxSeconds) * time.Second
}

// PendingActionTTL is how long a rename or rating-comment prompt stays armed.
func (s SupportConfig) PendingActionTTL() time.Duration {
	return time.Duration(s.PendingActionTTLSeconds) * time.Second
}

// TerminalRetention is how long the bus remembers final updates of closed tickets.
func (s SupportConfig) TerminalRetention() time.Duration {
	return time.Duration(s.TerminalRetentionSeconds) * time.Second
}

// PollTimeout is the getUpdates long-poll window.
func (t TelegramConfig) PollTimeout() time.Duration {
	return time.Duration(t.PollTimeoutSeconds) * time.Second
}

// Enabled reports whether the Telegram transport should run.
func (t TelegramConfig) Enabled() bool {
	return t.Token != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
