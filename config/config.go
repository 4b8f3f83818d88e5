package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	AWS         AWSConfig
	RabbitMQ    RabbitMQConfig
	Booking     BookingConfig
	Idempotency IdempotencyConfig
	Worker      WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/reservations?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the reservation exports bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportsBucket        string
	S3Endpoint           string // optional, e.g. http://localhost:9000 for MinIO
	PresignExpireMinutes int
}

// RabbitMQConfig enables AMQP publishing of reservation events when URL is set.
type RabbitMQConfig struct {
	URL string
}

// BookingConfig tunes the reservation transaction.
type BookingConfig struct {
	TxRetries    int
	RetryBackoff time.Duration
}

// IdempotencyConfig selects the record store and record lifetimes.
type IdempotencyConfig struct {
	Backend    string // postgres | redis | memory
	Retention  time.Duration
	StaleAfter time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	ReapSchedule string // cron spec for deleting expired idempotency records
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "reservations"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportsBucket:        getEnv("AWS_S3_EXPORTS_BUCKET", "reservation-exports"),
			S3Endpoint:           getEnv("AWS_S3_ENDPOINT", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		RabbitMQ: RabbitMQConfig{
			URL: getEnv("RABBITMQ_URL", ""),
		},
		Booking: BookingConfig{
			TxRetries:    getEnvInt("BOOKING_TX_RETRIES", 3),
			RetryBackoff: getEnvDuration("BOOKING_TX_RETRY_BACKOFF", 20*time.Millisecond),
		},
		Idempotency: IdempotencyConfig{
			Backend:    strings.ToLower(getEnv("IDEMPOTENCY_BACKEND", "postgres")),
			Retention:  getEnvDuration("IDEMPOTENCY_RETENTION", 24*time.Hour),
			StaleAfter: getEnvDuration("IDEMPOTENCY_STALE_AFTER", 2*time.Minute),
		},
		Worker: WorkerConfig{
			ReapSchedule: getEnv("WORKER_REAP_SCHEDULE", "*/15 * * * *"),
		},
	}
	switch cfg.Idempotency.Backend {
	case "postgres", "redis", "memory":
	default:
		return nil, fmt.Errorf("IDEMPOTENCY_BACKEND must be postgres, redis or memory, got %q", cfg.Idempotency.Backend)
	}
	if cfg.Booking.TxRetries < 0 {
		return nil, fmt.Errorf("BOOKING_TX_RETRIES must not be negative")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
