package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	DBAdapter  string
	SQLiteFile string
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Sessions
	JwtSecret       string
	AccessTokenDays int

	// Blob storage
	StorageAdapter string
	UploadDir      string
	S3Region       string
	S3Bucket       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	// Events
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Payments (NOWPayments)
	NowPaymentsAPIKey string
	NowPaymentsIPNKey string

	FrontendHost string
	BackendHost  string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable" // local development default
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

func New() (*Config, error) {
	c := &Config{
		Port:      getenv("PORT", "8080"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "text"),

		DBAdapter:  getenv("DB_ADAPTER", "postgres"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/appbase.db"),

		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "appbase")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "appbase")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),

		JwtSecret: getenv("JWT_SECRET_KEY", "change-me"),

		StorageAdapter: getenv("STORAGE_ADAPTER", "local"),
		UploadDir:      getenv("UPLOAD_DIR", "./uploads"),
		S3Region:       getenv("S3_REGION", "us-east-1"),
		S3Bucket:       getenv("S3_BUCKET", ""),
		S3Endpoint:     getenv("S3_ENDPOINT", ""),
		S3AccessKey:    getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getenv("S3_SECRET_KEY", ""),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		NowPaymentsAPIKey: getenv("NOWPAYMENTS_API_KEY", ""),
		NowPaymentsIPNKey: getenv("NOWPAYMENTS_IPN_KEY", ""),

		FrontendHost: getenv("FRONTEND_HOST", "localhost:3000"),
		BackendHost:  getenv("BACKEND_HOST", "localhost:8080"),
	}

	days, err := getenvInt("ACCESS_TOKEN_EXPIRES_DAYS", 30)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("ACCESS_TOKEN_EXPIRES_DAYS must be positive, got %d", days)
	}
	c.AccessTokenDays = days

	redisDB, err := getenvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	c.RedisDB = redisDB

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	switch c.StorageAdapter {
	case "local":
		if c.UploadDir == "" {
			return nil, errors.New("UPLOAD_DIR must be set when STORAGE_ADAPTER=local")
		}
	case "s3":
		if c.S3Bucket == "" {
			return nil, errors.New("S3_BUCKET must be set when STORAGE_ADAPTER=s3")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_ADAPTER: %s (supported: local, s3)", c.StorageAdapter)
	}

	// Validate JWT secret in production
	env := strings.ToLower(getenv("ENV", ""))
	if env == "production" || env == "prod" {
		if c.JwtSecret == "" || c.JwtSecret == "change-me" {
			return nil, errors.New("JWT_SECRET_KEY must be set in production")
		}
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
