package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	StorageDriver       string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	MigrationsDir       string
	Port                string
	APIToken            string
	EnableIMAPIdle      bool
	NetworkTimeout      time.Duration
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILCHAT_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("MAILCHAT_ENCRYPTION_KEY_BASE64"),
		StorageDriver:       getEnvOrDefault("MAILCHAT_STORAGE_DRIVER", "postgres"),
		DBHost:              getEnvOrDefault("MAILCHAT_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("MAILCHAT_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("MAILCHAT_DB_USER", "mailchat"),
		DBPassword:          os.Getenv("MAILCHAT_DB_PASSWORD"),
		DBName:              getEnvOrDefault("MAILCHAT_DB_NAME", "mailchat"),
		DBSSLMode:           getEnvOrDefault("MAILCHAT_DB_SSLMODE", "disable"),
		MigrationsDir:       getEnvOrDefault("MAILCHAT_MIGRATIONS_DIR", "migrations"),
		Port:                getEnvOrDefault("PORT", "8000"),
		APIToken:            os.Getenv("MAILCHAT_API_TOKEN"),
		EnableIMAPIdle:      getEnvBool("MAILCHAT_IMAP_IDLE", false),
		NetworkTimeout:      getEnvDuration("MAILCHAT_NETWORK_TIMEOUT", 20*time.Second),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILCHAT_ENCRYPTION_KEY_BASE64 is required")
	}

	switch c.StorageDriver {
	case "postgres":
		if c.DBPassword == "" {
			return fmt.Errorf("MAILCHAT_DB_PASSWORD is required for the postgres storage driver")
		}
	case "memory":
		// No database settings needed.
	default:
		return fmt.Errorf("unknown storage driver %q (want postgres or memory)", c.StorageDriver)
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
