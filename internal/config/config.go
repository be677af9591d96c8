package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"circulation/internal/models"
)

// Storage drivers
const (
	DriverMemory     = "memory"
	DriverClickHouse = "clickhouse"
	DriverPostgres   = "postgres"
)

// Config holds the application configuration
type Config struct {
	// Storage driver: memory, clickhouse or postgres
	StorageDriver string

	// ClickHouse configuration
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	// Postgres configuration
	PostgresDSN string

	// Lending rules
	LoanPeriodDays int

	// HTTP server
	Port string

	// Logging
	LogLevel  string
	LogFormat string

	// Telegram bot (disabled when TelegramToken is empty)
	TelegramToken  string
	AllowedUserIDs []int64
	WebhookMode    bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL     string // URL for webhook (required if WebhookMode is true)
}

// UseMockDB reports whether the in-memory store is selected
func (c *Config) UseMockDB() bool {
	return c.StorageDriver == DriverMemory
}

// BotEnabled reports whether the Telegram bot should be started
func (c *Config) BotEnabled() bool {
	return c.TelegramToken != ""
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	// Storage driver (USE_MOCK_DB=true is kept as a shortcut for memory)
	config.StorageDriver = strings.ToLower(getEnv("STORAGE_DRIVER", DriverClickHouse))
	if os.Getenv("USE_MOCK_DB") == "true" {
		config.StorageDriver = DriverMemory
	}

	switch config.StorageDriver {
	case DriverMemory:
	case DriverClickHouse:
		if err := loadClickHouse(config); err != nil {
			return nil, err
		}
	case DriverPostgres:
		config.PostgresDSN = os.Getenv("POSTGRES_DSN")
		if config.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required when STORAGE_DRIVER is postgres")
		}
	default:
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q (want memory, clickhouse or postgres)", config.StorageDriver)
	}

	// Loan period (default: 14 days)
	config.LoanPeriodDays = models.DefaultLoanPeriodDays
	if v := os.Getenv("LOAN_PERIOD_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("invalid LOAN_PERIOD_DAYS: %q", v)
		}
		config.LoanPeriodDays = days
	}

	// Telegram bot (optional)
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken != "" {
		allowedIDsStr := os.Getenv("ALLOWED_USER_IDS")
		if allowedIDsStr == "" {
			return nil, fmt.Errorf("ALLOWED_USER_IDS is required when TELEGRAM_BOT_TOKEN is set (comma-separated list of Telegram user IDs)")
		}

		for _, idStr := range strings.Split(allowedIDsStr, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID in ALLOWED_USER_IDS: %s", idStr)
			}
			config.AllowedUserIDs = append(config.AllowedUserIDs, id)
		}

		config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
		if config.WebhookMode {
			config.WebhookURL = os.Getenv("WEBHOOK_URL")
			if config.WebhookURL == "" {
				return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
			}
		}
	}

	return config, nil
}

func loadClickHouse(config *Config) error {
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.ClickHouseHost == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is required when STORAGE_DRIVER is clickhouse")
	}

	portStr := os.Getenv("CLICKHOUSE_PORT")
	if portStr == "" {
		config.ClickHousePort = 9000 // Default ClickHouse native port
	} else {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
		}
		config.ClickHousePort = port
	}

	config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
	config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
	config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD") // optional
	config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	return nil
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
