package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port        string
	Environment string
	CORSOrigins string

	// Storage
	DatabaseDriver string
	DatabaseURL    string // Postgres connection string
	SQLitePath     string
	TablePrefix    string

	// LLM Configuration
	AnthropicAPIKey  string
	OpenRouterAPIKey string // Enables "openrouter/<vendor>/<model>" models
	DefaultModel     string
	MaxOutputTokens  int

	// Tools
	TavilyAPIKey string
	ToolTimezone string // Default zone for current_time

	// ContinuationConfigPath points at a YAML file overriding the built-in
	// continuation defaults. Empty uses the defaults.
	ContinuationConfigPath string

	// Logging
	LogLevel    string
	LogDir      string // Empty disables file logging
	LogMaxFiles int
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", DriverSQLite),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "data/cadence.db"),
		TablePrefix:    getTablePrefix(env),

		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		DefaultModel:     getEnv("DEFAULT_MODEL", defaultModel(os.Getenv("ANTHROPIC_API_KEY"))),
		MaxOutputTokens:  getEnvInt("MAX_OUTPUT_TOKENS", 4096),

		TavilyAPIKey: getEnv("TAVILY_API_KEY", ""),
		ToolTimezone: getEnv("TOOL_TIMEZONE", "UTC"),

		ContinuationConfigPath: getEnv("CONTINUATION_CONFIG", ""),

		LogLevel:    getEnv("LOG_LEVEL", getDefaultLogLevel(env)),
		LogDir:      getEnv("LOG_DIR", ""),
		LogMaxFiles: getEnvInt("LOG_MAX_FILES", 10),
	}
}

// Validate reports configuration that would fail at startup.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.By(validPort)),
		validation.Field(&c.DatabaseDriver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DatabaseURL, validation.When(c.DatabaseDriver == DriverPostgres, validation.Required)),
		validation.Field(&c.SQLitePath, validation.When(c.DatabaseDriver == DriverSQLite, validation.Required)),
		validation.Field(&c.DefaultModel, validation.Required),
		validation.Field(&c.ToolTimezone, validation.Required, validation.By(validTimezone)),
		validation.Field(&c.MaxOutputTokens, validation.Min(1)),
		validation.Field(&c.LogMaxFiles, validation.Min(1)),
	)
}

// defaultModel falls back to the offline lorem transport when no API key is set
func defaultModel(anthropicKey string) string {
	if anthropicKey == "" {
		return "lorem/lorem-1"
	}
	return "claude-haiku-4-5-20251001"
}

// getDefaultLogLevel returns debug outside production
func getDefaultLogLevel(env string) string {
	if env == "prod" {
		return "info"
	}
	return "debug"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func validPort(value interface{}) error {
	port, err := strconv.Atoi(value.(string))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}

func validTimezone(value interface{}) error {
	if _, err := time.LoadLocation(value.(string)); err != nil {
		return fmt.Errorf("unknown timezone")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
