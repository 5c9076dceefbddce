// Package config loads runtime settings from the environment and an optional
// .env file, and builds the process logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
)

type Config struct {
	// HTTP
	HTTPPort    int
	CORSOrigins []string

	// Database
	DatabasePath string
	StoreTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Reminders
	ReminderEnabled  bool
	ReminderInterval time.Duration
	ReminderTimezone string
	NotifyRate       rate.Limit

	// E-mail
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Telegram
	TelegramURL      string
	TelegramBotToken string
}

// Load reads the given .env files (default ".env"), then the environment.
// Variables already set in the environment win over the files, and a
// missing file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}

	c := &Config{}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(loadEnvInt(&c.HTTPPort, "HTTP_PORT", 8080))
	loadEnvStringSlice(&c.CORSOrigins, "CORS_ORIGINS", nil)

	loadEnvString(&c.DatabasePath, "DATABASE_PATH", "library.db")
	collect(loadEnvDuration(&c.StoreTimeout, "STORE_TIMEOUT", 5*time.Second))

	loadEnvString(&c.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&c.LogFormat, "LOG_FORMAT", "text")

	collect(loadEnvBool(&c.ReminderEnabled, "REMINDER_ENABLED", true))
	collect(loadEnvDuration(&c.ReminderInterval, "REMINDER_INTERVAL", 24*time.Hour))
	loadEnvString(&c.ReminderTimezone, "REMINDER_TIMEZONE", "Europe/Moscow")
	collect(loadEnvRate(&c.NotifyRate, "NOTIFY_RATE", 5))

	loadEnvString(&c.SMTPHost, "SMTP_HOST", "")
	collect(loadEnvInt(&c.SMTPPort, "SMTP_PORT", 587))
	loadEnvString(&c.SMTPUsername, "SMTP_USERNAME", "")
	loadEnvString(&c.SMTPPassword, "SMTP_PASSWORD", "")
	loadEnvString(&c.SMTPFrom, "SMTP_FROM", "")

	loadEnvString(&c.TelegramURL, "TELEGRAM_URL", "https://api.telegram.org/bot")
	loadEnvString(&c.TelegramBotToken, "TELEGRAM_BOT_TOKEN", "")

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var problems []string

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		problems = append(problems, "HTTP_PORT must be between 1 and 65535")
	}
	if c.DatabasePath == "" {
		problems = append(problems, "DATABASE_PATH must not be empty")
	}
	if c.StoreTimeout <= 0 {
		problems = append(problems, "STORE_TIMEOUT must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, "LOG_FORMAT must be text or json")
	}
	if c.ReminderEnabled && c.ReminderInterval <= 0 {
		problems = append(problems, "REMINDER_INTERVAL must be positive")
	}
	if _, err := time.LoadLocation(c.ReminderTimezone); err != nil {
		problems = append(problems, fmt.Sprintf("REMINDER_TIMEZONE: %v", err))
	}
	if c.NotifyRate <= 0 {
		problems = append(problems, "NOTIFY_RATE must be positive")
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		problems = append(problems, "SMTP_FROM is required when SMTP_HOST is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the zone reminders are evaluated in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ReminderTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) EmailEnabled() bool    { return c.SMTPHost != "" }
func (c *Config) TelegramEnabled() bool { return c.TelegramBotToken != "" }

// =============================================================================
// LOGGER
// =============================================================================

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
	return level, nil
}

// NewLogger builds a text or JSON slog logger writing to w.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// =============================================================================
// ENV HELPERS
// =============================================================================

func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) {
	if value := os.Getenv(key); value != "" {
		*target = strings.Split(value, ",")
		for i, v := range *target {
			(*target)[i] = strings.TrimSpace(v)
		}
	} else {
		*target = defaultValue
	}
}

// loadEnvRate accepts "N", "N/s", "N/m" or "N/h".
func loadEnvRate(target *rate.Limit, key string, defaultPerSecond float64) error {
	value := os.Getenv(key)
	if value == "" {
		*target = rate.Limit(defaultPerSecond)
		return nil
	}

	count, unit, _ := strings.Cut(value, "/")
	n, err := strconv.ParseFloat(strings.TrimSpace(count), 64)
	if err != nil {
		return fmt.Errorf("invalid rate value for %s: %v", key, err)
	}
	if n <= 0 {
		return fmt.Errorf("invalid rate value for %s: must be positive, got %q", key, value)
	}
	switch strings.TrimSpace(unit) {
	case "", "s":
		*target = rate.Limit(n)
	case "m":
		*target = rate.Limit(n / 60)
	case "h":
		*target = rate.Limit(n / 3600)
	default:
		return fmt.Errorf("invalid rate unit for %s: %q", key, unit)
	}
	return nil
}
