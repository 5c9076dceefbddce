package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var keys = []string{
	"HTTP_PORT", "CORS_ORIGINS", "DATABASE_PATH", "STORE_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT",
	"REMINDER_ENABLED", "REMINDER_INTERVAL", "REMINDER_TIMEZONE", "NOTIFY_RATE",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"TELEGRAM_URL", "TELEGRAM_BOT_TOKEN",
}

// clearEnv blanks every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	c, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.HTTPPort)
	assert.Equal(t, "library.db", c.DatabasePath)
	assert.Equal(t, 5*time.Second, c.StoreTimeout)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "text", c.LogFormat)
	assert.True(t, c.ReminderEnabled)
	assert.Equal(t, 24*time.Hour, c.ReminderInterval)
	assert.Equal(t, "Europe/Moscow", c.ReminderTimezone)
	assert.Equal(t, rate.Limit(5), c.NotifyRate)
	assert.Equal(t, 587, c.SMTPPort)
	assert.Equal(t, "https://api.telegram.org/bot", c.TelegramURL)
	assert.Nil(t, c.CORSOrigins)
	assert.False(t, c.EmailEnabled())
	assert.False(t, c.TelegramEnabled())
	assert.Equal(t, "Europe/Moscow", c.Location().String())
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	clearEnv(t)
	for _, k := range keys {
		os.Unsetenv(k)
	}

	path := filepath.Join(t.TempDir(), ".env")
	content := "HTTP_PORT=9090\nTELEGRAM_BOT_TOKEN=abc\nCORS_ORIGINS=http://a.test, http://b.test\nNOTIFY_RATE=30/m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("DATABASE_PATH", "/tmp/lib.db")
	t.Setenv("HTTP_PORT", "7070")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, c.HTTPPort, "environment wins over file")
	assert.Equal(t, "/tmp/lib.db", c.DatabasePath)
	assert.Equal(t, "abc", c.TelegramBotToken)
	assert.True(t, c.TelegramEnabled())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.CORSOrigins)
	assert.Equal(t, rate.Every(2*time.Second), c.NotifyRate)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"port":      {"HTTP_PORT": "70000"},
		"port nan":  {"HTTP_PORT": "eighty"},
		"timeout":   {"STORE_TIMEOUT": "soon"},
		"level":     {"LOG_LEVEL": "loud"},
		"format":    {"LOG_FORMAT": "xml"},
		"zone":      {"REMINDER_TIMEZONE": "Mars/Olympus"},
		"rate":      {"NOTIFY_RATE": "5/d"},
		"rate zero": {"NOTIFY_RATE": "0/m"},
		"rate neg":  {"NOTIFY_RATE": "-1"},
		"smtp":      {"SMTP_HOST": "mail.test"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestLoad_FractionalRate(t *testing.T) {
	cases := map[string]rate.Limit{
		"0.5/m": rate.Every(2 * time.Minute),
		"1.5/h": rate.Every(40 * time.Minute),
		"0.2":   rate.Limit(0.2),
	}
	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("NOTIFY_RATE", value)

			c, err := Load(filepath.Join(t.TempDir(), "missing.env"))

			require.NoError(t, err)
			assert.InDelta(t, float64(want), float64(c.NotifyRate), 1e-12)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", slog.Int("n", 1))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"n":1`)

	buf.Reset()
	NewLogger(&buf, "debug", "text").Debug("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
