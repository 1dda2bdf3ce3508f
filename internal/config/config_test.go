package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.NotEmpty(t, cfg.DatabaseDSN)
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("BASE_URL", "https://expenses.example.com")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "env-secret", cfg.JWTSecret)
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.Equal(t, "https://expenses.example.com", cfg.BaseURL)
}

func TestLoadIgnoresBadNumbers(t *testing.T) {
	t.Setenv("SMTP_PORT", "not-a-number")

	cfg := Load()

	assert.Equal(t, 587, cfg.SMTPPort, "unparseable numeric env var keeps the default")
}
