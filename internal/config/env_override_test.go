package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("APP_ENV and PORT", func(t *testing.T) {
		t.Setenv("APP_ENV", "local")
		t.Setenv("PORT", "3000")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.IsLocal())
		assert.Equal(t, 3000, cfg.Server.Port)
	})

	t.Run("malformed PORT is ignored", func(t *testing.T) {
		t.Setenv("PORT", "eighty")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 8080, cfg.Server.Port)
	})

	t.Run("Precedence: NEXT_PUBLIC_API_URL overrides API_BASE_URL", func(t *testing.T) {
		t.Setenv("API_BASE_URL", "http://internal:8000")
		t.Setenv("NEXT_PUBLIC_API_URL", "https://api.example.jp")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "https://api.example.jp", cfg.Backend.BaseURL)
	})

	t.Run("API_BASE_URL alone", func(t *testing.T) {
		t.Setenv("API_BASE_URL", "http://internal:8000")
		t.Setenv("NEXT_PUBLIC_API_URL", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "http://internal:8000", cfg.Backend.BaseURL)
	})

	t.Run("CATALOG_PATH switches source", func(t *testing.T) {
		t.Setenv("CATALOG_PATH", "/srv/luggage.json")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "file", cfg.Catalog.Source)
		assert.Equal(t, "/srv/luggage.json", cfg.Catalog.Path)
	})

	t.Run("storage, postal and logging", func(t *testing.T) {
		t.Setenv("SESSION_BACKEND", "sqlite")
		t.Setenv("DATABASE_URL", "file:/tmp/q.db")
		t.Setenv("BADGER_DIR", "/tmp/badger")
		t.Setenv("POSTAL_LOOKUP_URL", "http://postal.test")
		t.Setenv("LOG_LEVEL", "debug")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "sqlite", cfg.Storage.Driver)
		assert.Equal(t, "file:/tmp/q.db", cfg.Storage.DSN)
		assert.Equal(t, "/tmp/badger", cfg.Storage.Dir)
		assert.Equal(t, "http://postal.test", cfg.Postal.BaseURL)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}
