package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg, err := LoadFrom(map[string]string{"DB_URL": "postgres://localhost/demo"})
		require.NoError(t, err)

		assert.Equal(t, "postgres", cfg.DBDriver)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "local", cfg.BroadcastDriver)
		assert.Equal(t, "https://tavusapi.com", cfg.ProviderBaseURL)
		assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
		assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
		assert.False(t, cfg.WebhookAuthConfigured())
	})

	t.Run("reads secrets and drivers", func(t *testing.T) {
		cfg, err := LoadFrom(map[string]string{
			"DB_URL":               "file:demo.db",
			"DB_DRIVER":            "sqlite",
			"BROADCAST_DRIVER":     "nats",
			"TAVUS_WEBHOOK_SECRET": "whsec",
			"PORT":                 "9000",
		})
		require.NoError(t, err)

		assert.Equal(t, "sqlite", cfg.DBDriver)
		assert.Equal(t, "nats", cfg.BroadcastDriver)
		assert.Equal(t, "whsec", cfg.WebhookSecret.Value())
		assert.Equal(t, 9000, cfg.Port)
		assert.True(t, cfg.WebhookAuthConfigured())
	})

	t.Run("requires DB_URL", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DB_URL required")
	})

	t.Run("rejects unknown drivers", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{"DB_URL": "x", "DB_DRIVER": "mysql"})
		assert.Error(t, err)

		_, err = LoadFrom(map[string]string{"DB_URL": "x", "BROADCAST_DRIVER": "kafka"})
		assert.Error(t, err)
	})

	t.Run("rejects non-positive rate limits", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{"DB_URL": "x", "WEBHOOK_RATE_BURST": "0"})
		assert.Error(t, err)
	})
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "super-secret", s.Value())
	assert.True(t, s.IsSet())

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}
