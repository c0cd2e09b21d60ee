package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balaji119/local-mail-forwarder-graph/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DELIVERY_WEBHOOK_URL", "http://downstream/hooks/quote")
	t.Setenv("ENABLE_POLLER", "false")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBHost)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, 30, cfg.PollIntervalSeconds)
	assert.Equal(t, 10, cfg.ClaimBatchSize)
	assert.Equal(t, 0, cfg.MaxAttempts)
	assert.Equal(t, ":2525", cfg.SMTPListenAddr)
	assert.Equal(t, "Inbox", cfg.MailboxFolder)
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.Equal(t, time.Minute, cfg.BackoffBase())
	assert.Equal(t, time.Hour, cfg.BackoffMax())
}

func TestLoad_MissingWebhookURL(t *testing.T) {
	t.Setenv("DELIVERY_WEBHOOK_URL", "")
	t.Setenv("ENABLE_POLLER", "false")

	_, err := config.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingRequired)
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			DBHost:              "db",
			DBUser:              "u",
			DBName:              "n",
			DeliveryWebhookURL:  "http://downstream",
			PollIntervalSeconds: 30,
			ClaimBatchSize:      10,
			BackoffBaseSeconds:  60,
			BackoffMaxSeconds:   3600,
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("zero poll interval", func(t *testing.T) {
		cfg := base()
		cfg.PollIntervalSeconds = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero batch size", func(t *testing.T) {
		cfg := base()
		cfg.ClaimBatchSize = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("cap below base", func(t *testing.T) {
		cfg := base()
		cfg.BackoffMaxSeconds = 10
		assert.Error(t, cfg.Validate())
	})

	t.Run("poller needs mailbox settings", func(t *testing.T) {
		cfg := base()
		cfg.EnablePoller = true
		err := cfg.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrMissingRequired)
	})
}
