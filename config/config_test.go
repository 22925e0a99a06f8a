package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 30*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 10*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 5*time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, 50, cfg.OutboxBatchSize)
	assert.Equal(t, 10, cfg.OutboxMaxAttempts)
	assert.False(t, cfg.ReleaseOnPaymentFailure)
	assert.Equal(t, "sandbox", cfg.GatewayProvider)
	assert.Equal(t, "jobs:hype_cards", cfg.ArtifactQueueKey)
	assert.Equal(t, "triggers", cfg.TriggerChannel)
	assert.True(t, cfg.EnableMetrics)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RESERVATION_TTL", "45m")
	t.Setenv("RELEASE_ON_PAYMENT_FAILURE", "true")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "3")
	t.Setenv("GATEWAY_PROVIDER", "mpesa")
	t.Setenv("MPESA_CONSUMER_KEY", "key")
	t.Setenv("MPESA_CONSUMER_SECRET", "secret")
	t.Setenv("MPESA_SHORTCODE", "174379")
	t.Setenv("MPESA_PASSKEY", "passkey")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Minute, cfg.ReservationTTL)
	assert.True(t, cfg.ReleaseOnPaymentFailure)
	assert.Equal(t, 3, cfg.OutboxMaxAttempts)
	assert.Equal(t, "mpesa", cfg.GatewayProvider)
	assert.Equal(t, "174379", cfg.Mpesa.ShortCode)
	assert.Equal(t, "https://sandbox.safaricom.co.ke", cfg.Mpesa.BaseURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown provider":      {"GATEWAY_PROVIDER": "paypal"},
		"mpesa without keys":    {"GATEWAY_PROVIDER": "mpesa"},
		"sandbox in production": {"ENVIRONMENT": "production"},
		"zero ttl":              {"RESERVATION_TTL": "0s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, "config.yaml", "SWEEP_INTERVAL: 1m\nQR_BASE_URL: https://qr.example.com/\n")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, "https://qr.example.com/", cfg.QRBaseURL)
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(name, []byte(content), 0o600))
}
