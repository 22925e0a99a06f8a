package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string
	TriggerChannel     string

	// Reservation lifecycle
	ReservationTTL          time.Duration
	SweepInterval           time.Duration
	ReconcileInterval       time.Duration
	ReleaseOnPaymentFailure bool

	// Outbox relay
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	ArtifactQueueKey   string

	// Payment gateway
	GatewayProvider string
	GatewayTimeout  time.Duration
	WebhookSecret   string
	Mpesa           MpesaConfig

	QRBaseURL          string
	RateLimitPerMinute int

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	Timeout        time.Duration
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// LoadConfig reads config.yaml when present and lets environment variables
// override every key.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ticket-engine")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Port:        v.GetString("PORT"),
		Environment: v.GetString("ENVIRONMENT"),

		RedisURL: v.GetString("REDIS_URL"),

		PubNubPublishKey:   v.GetString("PUBNUB_PUBLISH_KEY"),
		PubNubSubscribeKey: v.GetString("PUBNUB_SUBSCRIBE_KEY"),
		PubNubSecretKey:    v.GetString("PUBNUB_SECRET_KEY"),
		PubNubUserID:       v.GetString("PUBNUB_USER_ID"),
		TriggerChannel:     v.GetString("TRIGGER_CHANNEL"),

		ReservationTTL:          v.GetDuration("RESERVATION_TTL"),
		SweepInterval:           v.GetDuration("SWEEP_INTERVAL"),
		ReconcileInterval:       v.GetDuration("RECONCILE_INTERVAL"),
		ReleaseOnPaymentFailure: v.GetBool("RELEASE_ON_PAYMENT_FAILURE"),

		OutboxPollInterval: v.GetDuration("OUTBOX_POLL_INTERVAL"),
		OutboxBatchSize:    v.GetInt("OUTBOX_BATCH_SIZE"),
		OutboxMaxAttempts:  v.GetInt("OUTBOX_MAX_ATTEMPTS"),
		ArtifactQueueKey:   v.GetString("ARTIFACT_QUEUE_KEY"),

		GatewayProvider: v.GetString("GATEWAY_PROVIDER"),
		GatewayTimeout:  v.GetDuration("GATEWAY_TIMEOUT"),
		WebhookSecret:   v.GetString("WEBHOOK_SECRET"),
		Mpesa: MpesaConfig{
			BaseURL:        v.GetString("MPESA_BASE_URL"),
			ConsumerKey:    v.GetString("MPESA_CONSUMER_KEY"),
			ConsumerSecret: v.GetString("MPESA_CONSUMER_SECRET"),
			ShortCode:      v.GetString("MPESA_SHORTCODE"),
			PassKey:        v.GetString("MPESA_PASSKEY"),
			CallbackURL:    v.GetString("MPESA_CALLBACK_URL"),
			Timeout:        v.GetDuration("MPESA_TIMEOUT"),
		},

		QRBaseURL:          v.GetString("QR_BASE_URL"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),

		EnableMetrics: v.GetBool("ENABLE_METRICS"),
		MetricsPort:   v.GetString("METRICS_PORT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("PORT", "8090")
	v.SetDefault("ENVIRONMENT", "development")

	// Redis
	v.SetDefault("REDIS_URL", "localhost:6379")

	// PubNub
	v.SetDefault("PUBNUB_USER_ID", "ticket-engine")
	v.SetDefault("TRIGGER_CHANNEL", "triggers")

	// Reservations
	v.SetDefault("RESERVATION_TTL", "30m")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("RECONCILE_INTERVAL", "10m")
	v.SetDefault("RELEASE_ON_PAYMENT_FAILURE", false)

	// Outbox
	v.SetDefault("OUTBOX_POLL_INTERVAL", "5s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 50)
	v.SetDefault("OUTBOX_MAX_ATTEMPTS", 10)
	v.SetDefault("ARTIFACT_QUEUE_KEY", "jobs:hype_cards")

	// Gateway
	v.SetDefault("GATEWAY_PROVIDER", "sandbox")
	v.SetDefault("GATEWAY_TIMEOUT", "15s")
	v.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	v.SetDefault("MPESA_TIMEOUT", "15s")

	v.SetDefault("QR_BASE_URL", "https://api.qrserver.com/v1/create-qr-code/")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 30)

	// Logging
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "")

	// Monitoring
	v.SetDefault("ENABLE_METRICS", true)
	v.SetDefault("METRICS_PORT", "9090")
}

func (c *Config) validate() error {
	if c.ReservationTTL <= 0 {
		return errors.New("config: RESERVATION_TTL must be positive")
	}
	if c.SweepInterval <= 0 || c.ReconcileInterval <= 0 || c.OutboxPollInterval <= 0 {
		return errors.New("config: worker intervals must be positive")
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		return errors.New("config: OUTBOX_BATCH_SIZE and OUTBOX_MAX_ATTEMPTS must be positive")
	}
	switch c.GatewayProvider {
	case "sandbox":
	case "mpesa":
		if c.Mpesa.ConsumerKey == "" || c.Mpesa.ConsumerSecret == "" || c.Mpesa.ShortCode == "" || c.Mpesa.PassKey == "" {
			return errors.New("config: mpesa gateway needs MPESA_CONSUMER_KEY, MPESA_CONSUMER_SECRET, MPESA_SHORTCODE and MPESA_PASSKEY")
		}
	default:
		return fmt.Errorf("config: unknown GATEWAY_PROVIDER %q", c.GatewayProvider)
	}
	if c.IsProduction() && c.GatewayProvider == "sandbox" {
		return errors.New("config: sandbox gateway is not allowed in production")
	}
	return nil
}
