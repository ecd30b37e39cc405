package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("OTP_TTL", "")
	t.Setenv("OTP_CHANNEL", "")
	t.Setenv("STORE_BACKEND", "")

	cfg := LoadConfig()

	assert.Equal(t, 300*time.Second, cfg.OTP.TTL)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.OTP.ResendCooldown)
	assert.Equal(t, 5, cfg.OTP.LockoutThreshold)
	assert.Equal(t, time.Hour, cfg.OTP.LockoutWindow)
	assert.Equal(t, ChannelSMS, cfg.OTP.Channel)
	assert.Equal(t, 10*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend())
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Same(t, cfg, Get())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("OTP_TTL", "2m")
	t.Setenv("OTP_CHANNEL", "WhatsApp")
	t.Setenv("SERVER_OTP_RPS", "2.5")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SERVER_ENABLE_TLS", "not-a-bool")

	cfg := LoadConfig()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 2*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, ChannelWhatsApp, cfg.OTP.Channel)
	assert.Equal(t, 2.5, cfg.Server.RequestsPerSecond)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Server.EnableTLS, "unparsable values fall back to the default")
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestStoreBackend(t *testing.T) {
	tests := []struct {
		env     string
		backend string
		want    string
	}{
		{"development", "", StoreBackendMemory},
		{"production", "", StoreBackendRedis},
		{"production", StoreBackendMemory, StoreBackendMemory},
		{"development", StoreBackendRedis, StoreBackendRedis},
		{"development", "etcd", StoreBackendMemory},
	}
	for _, tt := range tests {
		cfg := &Config{Environment: tt.env, Store: StoreConfig{Backend: tt.backend}}
		assert.Equal(t, tt.want, cfg.StoreBackend(), "%s/%s", tt.env, tt.backend)
	}
}

func validConfig() *Config {
	return &Config{
		Environment: "production",
		OTP: OTPConfig{
			TTL:              5 * time.Minute,
			MaxAttempts:      3,
			LockoutThreshold: 5,
			CodeLength:       6,
			Channel:          ChannelSMS,
		},
		Provider: ProviderConfig{CustomerID: "C-1", AuthToken: "tok"},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ttl", func(c *Config) { c.OTP.TTL = 0 }},
		{"zero attempts", func(c *Config) { c.OTP.MaxAttempts = 0 }},
		{"zero threshold", func(c *Config) { c.OTP.LockoutThreshold = 0 }},
		{"short code", func(c *Config) { c.OTP.CodeLength = 3 }},
		{"unknown channel", func(c *Config) { c.OTP.Channel = "fax" }},
		{"missing credentials", func(c *Config) { c.Provider.AuthToken = "" }},
		{"kms without key", func(c *Config) { c.KMS.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	local := validConfig()
	local.OTP.Channel = ChannelLocal
	local.Provider = ProviderConfig{}
	assert.NoError(t, local.Validate())
}
