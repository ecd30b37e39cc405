package factory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealzee-auth/internal/config"
	"mealzee-auth/internal/provider"
)

var codePattern = regexp.MustCompile(`code is ([0-9]{6})`)

type capturedMessages struct {
	mu   sync.Mutex
	text []string
}

func (c *capturedMessages) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.text) == 0 {
		return ""
	}
	return c.text[len(c.text)-1]
}

func testConfig(whatsappURL string) *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Port:              0,
			AllowedOrigins:    []string{"http://localhost:3000"},
			RequestsPerSecond: 100,
			RequestBurst:      100,
		},
		Store: config.StoreConfig{Backend: config.StoreBackendMemory, Capacity: 1000},
		OTP: config.OTPConfig{
			TTL:              5 * time.Minute,
			MaxAttempts:      3,
			ResendCooldown:   30 * time.Second,
			LockoutThreshold: 5,
			LockoutWindow:    time.Hour,
			CodeLength:       6,
			Channel:          config.ChannelLocal,
			CountryCode:      "91",
		},
		Provider: config.ProviderConfig{Timeout: 2 * time.Second},
		WhatsApp: config.WhatsAppConfig{BaseURL: whatsappURL, Token: "wa-token", Sender: "mealzee"},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "test-pepper-test-pepper-test-pep",
		},
		Bucketing: config.BucketingConfig{EventBuckets: 16},
		Audit:     config.AuditConfig{BufferSize: 16},
	}
}

func TestNewFactoryWithConfig_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("")
	cfg.OTP.Channel = "carrier-pigeon"

	_, err := NewFactoryWithConfig(cfg)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestFactory_EndToEndLocalChannel(t *testing.T) {
	messages := &capturedMessages{}
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		messages.mu.Lock()
		messages.text = append(messages.text, payload["text"].(string))
		messages.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gateway.Close)

	f, err := NewFactoryWithConfig(testConfig(gateway.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	f.Start()

	assert.Equal(t, provider.NameLocal, f.OTPService().ProviderName())

	server := httptest.NewServer(f.Router())
	t.Cleanup(server.Close)

	resp, err := http.Post(server.URL+"/api/v1/otp/send", "application/json", strings.NewReader(`{"phone":"+91 98765 43210"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	match := codePattern.FindStringSubmatch(messages.last())
	require.Len(t, match, 2, "message: %q", messages.last())

	resp, err = http.Post(server.URL+"/api/v1/otp/verify", "application/json",
		strings.NewReader(`{"phone":"9876543210","code":"`+match[1]+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)

	health, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestFactory_CloseIsIdempotent(t *testing.T) {
	f, err := NewFactoryWithConfig(testConfig(""))
	require.NoError(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	f.WaitForClose()
}
