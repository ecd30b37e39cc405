package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealzee-auth/internal/config"
)

func TestWhatsAppSender_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/qr/rest/send_message", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "wa-token", body["token"])
		assert.Equal(t, "919000000000", body["from"])
		assert.Equal(t, testPhone, body["to"])
		assert.Equal(t, "hello", body["text"])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewWhatsAppSender(config.WhatsAppConfig{BaseURL: server.URL, Token: "wa-token", Sender: "919000000000"}, time.Second)
	require.NoError(t, sender.Send(context.Background(), testPhone, "hello"))
}

func TestWhatsAppSender_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid number"}`))
	}))
	defer server.Close()

	sender := NewWhatsAppSender(config.WhatsAppConfig{BaseURL: server.URL, Token: "wa-token"}, time.Second)
	err := sender.Send(context.Background(), testPhone, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")

	noToken := NewWhatsAppSender(config.WhatsAppConfig{BaseURL: server.URL}, time.Second)
	assert.Error(t, noToken.Send(context.Background(), testPhone, "hello"))
}
