package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mealzee-auth/internal/config"
	"mealzee-auth/internal/util"
)

// Sender delivers a rendered message to a phone number.
type Sender interface {
	Name() string
	Send(ctx context.Context, phone, message string) error
}

// WhatsAppSender posts text messages to a WhatsApp gateway REST API.
type WhatsAppSender struct {
	BaseURL    string
	Token      string
	From       string
	HTTPClient *http.Client
}

func NewWhatsAppSender(cfg config.WhatsAppConfig, timeout time.Duration) *WhatsAppSender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WhatsAppSender{
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		Token:      cfg.Token,
		From:       cfg.Sender,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (s *WhatsAppSender) Name() string { return "whatsapp_gateway" }

func (s *WhatsAppSender) Send(ctx context.Context, phone, message string) error {
	if s.Token == "" {
		return fmt.Errorf("whatsapp: token not configured")
	}

	payload := map[string]interface{}{
		"messageType": "text",
		"requestType": "POST",
		"token":       s.Token,
		"from":        s.From,
		"to":          phone,
		"text":        message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal WhatsApp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/api/qr/rest/send_message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create WhatsApp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("WhatsApp HTTP error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return fmt.Errorf("whatsapp: request failed status=%d body=%s", resp.StatusCode, string(respBody))
	}

	util.Debug("WhatsApp message sent", util.Phone(phone), zap.Duration("duration", time.Since(start)))
	return nil
}

// LogSender writes the message to the log instead of delivering it. For
// local development only.
type LogSender struct{}

func (LogSender) Name() string { return "log" }

func (LogSender) Send(_ context.Context, phone, message string) error {
	util.Info("Development OTP", zap.String("phone", phone), zap.String("message", message))
	return nil
}
