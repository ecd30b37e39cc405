package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mealzee-auth/internal/config"
	"mealzee-auth/internal/models"
	"mealzee-auth/internal/util"
)

const (
	NameMessageCentral = "message_central"

	defaultTimeout  = 10 * time.Second
	maxResponseBody = 64 << 10

	mcSendPath     = "/verification/v3/send"
	mcValidatePath = "/verification/v3/validateOtp"
)

// Message Central response codes
const (
	mcCodeSuccess         = 200
	mcCodeAlreadyExists   = 506
	mcCodeWrongOTP        = 702
	mcCodeExpired         = 705
	mcCodeMaxLimitReached = 800
)

const (
	mcMsgSuccess         = "SUCCESS"
	mcMsgAlreadyExists   = "REQUEST_ALREADY_EXISTS"
	mcMsgWrongOTP        = "WRONG_OTP_PROVIDED"
	mcMsgExpired         = "VERIFICATION_EXPIRED"
	mcMsgMaxLimitReached = "MAXIMUM_LIMIT_REACHED"
	mcStatusCompleted    = "VERIFICATION_COMPLETED"
)

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type mcData struct {
	VerificationID     flexString `json:"verificationId"`
	ResponseCode       flexString `json:"responseCode"`
	ErrorMessage       string     `json:"errorMessage"`
	VerificationStatus string     `json:"verificationStatus"`
}

type mcResponse struct {
	ResponseCode flexString `json:"responseCode"`
	Message      string     `json:"message"`
	Error        string     `json:"error"`
	Data         *mcData    `json:"data"`
}

func (r *mcResponse) code() int {
	if n, err := strconv.Atoi(string(r.ResponseCode)); err == nil {
		return n
	}
	if r.Data != nil {
		if n, err := strconv.Atoi(string(r.Data.ResponseCode)); err == nil {
			return n
		}
	}
	return 0
}

// has reports whether any message-like field carries token.
func (r *mcResponse) has(token string) bool {
	if strings.Contains(r.Message, token) || strings.Contains(r.Error, token) {
		return true
	}
	return r.Data != nil && strings.Contains(r.Data.ErrorMessage, token)
}

func (r *mcResponse) verificationID() string {
	if r.Data == nil {
		return ""
	}
	return strings.TrimSpace(string(r.Data.VerificationID))
}

// successful covers both the documented shape and the {"error":"SUCCESS"} variant.
func (r *mcResponse) successful() bool {
	return r.code() == mcCodeSuccess || r.Message == mcMsgSuccess || r.Error == mcMsgSuccess
}

// MessageCentral talks to the Message Central VerifyNow v3 API. The same
// adapter serves SMS and WhatsApp; only flowType differs.
type MessageCentral struct {
	BaseURL     string
	CustomerID  string
	AuthToken   string
	CountryCode string
	HTTPClient  *http.Client
	channel     string
	flowType    string
}

func NewMessageCentral(cfg config.ProviderConfig, countryCode, channel string) *MessageCentral {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	flowType := "SMS"
	if channel == config.ChannelWhatsApp {
		flowType = "WHATSAPP"
	}
	return &MessageCentral{
		BaseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		CustomerID:  cfg.CustomerID,
		AuthToken:   cfg.AuthToken,
		CountryCode: countryCode,
		HTTPClient:  &http.Client{Timeout: timeout},
		channel:     channel,
		flowType:    flowType,
	}
}

func (m *MessageCentral) Name() string    { return NameMessageCentral }
func (m *MessageCentral) Channel() string { return m.channel }

func (m *MessageCentral) Dispatch(ctx context.Context, phone string) *DispatchResult {
	q := url.Values{}
	q.Set("countryCode", m.CountryCode)
	q.Set("customerId", m.CustomerID)
	q.Set("flowType", m.flowType)
	q.Set("mobileNumber", phone)

	status, body, err := m.do(ctx, http.MethodPost, mcSendPath, q)
	if err != nil {
		util.Error("Message Central send failed", util.Phone(phone), zap.Bool("timeout", IsTimeout(err)), zap.Error(err))
		return failedDispatch(models.FailureProviderUnavailable, "verification service unreachable")
	}

	switch {
	case status == http.StatusConflict || body.code() == mcCodeAlreadyExists || body.has(mcMsgAlreadyExists):
		// A code is already outstanding upstream. Treat as sent and reuse its id if we got one.
		if ref := body.verificationID(); ref != "" {
			util.Info("Message Central reported existing request, reusing verificationId", util.Phone(phone))
			return &DispatchResult{OK: true, Ref: ref, SecretKind: models.SecretProviderRef}
		}
		util.Warn("Message Central reported existing request without verificationId", util.Phone(phone))
		return placeholderDispatch("verification already in progress")

	case status == http.StatusTooManyRequests || body.code() == mcCodeMaxLimitReached || body.has(mcMsgMaxLimitReached):
		return failedDispatch(models.FailureRateLimited, "too many verification requests")

	case status >= 200 && status < 300 && body.successful():
		if ref := body.verificationID(); ref != "" {
			return &DispatchResult{OK: true, Ref: ref, SecretKind: models.SecretProviderRef}
		}
		util.Warn("Message Central accepted send without verificationId", util.Phone(phone))
		return placeholderDispatch("")
	}

	util.Error("Message Central rejected send",
		util.Phone(phone),
		zap.Int("status", status),
		zap.Int("response_code", body.code()),
		zap.String("message", body.Message))
	return failedDispatch(models.FailureProviderUnavailable, "verification service rejected the request")
}

func (m *MessageCentral) Confirm(ctx context.Context, rec *models.VerificationRecord, code string) *ConfirmResult {
	if rec.Degraded() {
		return confirmDegraded(rec, code)
	}

	q := url.Values{}
	q.Set("countryCode", m.CountryCode)
	q.Set("mobileNumber", rec.Phone)
	q.Set("verificationId", rec.Secret)
	q.Set("customerId", m.CustomerID)
	q.Set("code", code)

	status, body, err := m.do(ctx, http.MethodGet, mcValidatePath, q)
	if err != nil {
		util.Error("Message Central validate failed", util.Phone(rec.Phone), zap.Bool("timeout", IsTimeout(err)), zap.Error(err))
		return failedConfirm(models.FailureProviderUnavailable, "verification service unreachable")
	}

	switch {
	case body.code() == mcCodeWrongOTP || body.has(mcMsgWrongOTP):
		return failedConfirm(models.FailureInvalidCode, "incorrect code")
	case body.code() == mcCodeExpired || body.has(mcMsgExpired):
		return failedConfirm(models.FailureExpired, "code expired")
	case status == http.StatusTooManyRequests || body.code() == mcCodeMaxLimitReached || body.has(mcMsgMaxLimitReached):
		return failedConfirm(models.FailureRateLimited, "too many verification requests")
	case status >= 200 && status < 300 && body.successful():
		if body.Data != nil && body.Data.VerificationStatus != "" && body.Data.VerificationStatus != mcStatusCompleted {
			return failedConfirm(models.FailureInvalidCode, "incorrect code")
		}
		return &ConfirmResult{OK: true}
	}

	util.Error("Message Central rejected validation",
		util.Phone(rec.Phone),
		zap.Int("status", status),
		zap.Int("response_code", body.code()),
		zap.String("message", body.Message))
	return failedConfirm(models.FailureProviderUnavailable, "verification service rejected the request")
}

// do performs one call and decodes the body leniently: an unparsable body
// yields an empty response rather than an error.
func (m *MessageCentral) do(ctx context.Context, method, path string, q url.Values) (int, *mcResponse, error) {
	endpoint := m.BaseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("authToken", m.AuthToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	body := &mcResponse{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, body); err != nil {
			util.Warn("Message Central returned non-JSON body",
				zap.Int("status", resp.StatusCode),
				zap.Error(err))
			body = &mcResponse{}
		}
	}

	util.Debug("Message Central call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return resp.StatusCode, body, nil
}

// IsTimeout reports whether err came from a client or context deadline.
func IsTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}
