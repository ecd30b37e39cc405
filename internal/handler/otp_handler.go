package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mealzee-auth/internal/models"
	"mealzee-auth/internal/service"
	"mealzee-auth/internal/util"
)

const maxBodyBytes = 4 << 10

var errInvalidBody = errors.New("invalid request body")

// OTPService is the part of the service layer the handler needs.
type OTPService interface {
	SendOTP(ctx context.Context, phone string) *service.Result
	VerifyOTP(ctx context.Context, phone, code string) *service.Result
	RemainingCooldown(ctx context.Context, phone string) (int, *service.Result)
}

// OTPHandler handles HTTP requests for phone verification
type OTPHandler struct {
	otpService OTPService
	logger     *zap.Logger
}

func NewOTPHandler(otpService OTPService, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{
		otpService: otpService,
		logger:     logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

type SendRequest struct {
	Phone string `json:"phone"`
}

type VerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// OTPData carries the details a client needs to react to a result.
type OTPData struct {
	RetryAfterSeconds int  `json:"retryAfterSeconds,omitempty"`
	RemainingMinutes  int  `json:"remainingMinutes,omitempty"`
	AttemptsLeft      *int `json:"attemptsLeft,omitempty"`
	Degraded          bool `json:"degraded,omitempty"`
}

type CooldownData struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

// RegisterRoutes registers all OTP routes
func (h *OTPHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/send", h.SendOTP)
		r.Post("/verify", h.VerifyOTP)
		r.Get("/cooldown/{phone}", h.GetCooldown)
	})
}

// SendOTP handles code dispatch
// @Summary Send a verification code
// @Tags otp
// @Accept json
// @Produce json
// @Param request body SendRequest true "Phone number"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 423 {object} Response
// @Failure 429 {object} Response
// @Failure 502 {object} Response
// @Router /otp/send [post]
func (h *OTPHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	res := h.otpService.SendOTP(r.Context(), util.SanitizeInput(req.Phone))
	h.respondWithResult(w, res)
}

// VerifyOTP handles code confirmation
// @Summary Verify a code
// @Tags otp
// @Accept json
// @Produce json
// @Param request body VerifyRequest true "Phone number and code"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 410 {object} Response
// @Failure 423 {object} Response
// @Router /otp/verify [post]
func (h *OTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	res := h.otpService.VerifyOTP(r.Context(), util.SanitizeInput(req.Phone), util.SanitizeInput(req.Code))
	h.respondWithResult(w, res)
}

// GetCooldown reports how long the client must wait before resending.
// @Summary Remaining resend cooldown
// @Tags otp
// @Produce json
// @Param phone path string true "Phone number"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /otp/cooldown/{phone} [get]
func (h *OTPHandler) GetCooldown(w http.ResponseWriter, r *http.Request) {
	wait, errRes := h.otpService.RemainingCooldown(r.Context(), chi.URLParam(r, "phone"))
	if errRes != nil {
		h.respondWithResult(w, errRes)
		return
	}
	respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    CooldownData{RemainingSeconds: wait},
	})
}

// Helper Methods

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errInvalidBody
	}
	return nil
}

func (h *OTPHandler) respondWithResult(w http.ResponseWriter, res *service.Result) {
	if res.Success {
		var data interface{}
		if res.Degraded {
			data = OTPData{Degraded: true}
		}
		respondWithJSON(w, http.StatusOK, Response{Success: true, Data: data, Message: res.Message})
		return
	}

	status := getStatusCode(res.Error)
	switch res.Error {
	case models.KindResendTooSoon:
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
	case models.KindLocked:
		w.Header().Set("Retry-After", strconv.Itoa(res.RemainingMinutes*60))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("OTP request failed upstream",
			util.String("error", string(res.Error)),
			util.Int("status_code", status),
			util.String("message", res.Message),
		)
	}

	resp := Response{Success: false, Error: string(res.Error), Message: res.Message}
	if res.RetryAfterSeconds > 0 || res.RemainingMinutes > 0 || res.AttemptsLeft != nil {
		resp.Data = OTPData{
			RetryAfterSeconds: res.RetryAfterSeconds,
			RemainingMinutes:  res.RemainingMinutes,
			AttemptsLeft:      res.AttemptsLeft,
		}
	}
	respondWithJSON(w, status, resp)
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *OTPHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	respondWithJSON(w, statusCode, Response{Success: false, Error: err.Error(), Message: message})
}

// getStatusCode determines the appropriate HTTP status code for a result kind
func getStatusCode(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidPhoneFormat:
		return http.StatusBadRequest
	case models.KindResendTooSoon:
		return http.StatusTooManyRequests
	case models.KindLocked:
		return http.StatusLocked
	case models.KindInvalidCode:
		return http.StatusUnauthorized
	case models.KindExpired, models.KindExhausted:
		return http.StatusGone
	case models.KindProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
