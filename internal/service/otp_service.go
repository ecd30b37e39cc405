package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mealzee-auth/internal/audit"
	"mealzee-auth/internal/metrics"
	"mealzee-auth/internal/models"
	"mealzee-auth/internal/provider"
	"mealzee-auth/internal/ratelimit"
	"mealzee-auth/internal/repository"
	"mealzee-auth/internal/util"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 3
)

// Result is returned by every OTP operation. Failures are values, not errors.
type Result struct {
	Success           bool             `json:"success"`
	Error             models.ErrorKind `json:"error,omitempty"`
	Message           string           `json:"message,omitempty"`
	RetryAfterSeconds int              `json:"retryAfterSeconds,omitempty"`
	RemainingMinutes  int              `json:"remainingMinutes,omitempty"`
	AttemptsLeft      *int             `json:"attemptsLeft,omitempty"`
	Degraded          bool             `json:"degraded,omitempty"`
}

func failure(kind models.ErrorKind, msg string) *Result {
	return &Result{Error: kind, Message: msg}
}

type noopEmitter struct{}

func (noopEmitter) Publish(audit.Event) {}

// Option configures an OTPService.
type Option func(*OTPService)

func WithClock(now func() time.Time) Option {
	return func(s *OTPService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithEmitter(e audit.Emitter) Option {
	return func(s *OTPService) {
		if e != nil {
			s.audit = e
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *OTPService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *OTPService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// OTPService drives the phone verification lifecycle:
// IDLE -> PENDING -> VERIFIED | EXPIRED | EXHAUSTED, with LOCKED as an
// overlay fed by failed verifications.
type OTPService struct {
	store    repository.OTPStore
	throttle *ratelimit.ResendThrottle
	guard    *ratelimit.BruteForceGuard
	provider provider.Provider
	audit    audit.Emitter

	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewOTPService(
	store repository.OTPStore,
	throttle *ratelimit.ResendThrottle,
	guard *ratelimit.BruteForceGuard,
	p provider.Provider,
	opts ...Option,
) *OTPService {
	s := &OTPService{
		store:       store,
		throttle:    throttle,
		guard:       guard,
		provider:    p,
		audit:       noopEmitter{},
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendOTP issues a new challenge for phone, replacing any pending one.
func (s *OTPService) SendOTP(ctx context.Context, rawPhone string) *Result {
	phone := util.NormalizePhone(rawPhone)
	if !util.IsValidPhone(phone) {
		s.recordSend("invalid_phone")
		return failure(models.KindInvalidPhoneFormat, "Enter a valid 10-digit mobile number")
	}

	if res := s.checkLock(ctx, phone); res != nil {
		s.recordSend("locked")
		return res
	}

	wait, err := s.throttle.RemainingCooldown(ctx, phone)
	if err != nil {
		return s.internalError("send", phone, "throttle lookup", err)
	}
	if wait > 0 {
		s.recordSend("throttled")
		return &Result{
			Error:             models.KindResendTooSoon,
			Message:           fmt.Sprintf("Please wait %d seconds before requesting a new code", wait),
			RetryAfterSeconds: wait,
		}
	}

	start := time.Now()
	dispatched := s.provider.Dispatch(ctx, phone)
	metrics.RecordProviderCall(s.provider.Name(), "dispatch", dispatched.OK, start)
	if !dispatched.OK {
		util.Warn("OTP dispatch failed",
			util.Phone(phone),
			zap.String("provider", s.provider.Name()),
			zap.String("failure", string(dispatched.Failure)),
			zap.String("message", dispatched.Message))
		s.recordSend("provider_error")
		s.emit(models.EventOTPSendFailed, phone, models.KindProviderError, 0, false, string(dispatched.Failure))
		return failure(models.KindProviderError, providerMessage(dispatched.Failure, dispatched.Message))
	}

	rec := &models.VerificationRecord{
		Phone:      phone,
		Secret:     dispatched.Ref,
		SecretKind: dispatched.SecretKind,
		Channel:    s.provider.Channel(),
		Provider:   s.provider.Name(),
		IssuedAt:   s.now(),
	}
	if err := s.store.Put(ctx, rec, s.ttl); err != nil {
		return s.internalError("send", phone, "store put", err)
	}

	// The code is already on its way; a throttle write failure only loosens
	// resend pacing for this phone.
	if err := s.throttle.MarkSent(ctx, phone); err != nil {
		util.Error("Failed to record OTP send for throttling", util.Phone(phone), util.ErrorField(err))
	}

	if dispatched.Degraded {
		metrics.RecordDegraded("send")
		s.emit(models.EventOTPDegraded, phone, "", 0, true, dispatched.Message)
	}
	s.recordSend("sent")
	s.emit(models.EventOTPSent, phone, "", 0, dispatched.Degraded, "")

	util.Info("OTP sent",
		util.Phone(phone),
		zap.String("provider", s.provider.Name()),
		zap.Bool("degraded", dispatched.Degraded))

	return &Result{Success: true, Message: "OTP sent", Degraded: dispatched.Degraded}
}

// VerifyOTP checks code against the pending challenge for phone.
func (s *OTPService) VerifyOTP(ctx context.Context, rawPhone, code string) *Result {
	phone := util.NormalizePhone(rawPhone)
	if !util.IsValidPhone(phone) {
		s.recordVerify("invalid_phone")
		return failure(models.KindInvalidPhoneFormat, "Enter a valid 10-digit mobile number")
	}

	if res := s.checkLock(ctx, phone); res != nil {
		s.recordVerify("locked")
		return res
	}

	rec, err := s.store.Get(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		kind, ok, rerr := s.store.Retired(ctx, phone)
		if rerr != nil {
			return s.internalError("verify", phone, "retired lookup", rerr)
		}
		if !ok {
			kind = models.KindExpired
		}
		return s.fail(ctx, phone, failure(kind, kindMessage(kind)), 0)
	}
	if err != nil {
		return s.internalError("verify", phone, "store get", err)
	}

	if rec.Expired(s.now(), s.ttl) {
		return s.retire(ctx, phone, models.KindExpired, rec.Attempts)
	}
	if rec.Attempts >= s.maxAttempts {
		return s.retire(ctx, phone, models.KindExhausted, rec.Attempts)
	}

	// The attempt is consumed before the provider is asked, so concurrent
	// guesses cannot share one slot.
	rec, err = s.store.IncrementAttempts(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		// Replaced or retired by a concurrent request.
		return s.fail(ctx, phone, failure(models.KindExpired, kindMessage(models.KindExpired)), 0)
	}
	if err != nil {
		return s.internalError("verify", phone, "increment attempts", err)
	}
	if rec.Attempts > s.maxAttempts {
		return s.retire(ctx, phone, models.KindExhausted, rec.Attempts)
	}

	var confirmed *provider.ConfirmResult
	if !util.IsDigits(code) {
		confirmed = &provider.ConfirmResult{Failure: models.FailureInvalidCode, Message: "code must be numeric"}
	} else {
		start := time.Now()
		confirmed = s.provider.Confirm(ctx, rec, code)
		metrics.RecordProviderCall(s.provider.Name(), "confirm", confirmed.OK || confirmed.Failure == models.FailureInvalidCode, start)
	}

	switch {
	case confirmed.OK:
		return s.succeed(ctx, rec, confirmed.Degraded)

	case confirmed.Failure == models.FailureInvalidCode:
		if rec.Attempts >= s.maxAttempts {
			return s.retire(ctx, phone, models.KindExhausted, rec.Attempts)
		}
		left := s.maxAttempts - rec.Attempts
		return s.fail(ctx, phone, &Result{
			Error:        models.KindInvalidCode,
			Message:      fmt.Sprintf("Incorrect code. %d attempt(s) left", left),
			AttemptsLeft: &left,
		}, rec.Attempts)

	case confirmed.Failure == models.FailureExpired:
		return s.retire(ctx, phone, models.KindExpired, rec.Attempts)

	default:
		util.Warn("OTP confirmation unavailable",
			util.Phone(phone),
			zap.String("provider", s.provider.Name()),
			zap.String("failure", string(confirmed.Failure)),
			zap.String("message", confirmed.Message))
		s.recordVerify("provider_error")
		return failure(models.KindProviderError, providerMessage(confirmed.Failure, confirmed.Message))
	}
}

// RemainingCooldown reports the seconds left before phone may request a new code.
func (s *OTPService) RemainingCooldown(ctx context.Context, rawPhone string) (int, *Result) {
	phone := util.NormalizePhone(rawPhone)
	if !util.IsValidPhone(phone) {
		return 0, failure(models.KindInvalidPhoneFormat, "Enter a valid 10-digit mobile number")
	}
	wait, err := s.throttle.RemainingCooldown(ctx, phone)
	if err != nil {
		return 0, s.internalError("cooldown", phone, "throttle lookup", err)
	}
	return wait, nil
}

func (s *OTPService) ProviderName() string {
	return s.provider.Name()
}

func (s *OTPService) checkLock(ctx context.Context, phone string) *Result {
	decision, err := s.guard.Check(ctx, phone)
	if err != nil {
		return s.internalError("guard", phone, "lockout check", err)
	}
	if decision.Allowed {
		return nil
	}
	return lockedResult(decision.RemainingMinutes)
}

func lockedResult(minutes int) *Result {
	return &Result{
		Error:            models.KindLocked,
		Message:          fmt.Sprintf("Too many failed attempts. Try again in %d minute(s)", minutes),
		RemainingMinutes: minutes,
	}
}

func (s *OTPService) succeed(ctx context.Context, rec *models.VerificationRecord, degraded bool) *Result {
	if err := s.store.Delete(ctx, rec.Phone); err != nil {
		util.Error("Failed to delete verified OTP record", util.Phone(rec.Phone), util.ErrorField(err))
	}
	if err := s.guard.Reset(ctx, rec.Phone); err != nil {
		util.Error("Failed to reset lockout after verification", util.Phone(rec.Phone), util.ErrorField(err))
	}

	if degraded {
		metrics.RecordDegraded("verify")
		s.emit(models.EventOTPDegraded, rec.Phone, "", rec.Attempts, true, "accepted on format only")
	}
	s.recordVerify("verified")
	s.emit(models.EventOTPVerified, rec.Phone, "", rec.Attempts, degraded, "")

	util.Info("OTP verified", util.Phone(rec.Phone), zap.Bool("degraded", degraded))
	return &Result{Success: true, Message: "Phone number verified", Degraded: degraded}
}

// retire removes the record for a terminal outcome and remembers why, so a
// retry against the vanished record reports the same kind.
func (s *OTPService) retire(ctx context.Context, phone string, kind models.ErrorKind, attempts int) *Result {
	if err := s.store.Delete(ctx, phone); err != nil {
		util.Error("Failed to delete retired OTP record", util.Phone(phone), util.ErrorField(err))
	}
	if err := s.store.MarkRetired(ctx, phone, kind, s.ttl); err != nil {
		util.Error("Failed to mark OTP record retired", util.Phone(phone), util.ErrorField(err))
	}
	return s.fail(ctx, phone, failure(kind, kindMessage(kind)), attempts)
}

// fail records one failed verification and returns res, unless this
// failure engaged the lockout, in which case the caller is told that instead.
func (s *OTPService) fail(ctx context.Context, phone string, res *Result, attempts int) *Result {
	s.recordVerify(outcomeLabel(res.Error))
	s.emit(models.EventOTPVerifyFailed, phone, res.Error, attempts, false, "")

	entry, err := s.guard.RecordFailure(ctx, phone)
	if err != nil {
		util.Error("Failed to record verification failure", util.Phone(phone), util.ErrorField(err))
		return res
	}
	if !entry.Locked(s.now()) {
		return res
	}

	// Failures recorded while locked keep counting past the threshold.
	if entry.FailureCount == s.guard.Threshold() {
		metrics.LockoutsTotal.Inc()
		s.emit(models.EventOTPLocked, phone, models.KindLocked, attempts, false,
			fmt.Sprintf("failures=%d", entry.FailureCount))
		util.Warn("Phone locked after repeated OTP failures",
			util.Phone(phone),
			zap.Int("failures", entry.FailureCount),
			zap.Time("locked_until", entry.LockedUntil))
	}
	return lockedResult(s.guard.RemainingMinutes(entry))
}

func (s *OTPService) internalError(op, phone, stage string, err error) *Result {
	util.Error("OTP operation failed",
		zap.String("operation", op),
		zap.String("stage", stage),
		util.Phone(phone),
		util.ErrorField(err))
	return failure(models.KindProviderError, "Verification service is temporarily unavailable")
}

func (s *OTPService) emit(eventType, phone string, kind models.ErrorKind, attempts int, degraded bool, details string) {
	s.audit.Publish(audit.Event{
		Type:     eventType,
		Phone:    phone,
		Channel:  s.provider.Channel(),
		Provider: s.provider.Name(),
		Kind:     kind,
		Attempts: attempts,
		Degraded: degraded,
		Details:  details,
		At:       s.now(),
	})
}

func (s *OTPService) recordSend(outcome string) {
	metrics.RecordSend(s.provider.Channel(), outcome)
}

func (s *OTPService) recordVerify(outcome string) {
	metrics.RecordVerify(s.provider.Channel(), outcome)
}

func outcomeLabel(kind models.ErrorKind) string {
	switch kind {
	case models.KindInvalidCode:
		return "invalid_code"
	case models.KindExpired:
		return "expired"
	case models.KindExhausted:
		return "exhausted"
	default:
		return "error"
	}
}

func kindMessage(kind models.ErrorKind) string {
	switch kind {
	case models.KindExpired:
		return "This code has expired. Request a new one"
	case models.KindExhausted:
		return "Too many incorrect attempts. Request a new code"
	case models.KindInvalidCode:
		return "Incorrect code"
	default:
		return "Verification failed"
	}
}

func providerMessage(f models.ProviderFailure, msg string) string {
	switch f {
	case models.FailureRateLimited:
		return "Too many requests to the SMS provider. Try again shortly"
	case models.FailureProviderUnavailable:
		return "Could not reach the verification provider. Try again"
	}
	if msg != "" {
		return msg
	}
	return "Verification provider error"
}
