package service

import (
	"sync"

	"mealzee-auth/internal/audit"
	"mealzee-auth/internal/config"
	"mealzee-auth/internal/provider"
	"mealzee-auth/internal/ratelimit"
	"mealzee-auth/internal/repository"
)

// Stores groups the backend chosen at startup.
type Stores struct {
	OTP      repository.OTPStore
	Throttle repository.ThrottleStore
	Lockout  repository.LockoutStore
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg      *config.Config
	stores   Stores
	provider provider.Provider
	emitter  audit.Emitter

	once       sync.Once
	otpService *OTPService
}

func NewServiceFactory(cfg *config.Config, stores Stores, p provider.Provider, emitter audit.Emitter) *ServiceFactory {
	return &ServiceFactory{
		cfg:      cfg,
		stores:   stores,
		provider: p,
		emitter:  emitter,
	}
}

// OTPService returns the OTP service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	f.once.Do(func() {
		otp := f.cfg.OTP
		f.otpService = NewOTPService(
			f.stores.OTP,
			ratelimit.NewResendThrottle(f.stores.Throttle, otp.ResendCooldown),
			ratelimit.NewBruteForceGuard(f.stores.Lockout, otp.LockoutThreshold, otp.LockoutWindow),
			f.provider,
			WithTTL(otp.TTL),
			WithMaxAttempts(otp.MaxAttempts),
			WithEmitter(f.emitter),
		)
	})
	return f.otpService
}
