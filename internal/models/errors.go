package models

// ErrorKind is the machine-readable reason attached to a failed OTP operation.
type ErrorKind string

const (
	KindInvalidPhoneFormat ErrorKind = "INVALID_PHONE_FORMAT"
	KindResendTooSoon      ErrorKind = "RESEND_TOO_SOON"
	KindLocked             ErrorKind = "LOCKED"
	KindProviderError      ErrorKind = "PROVIDER_ERROR"
	KindInvalidCode        ErrorKind = "INVALID_CODE"
	KindExpired            ErrorKind = "EXPIRED"
	KindExhausted          ErrorKind = "EXHAUSTED"
)

// ProviderFailure is the normalized failure reported by a verification provider.
type ProviderFailure string

const (
	FailureNone                ProviderFailure = ""
	FailureInvalidCode         ProviderFailure = "INVALID_CODE"
	FailureExpired             ProviderFailure = "EXPIRED"
	FailureProviderUnavailable ProviderFailure = "PROVIDER_UNAVAILABLE"
	FailureRateLimited         ProviderFailure = "RATE_LIMITED"
)
