package models

import "time"

// SecretKind tells a provider how to interpret VerificationRecord.Secret.
type SecretKind string

const (
	// SecretLocalHash is an argon2id hash of a code generated by this service.
	SecretLocalHash SecretKind = "local_hash"
	// SecretProviderRef is a verificationId issued by the upstream provider.
	SecretProviderRef SecretKind = "provider_ref"
	// SecretPlaceholder is a locally synthesized reference used when the
	// provider accepted the send but returned no usable verificationId.
	SecretPlaceholder SecretKind = "placeholder"
)

// VerificationRecord is the outstanding OTP challenge for one phone number.
type VerificationRecord struct {
	Phone      string     `json:"phone"`
	Secret     string     `json:"secret"`
	SecretKind SecretKind `json:"secret_kind"`
	Channel    string     `json:"channel"`
	Provider   string     `json:"provider"`
	IssuedAt   time.Time  `json:"issued_at"`
	Attempts   int        `json:"attempts"`
}

// Degraded reports whether the record can only be confirmed by a format check.
func (r *VerificationRecord) Degraded() bool {
	return r.SecretKind == SecretPlaceholder
}

// Expired reports whether the record is older than ttl at now.
func (r *VerificationRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.IssuedAt) >= ttl
}

// ThrottleEntry records the last successful OTP dispatch for a phone number.
type ThrottleEntry struct {
	Phone      string    `json:"phone"`
	LastSentAt time.Time `json:"last_sent_at"`
}

// LockoutEntry tracks failed verifications for a phone number inside a window.
type LockoutEntry struct {
	Phone        string    `json:"phone"`
	FailureCount int       `json:"failure_count"`
	WindowStart  time.Time `json:"window_start"`
	LockedUntil  time.Time `json:"locked_until,omitempty"`
}

// Locked reports whether the entry rejects operations at now.
func (e *LockoutEntry) Locked(now time.Time) bool {
	return !e.LockedUntil.IsZero() && now.Before(e.LockedUntil)
}

// WindowElapsed reports whether the failure window has run out at now.
func (e *LockoutEntry) WindowElapsed(now time.Time, window time.Duration) bool {
	return now.Sub(e.WindowStart) > window
}
