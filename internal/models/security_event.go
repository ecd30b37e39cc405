package models

import "time"

// Security event types emitted by the OTP service.
const (
	EventOTPSent         = "otp_sent"
	EventOTPSendFailed   = "otp_send_failed"
	EventOTPVerified     = "otp_verified"
	EventOTPVerifyFailed = "otp_verify_failed"
	EventOTPLocked       = "otp_locked"
	EventOTPDegraded     = "otp_degraded"
)

// SecurityEvent is an audit record of one OTP lifecycle step.
type SecurityEvent struct {
	EventID        string    `json:"event_id" db:"event_id"`
	EventBucket    int       `json:"event_bucket" db:"event_bucket"`
	EventDate      string    `json:"event_date" db:"event_date"`
	EventTime      time.Time `json:"event_time" db:"event_time"`
	EventType      string    `json:"event_type" db:"event_type"`
	PhoneMasked    string    `json:"phone_masked" db:"phone_masked"`
	PhoneEncrypted string    `json:"phone_encrypted,omitempty" db:"phone_encrypted"`
	PhoneDEK       string    `json:"phone_dek,omitempty" db:"phone_dek"`
	PhoneKeyID     string    `json:"phone_key_id,omitempty" db:"phone_key_id"`
	Channel        string    `json:"channel" db:"channel"`
	Provider       string    `json:"provider" db:"provider"`
	Kind           string    `json:"kind,omitempty" db:"kind"`
	Attempts       int       `json:"attempts" db:"attempts"`
	Degraded       bool      `json:"degraded" db:"degraded"`
	Details        string    `json:"details,omitempty" db:"details"`
}
