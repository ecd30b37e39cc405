// Package repository defines the storage contracts behind the OTP service.
// Implementations live in the memory and redis subpackages; the backend is
// chosen once at startup and injected.
package repository

import (
	"context"
	"errors"
	"time"

	"mealzee-auth/internal/models"
)

var ErrNotFound = errors.New("record not found")

// OTPStore holds at most one VerificationRecord per phone.
type OTPStore interface {
	// Put overwrites any record for rec.Phone and clears its retirement marker.
	Put(ctx context.Context, rec *models.VerificationRecord, ttl time.Duration) error
	// Get does not enforce TTL; callers check IssuedAt.
	Get(ctx context.Context, phone string) (*models.VerificationRecord, error)
	Delete(ctx context.Context, phone string) error
	// IncrementAttempts atomically bumps Attempts and returns the updated record.
	IncrementAttempts(ctx context.Context, phone string) (*models.VerificationRecord, error)
	// MarkRetired remembers why the last record for phone was removed.
	MarkRetired(ctx context.Context, phone string, kind models.ErrorKind, ttl time.Duration) error
	// Retired returns the marker left by MarkRetired, if still present.
	Retired(ctx context.Context, phone string) (models.ErrorKind, bool, error)
	Count(ctx context.Context) (int, error)
}

// ThrottleStore keeps the last dispatch time per phone.
type ThrottleStore interface {
	LastSent(ctx context.Context, phone string) (time.Time, bool, error)
	MarkSent(ctx context.Context, phone string, at time.Time, cooldown time.Duration) error
}

// LockoutPolicy parameterizes failure accounting.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// LockoutStore keeps the failure window per phone.
type LockoutStore interface {
	Get(ctx context.Context, phone string) (*models.LockoutEntry, error)
	// RecordFailure atomically applies one failure at now under policy and
	// returns the resulting entry.
	RecordFailure(ctx context.Context, phone string, now time.Time, policy LockoutPolicy) (*models.LockoutEntry, error)
	Clear(ctx context.Context, phone string) error
	Count(ctx context.Context) (int, error)
}

// ApplyFailure is the shared failure transition used by every LockoutStore.
// A missing or stale entry starts a fresh window; reaching the threshold locks
// until WindowStart+Window; an existing lock is never extended.
func ApplyFailure(entry *models.LockoutEntry, phone string, now time.Time, policy LockoutPolicy) *models.LockoutEntry {
	if entry == nil || entry.WindowElapsed(now, policy.Window) {
		entry = &models.LockoutEntry{Phone: phone, WindowStart: now}
	}
	entry.FailureCount++
	if entry.LockedUntil.IsZero() && entry.FailureCount >= policy.Threshold {
		entry.LockedUntil = entry.WindowStart.Add(policy.Window)
	}
	return entry
}
