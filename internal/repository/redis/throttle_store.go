package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mealzee-auth/internal/client"
	"mealzee-auth/internal/repository"
)

const otpResendPrefix = "otp_resend:"

// ThrottleStore keeps the last send time as a plain key that expires with the cooldown.
type ThrottleStore struct {
	client *client.RedisClient
}

func NewThrottleStore(client *client.RedisClient) *ThrottleStore {
	return &ThrottleStore{client: client}
}

func (s *ThrottleStore) LastSent(ctx context.Context, phone string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.client.Key(otpResendPrefix, phone))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read resend throttle: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid resend throttle value: %w", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (s *ThrottleStore) MarkSent(ctx context.Context, phone string, at time.Time, cooldown time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.client.Key(otpResendPrefix, phone), at.UnixMilli(), cooldown); err != nil {
		return fmt.Errorf("failed to mark OTP sent: %w", err)
	}
	return nil
}

var _ repository.ThrottleStore = (*ThrottleStore)(nil)
