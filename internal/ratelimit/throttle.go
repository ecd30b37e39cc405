package ratelimit

import (
	"context"
	"math"
	"time"

	"mealzee-auth/internal/repository"
)

// ResendThrottle enforces a minimum interval between two sends to one phone.
type ResendThrottle struct {
	store    repository.ThrottleStore
	cooldown time.Duration
	now      func() time.Time
}

func NewResendThrottle(store repository.ThrottleStore, cooldown time.Duration, opts ...Option) *ResendThrottle {
	o := buildOptions(opts)
	return &ResendThrottle{store: store, cooldown: cooldown, now: o.now}
}

// CanSend reports whether no send happened within the cooldown.
func (t *ResendThrottle) CanSend(ctx context.Context, phone string) (bool, error) {
	remaining, err := t.RemainingCooldown(ctx, phone)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// RemainingCooldown returns whole seconds until the next send is allowed,
// rounded up, or 0 when sending is allowed now.
func (t *ResendThrottle) RemainingCooldown(ctx context.Context, phone string) (int, error) {
	last, ok, err := t.store.LastSent(ctx, phone)
	if err != nil || !ok {
		return 0, err
	}
	left := t.cooldown - t.now().Sub(last)
	if left <= 0 {
		return 0, nil
	}
	return int(math.Ceil(left.Seconds())), nil
}

func (t *ResendThrottle) MarkSent(ctx context.Context, phone string) error {
	return t.store.MarkSent(ctx, phone, t.now(), t.cooldown)
}

func (t *ResendThrottle) Cooldown() time.Duration {
	return t.cooldown
}
