package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	"mealzee-auth/internal/models"
	"mealzee-auth/internal/repository"
)

// Decision is the outcome of a lockout check.
type Decision struct {
	Allowed          bool
	RemainingMinutes int
}

// BruteForceGuard locks a phone after too many failed verifications inside a
// rolling window. The lock ends one window after the first failure and is
// never extended by further failures.
type BruteForceGuard struct {
	store  repository.LockoutStore
	policy repository.LockoutPolicy
	now    func() time.Time
}

func NewBruteForceGuard(store repository.LockoutStore, threshold int, window time.Duration, opts ...Option) *BruteForceGuard {
	o := buildOptions(opts)
	return &BruteForceGuard{
		store:  store,
		policy: repository.LockoutPolicy{Threshold: threshold, Window: window},
		now:    o.now,
	}
}

func (g *BruteForceGuard) Check(ctx context.Context, phone string) (Decision, error) {
	entry, err := g.store.Get(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		return Decision{Allowed: true}, nil
	}
	if err != nil {
		return Decision{}, err
	}

	now := g.now()
	if entry.Locked(now) {
		return Decision{RemainingMinutes: remainingMinutes(entry.LockedUntil.Sub(now))}, nil
	}
	if entry.WindowElapsed(now, g.policy.Window) {
		if err := g.store.Clear(ctx, phone); err != nil {
			return Decision{}, err
		}
	}
	return Decision{Allowed: true}, nil
}

// RecordFailure counts one failed verification and returns the updated entry.
func (g *BruteForceGuard) RecordFailure(ctx context.Context, phone string) (*models.LockoutEntry, error) {
	return g.store.RecordFailure(ctx, phone, g.now(), g.policy)
}

func (g *BruteForceGuard) Threshold() int {
	return g.policy.Threshold
}

func (g *BruteForceGuard) Reset(ctx context.Context, phone string) error {
	return g.store.Clear(ctx, phone)
}

// RemainingMinutes rounds the remaining lock time up to whole minutes.
func (g *BruteForceGuard) RemainingMinutes(entry *models.LockoutEntry) int {
	return remainingMinutes(entry.LockedUntil.Sub(g.now()))
}

func remainingMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}
