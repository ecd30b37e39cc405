package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mealzee-auth/internal/metrics"
	"mealzee-auth/internal/util"
)

const jobTimeout = 30 * time.Second

// Counter reports the number of live entries in a store.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// OrphanAuditor finds and removes keys that lost their TTL.
type OrphanAuditor interface {
	KeysWithoutTTL(ctx context.Context) ([]string, error)
	DeleteKeys(ctx context.Context, keys ...string) error
}

// StoreStats sets the store_entries gauge for every named store.
func StoreStats(backend string, stores map[string]Counter) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		for name, store := range stores {
			n, err := store.Count(ctx)
			if err != nil {
				util.Error("Failed to count store entries", zap.String("store", name), zap.Error(err))
				continue
			}
			metrics.SetStoreEntries(backend, name, n)
		}
	}
}

// OrphanKeyAudit deletes OTP keys without a TTL. Every write sets one, so any
// hit means a bug or manual edit and would otherwise live forever.
func OrphanKeyAudit(auditor OrphanAuditor) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		keys, err := auditor.KeysWithoutTTL(ctx)
		if err != nil {
			util.Error("OTP key audit failed", zap.Error(err))
			return
		}
		if len(keys) == 0 {
			return
		}
		util.Warn("Deleting OTP keys without TTL", zap.Int("count", len(keys)))
		if err := auditor.DeleteKeys(ctx, keys...); err != nil {
			util.Error("Failed to delete OTP keys without TTL", zap.Error(err))
		}
	}
}
