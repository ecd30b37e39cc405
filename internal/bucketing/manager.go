// Package bucketing spreads security events over a fixed number of
// partitions by a stable hash of the phone number.
package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"mealzee-auth/internal/config"
)

const defaultEventBuckets = 64

type BucketingManager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

// BucketAssignment is where one event lands in the audit stores.
type BucketAssignment struct {
	EventBucket int    `json:"event_bucket"`
	DateBucket  string `json:"date_bucket"`
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	buckets := cfg.Bucketing.EventBuckets
	if buckets <= 0 {
		buckets = defaultEventBuckets
	}

	bm := &BucketingManager{eventBuckets: buckets}
	// Pool of hashers to avoid allocation per event
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// GetEventBucket returns a stable bucket in [0, eventBuckets) for the phone.
func (bm *BucketingManager) GetEventBucket(phone string) int {
	return int(bm.getHash(phone) % uint64(bm.eventBuckets))
}

// GetDateBucket returns the UTC day partition for at.
func (bm *BucketingManager) GetDateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) Assign(phone string, at time.Time) BucketAssignment {
	return BucketAssignment{
		EventBucket: bm.GetEventBucket(phone),
		DateBucket:  bm.GetDateBucket(at),
	}
}

func (bm *BucketingManager) EventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}
