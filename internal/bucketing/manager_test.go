package bucketing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mealzee-auth/internal/config"
)

func TestBucketingManager(t *testing.T) {
	bm := NewBucketingManager(&config.Config{Bucketing: config.BucketingConfig{EventBuckets: 16}})

	b := bm.GetEventBucket("9876543210")
	assert.GreaterOrEqual(t, b, 0)
	assert.Less(t, b, 16)
	assert.Equal(t, b, bm.GetEventBucket("9876543210"), "bucket is stable")

	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	assert.Equal(t, "2026-03-01", bm.GetDateBucket(at))

	assignment := bm.Assign("9876543210", at)
	assert.Equal(t, b, assignment.EventBucket)
}

func TestBucketingManager_DefaultBuckets(t *testing.T) {
	bm := NewBucketingManager(&config.Config{})
	assert.Equal(t, 64, bm.EventBuckets())
}
