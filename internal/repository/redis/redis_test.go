package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealzee-auth/internal/client"
	"mealzee-auth/internal/models"
	"mealzee-auth/internal/repository"
)

const phone = "9876543210"

func newTestClient(t *testing.T) (*client.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return client.WrapRedisClient(rdb, "test:"), mr
}

func sampleRecord(issued time.Time) *models.VerificationRecord {
	return &models.VerificationRecord{
		Phone:      phone,
		Secret:     "vid-1",
		SecretKind: models.SecretProviderRef,
		Channel:    "sms",
		Provider:   "message_central",
		IssuedAt:   issued,
	}
}

func TestOTPStore_PutGet(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestClient(t)
	store := NewOTPStore(rc)

	_, err := store.Get(ctx, phone)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, sampleRecord(issued), 5*time.Minute))

	rec, err := store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "vid-1", rec.Secret)
	assert.Equal(t, models.SecretProviderRef, rec.SecretKind)
	assert.Equal(t, "sms", rec.Channel)
	assert.Equal(t, issued, rec.IssuedAt)
	assert.Equal(t, 0, rec.Attempts)

	assert.True(t, mr.Exists("test:otp:"+phone))
	assert.Equal(t, 5*time.Minute, mr.TTL("test:otp:"+phone))

	mr.FastForward(5*time.Minute + time.Second)
	_, err = store.Get(ctx, phone)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOTPStore_IncrementAndDelete(t *testing.T) {
	ctx := context.Background()
	rc, _ := newTestClient(t)
	store := NewOTPStore(rc)

	_, err := store.IncrementAttempts(ctx, phone)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, store.Put(ctx, sampleRecord(time.Now().UTC()), time.Minute))

	rec, err := store.IncrementAttempts(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "vid-1", rec.Secret)

	rec, err = store.IncrementAttempts(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)

	require.NoError(t, store.Delete(ctx, phone))
	_, err = store.IncrementAttempts(ctx, phone)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestOTPStore_RetiredMarkerClearedByPut(t *testing.T) {
	ctx := context.Background()
	rc, _ := newTestClient(t)
	store := NewOTPStore(rc)

	require.NoError(t, store.MarkRetired(ctx, phone, models.KindExpired, time.Minute))
	kind, ok, err := store.Retired(ctx, phone)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.KindExpired, kind)

	require.NoError(t, store.Put(ctx, sampleRecord(time.Now().UTC()), time.Minute))
	_, ok, err = store.Retired(ctx, phone)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOTPStore_CountAndKeysWithoutTTL(t *testing.T) {
	ctx := context.Background()
	rc, _ := newTestClient(t)
	store := NewOTPStore(rc)

	require.NoError(t, store.Put(ctx, sampleRecord(time.Now().UTC()), time.Minute))
	other := sampleRecord(time.Now().UTC())
	other.Phone = "9123456780"
	require.NoError(t, store.Put(ctx, other, time.Minute))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, rc.Client.Persist(ctx, "test:otp:9123456780").Err())
	orphaned, err := store.KeysWithoutTTL(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test:otp:9123456780"}, orphaned)
}

func TestThrottleStore(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestClient(t)
	store := NewThrottleStore(rc)

	_, ok, err := store.LastSent(ctx, phone)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkSent(ctx, phone, at, 30*time.Second))

	got, ok, err := store.LastSent(ctx, phone)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at, got)

	mr.FastForward(31 * time.Second)
	_, ok, err = store.LastSent(ctx, phone)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockoutStore_RecordFailure(t *testing.T) {
	ctx := context.Background()
	rc, _ := newTestClient(t)
	store := NewLockoutStore(rc)
	policy := repository.LockoutPolicy{Threshold: 5, Window: time.Hour}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Get(ctx, phone)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	var entry *models.LockoutEntry
	for i := 0; i < 4; i++ {
		entry, err = store.RecordFailure(ctx, phone, start.Add(time.Duration(i)*time.Minute), policy)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, entry.FailureCount)
	assert.True(t, entry.LockedUntil.IsZero())

	entry, err = store.RecordFailure(ctx, phone, start.Add(10*time.Minute), policy)
	require.NoError(t, err)
	assert.Equal(t, 5, entry.FailureCount)
	assert.Equal(t, start, entry.WindowStart)
	assert.Equal(t, start.Add(time.Hour), entry.LockedUntil)

	// Failures while locked keep the original deadline.
	entry, err = store.RecordFailure(ctx, phone, start.Add(50*time.Minute), policy)
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Hour), entry.LockedUntil)

	stored, err := store.Get(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.FailureCount)
	assert.Equal(t, start.Add(time.Hour), stored.LockedUntil)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Clear(ctx, phone))
	_, err = store.Get(ctx, phone)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLockoutStore_WindowResets(t *testing.T) {
	ctx := context.Background()
	rc, _ := newTestClient(t)
	store := NewLockoutStore(rc)
	policy := repository.LockoutPolicy{Threshold: 5, Window: time.Hour}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.RecordFailure(ctx, phone, start, policy)
	require.NoError(t, err)
	_, err = store.RecordFailure(ctx, phone, start.Add(time.Minute), policy)
	require.NoError(t, err)

	later := start.Add(61 * time.Minute)
	entry, err := store.RecordFailure(ctx, phone, later, policy)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.FailureCount)
	assert.Equal(t, later, entry.WindowStart)
}
