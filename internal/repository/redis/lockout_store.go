package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mealzee-auth/internal/client"
	"mealzee-auth/internal/models"
	"mealzee-auth/internal/repository"
	"mealzee-auth/internal/util"
)

const otpLockPrefix = "otp_lock:"

// recordFailureScript applies one failure atomically. It mirrors
// repository.ApplyFailure: a stale or missing window starts over, reaching the
// threshold locks until window_start + window, and an existing lock is kept.
//
// KEYS[1] lockout hash
// ARGV[1] now (unix ms), ARGV[2] window (ms), ARGV[3] threshold
var recordFailureScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])

local failures = tonumber(redis.call('HGET', key, 'failures') or '0')
local start = tonumber(redis.call('HGET', key, 'window_start') or '0')
local locked = tonumber(redis.call('HGET', key, 'locked_until') or '0')

if failures == 0 or now - start > window then
  failures = 0
  start = now
  locked = 0
end

failures = failures + 1
if locked == 0 and failures >= threshold then
  locked = start + window
end

redis.call('HSET', key, 'failures', failures, 'window_start', start, 'locked_until', locked)
redis.call('PEXPIRE', key, window)
return {failures, start, locked}
`)

type LockoutStore struct {
	client *client.RedisClient
}

func NewLockoutStore(client *client.RedisClient) *LockoutStore {
	return &LockoutStore{client: client}
}

func (s *LockoutStore) key(phone string) string {
	return s.client.Key(otpLockPrefix, phone)
}

func (s *LockoutStore) Get(ctx context.Context, phone string) (*models.LockoutEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.key(phone))
	if err != nil {
		return nil, fmt.Errorf("failed to read lockout: %w", err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}

	failures, err := strconv.Atoi(fields["failures"])
	if err != nil {
		return nil, fmt.Errorf("invalid lockout failures: %w", err)
	}
	start, err := strconv.ParseInt(fields["window_start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid lockout window: %w", err)
	}
	locked, err := strconv.ParseInt(fields["locked_until"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid lockout deadline: %w", err)
	}
	return newLockoutEntry(phone, int64(failures), start, locked), nil
}

func (s *LockoutStore) RecordFailure(ctx context.Context, phone string, now time.Time, policy repository.LockoutPolicy) (*models.LockoutEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.client.Run(ctx, recordFailureScript, []string{s.key(phone)},
		now.UnixMilli(), policy.Window.Milliseconds(), policy.Threshold)
	if err != nil {
		util.Error("Failed to record OTP failure", util.Phone(phone), zap.Error(err))
		return nil, fmt.Errorf("failed to record OTP failure: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return nil, fmt.Errorf("unexpected lockout reply %T", res)
	}
	failures, _ := vals[0].(int64)
	start, _ := vals[1].(int64)
	locked, _ := vals[2].(int64)
	return newLockoutEntry(phone, failures, start, locked), nil
}

func (s *LockoutStore) Clear(ctx context.Context, phone string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(phone)); err != nil {
		return fmt.Errorf("failed to clear lockout: %w", err)
	}
	return nil
}

func (s *LockoutStore) Count(ctx context.Context) (int, error) {
	keys, err := s.client.ScanKeys(ctx, s.client.Key(otpLockPrefix, "*"), 1000)
	if err != nil {
		return 0, fmt.Errorf("failed to scan lockouts: %w", err)
	}
	return len(keys), nil
}

func newLockoutEntry(phone string, failures, startMs, lockedMs int64) *models.LockoutEntry {
	entry := &models.LockoutEntry{
		Phone:        phone,
		FailureCount: int(failures),
		WindowStart:  time.UnixMilli(startMs).UTC(),
	}
	if lockedMs > 0 {
		entry.LockedUntil = time.UnixMilli(lockedMs).UTC()
	}
	return entry
}

var _ repository.LockoutStore = (*LockoutStore)(nil)
