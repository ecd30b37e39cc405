// Package redis implements the repository stores on Redis so that every
// service replica sees the same records, throttles and lockouts.
package redis

import (
	"context"
	"errors"
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

const (
	otpPrefix        = "otp:"
	otpRetiredPrefix = "otp_retired:"

	opTimeout = 5 * time.Second
)

const (
	fieldSecret     = "secret"
	fieldSecretKind = "secret_kind"
	fieldChannel    = "channel"
	fieldProvider   = "provider"
	fieldIssuedAt   = "issued_at"
	fieldAttempts   = "attempts"
)

// incrementAttemptsScript bumps the attempt counter only when the record
// still exists, so a concurrent delete cannot resurrect a partial hash.
var incrementAttemptsScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
return redis.call('HGETALL', KEYS[1])
`)

type OTPStore struct {
	client *client.RedisClient
}

func NewOTPStore(client *client.RedisClient) *OTPStore {
	return &OTPStore{client: client}
}

func (s *OTPStore) recordKey(phone string) string {
	return s.client.Key(otpPrefix, phone)
}

func (s *OTPStore) retiredKey(phone string) string {
	return s.client.Key(otpRetiredPrefix, phone)
}

func (s *OTPStore) Put(ctx context.Context, rec *models.VerificationRecord, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := s.recordKey(rec.Phone)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		fieldSecret, rec.Secret,
		fieldSecretKind, string(rec.SecretKind),
		fieldChannel, rec.Channel,
		fieldProvider, rec.Provider,
		fieldIssuedAt, rec.IssuedAt.UnixMilli(),
		fieldAttempts, rec.Attempts,
	)
	pipe.PExpire(ctx, key, ttl)
	pipe.Del(ctx, s.retiredKey(rec.Phone))

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to store OTP record", util.Phone(rec.Phone), zap.Error(err))
		return fmt.Errorf("failed to store OTP record: %w", err)
	}
	util.Debug("OTP record stored", util.Phone(rec.Phone), zap.Duration("ttl", ttl))
	return nil
}

func (s *OTPStore) Get(ctx context.Context, phone string) (*models.VerificationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.recordKey(phone))
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP record: %w", err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	return decodeRecord(phone, fields)
}

func (s *OTPStore) Delete(ctx context.Context, phone string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.recordKey(phone)); err != nil {
		util.Error("Failed to delete OTP record", util.Phone(phone), zap.Error(err))
		return fmt.Errorf("failed to delete OTP record: %w", err)
	}
	return nil
}

func (s *OTPStore) IncrementAttempts(ctx context.Context, phone string) (*models.VerificationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.client.Run(ctx, incrementAttemptsScript, []string{s.recordKey(phone)})
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}

	flat, ok := res.([]interface{})
	if !ok || len(flat)%2 != 0 {
		return nil, fmt.Errorf("unexpected increment reply %T", res)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return decodeRecord(phone, fields)
}

func (s *OTPStore) MarkRetired(ctx context.Context, phone string, kind models.ErrorKind, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.retiredKey(phone), string(kind), ttl); err != nil {
		return fmt.Errorf("failed to mark OTP retired: %w", err)
	}
	return nil
}

func (s *OTPStore) Retired(ctx context.Context, phone string) (models.ErrorKind, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.retiredKey(phone))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read OTP retirement: %w", err)
	}
	return models.ErrorKind(val), true, nil
}

// Count scans the live OTP records. It walks the keyspace, so it is meant for
// the periodic stats job only.
func (s *OTPStore) Count(ctx context.Context) (int, error) {
	keys, err := s.client.ScanKeys(ctx, s.client.Key(otpPrefix, "*"), 1000)
	if err != nil {
		return 0, fmt.Errorf("failed to scan OTP records: %w", err)
	}
	return len(keys), nil
}

// KeysWithoutTTL returns OTP record keys that would never expire. Every write
// sets a TTL, so anything found here is a bug or a manual edit.
func (s *OTPStore) KeysWithoutTTL(ctx context.Context) ([]string, error) {
	keys, err := s.client.ScanKeys(ctx, s.client.Key(otpPrefix, "*"), 1000)
	if err != nil {
		return nil, fmt.Errorf("failed to scan OTP records: %w", err)
	}

	var orphaned []string
	for _, key := range keys {
		ttl, err := s.client.TTL(ctx, key)
		if err != nil {
			continue
		}
		// -1: no expiry, -2: gone since the scan
		if ttl == -1 {
			orphaned = append(orphaned, key)
		}
	}
	return orphaned, nil
}

func (s *OTPStore) DeleteKeys(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...)
}

func decodeRecord(phone string, fields map[string]string) (*models.VerificationRecord, error) {
	issuedMs, err := strconv.ParseInt(fields[fieldIssuedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid issued_at for OTP record: %w", err)
	}
	attempts, err := strconv.Atoi(fields[fieldAttempts])
	if err != nil {
		return nil, fmt.Errorf("invalid attempts for OTP record: %w", err)
	}
	return &models.VerificationRecord{
		Phone:      phone,
		Secret:     fields[fieldSecret],
		SecretKind: models.SecretKind(fields[fieldSecretKind]),
		Channel:    fields[fieldChannel],
		Provider:   fields[fieldProvider],
		IssuedAt:   time.UnixMilli(issuedMs).UTC(),
		Attempts:   attempts,
	}, nil
}

var _ repository.OTPStore = (*OTPStore)(nil)
