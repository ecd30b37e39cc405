package provider

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealzee-auth/internal/config"
	"mealzee-auth/internal/hashing"
	"mealzee-auth/internal/models"
)

type captureSender struct {
	mu       sync.Mutex
	messages map[string]string
	err      error
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) Send(_ context.Context, phone, message string) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messages == nil {
		c.messages = map[string]string{}
	}
	c.messages[phone] = message
	return nil
}

var sixDigits = regexp.MustCompile(`\d{6}`)

func newTestLocal(sender Sender) *Local {
	hasher := hashing.NewHasher(&config.Config{Hashing: config.HashingConfig{
		Argon2MemoryCost:  8 * 1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
		Pepper:            "test",
	}})
	return NewLocal(hasher, sender, 6, 5*time.Minute, config.ChannelLocal)
}

func TestGenerateCode(t *testing.T) {
	for _, n := range []int{4, 6} {
		code, err := GenerateCode(n)
		require.NoError(t, err)
		assert.Len(t, code, n)
		assert.Regexp(t, `^[0-9]+$`, code)
	}
}

func TestLocal_DispatchAndConfirm(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	local := newTestLocal(sender)

	res := local.Dispatch(ctx, testPhone)
	require.True(t, res.OK)
	assert.Equal(t, models.SecretLocalHash, res.SecretKind)

	code := sixDigits.FindString(sender.messages[testPhone])
	require.NotEmpty(t, code)
	assert.Contains(t, sender.messages[testPhone], "expires in 5 minutes")

	rec := &models.VerificationRecord{Phone: testPhone, Secret: res.Ref, SecretKind: res.SecretKind}
	assert.True(t, local.Confirm(ctx, rec, code).OK)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	bad := local.Confirm(ctx, rec, wrong)
	assert.False(t, bad.OK)
	assert.Equal(t, models.FailureInvalidCode, bad.Failure)
}

func TestLocal_SenderFailure(t *testing.T) {
	local := newTestLocal(&captureSender{err: errors.New("gateway down")})

	res := local.Dispatch(context.Background(), testPhone)
	assert.False(t, res.OK)
	assert.Equal(t, models.FailureProviderUnavailable, res.Failure)
}

func TestLocal_CorruptHash(t *testing.T) {
	local := newTestLocal(&captureSender{})
	rec := &models.VerificationRecord{Phone: testPhone, Secret: "garbage", SecretKind: models.SecretLocalHash}

	res := local.Confirm(context.Background(), rec, "123456")
	assert.False(t, res.OK)
	assert.Equal(t, models.FailureProviderUnavailable, res.Failure)
}
