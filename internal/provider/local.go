package provider

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"mealzee-auth/internal/hashing"
	"mealzee-auth/internal/models"
	"mealzee-auth/internal/util"
)

const NameLocal = "local"

// Local generates codes itself, stores only their hash and hands the text
// to a Sender.
type Local struct {
	hasher     *hashing.Hasher
	sender     Sender
	codeLength int
	ttl        time.Duration
	channel    string
}

func NewLocal(hasher *hashing.Hasher, sender Sender, codeLength int, ttl time.Duration, channel string) *Local {
	return &Local{hasher: hasher, sender: sender, codeLength: codeLength, ttl: ttl, channel: channel}
}

func (l *Local) Name() string    { return NameLocal }
func (l *Local) Channel() string { return l.channel }

func (l *Local) Dispatch(ctx context.Context, phone string) *DispatchResult {
	code, err := GenerateCode(l.codeLength)
	if err != nil {
		util.Error("Failed to generate OTP", zap.Error(err))
		return failedDispatch(models.FailureProviderUnavailable, "could not generate code")
	}

	hash, err := l.hasher.HashCode(code)
	if err != nil {
		util.Error("Failed to hash OTP", zap.Error(err))
		return failedDispatch(models.FailureProviderUnavailable, "could not generate code")
	}

	msg := fmt.Sprintf("Your Mealzee verification code is %s. It expires in %d minutes.", code, int(l.ttl.Minutes()))
	if err := l.sender.Send(ctx, phone, msg); err != nil {
		util.Error("Failed to deliver OTP", util.Phone(phone), zap.String("sender", l.sender.Name()), zap.Error(err))
		return failedDispatch(models.FailureProviderUnavailable, "could not deliver code")
	}

	return &DispatchResult{OK: true, Ref: hash, SecretKind: models.SecretLocalHash}
}

func (l *Local) Confirm(_ context.Context, rec *models.VerificationRecord, code string) *ConfirmResult {
	if rec.Degraded() {
		return confirmDegraded(rec, code)
	}

	ok, err := l.hasher.VerifyCode(code, rec.Secret)
	if err != nil {
		util.Error("Stored OTP hash unreadable", util.Phone(rec.Phone), zap.Error(err))
		return failedConfirm(models.FailureProviderUnavailable, "stored code is unreadable")
	}
	if !ok {
		return failedConfirm(models.FailureInvalidCode, "incorrect code")
	}
	return &ConfirmResult{OK: true}
}

// GenerateCode returns a uniformly random numeric code of length digits.
func GenerateCode(length int) (string, error) {
	max := big.NewInt(10)
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
