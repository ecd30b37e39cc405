// Package provider adapts OTP delivery backends to one contract. Upstream
// response quirks are absorbed here and never leak to the service.
package provider

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealzee-auth/internal/models"
	"mealzee-auth/internal/util"
)

const placeholderPrefix = "local-"

var codeFormat = regexp.MustCompile(`^[0-9]{4,6}$`)

// DispatchResult describes a send attempt. On success Ref is what must be
// stored as the record secret, interpreted according to SecretKind.
type DispatchResult struct {
	OK         bool
	Ref        string
	SecretKind models.SecretKind
	Degraded   bool
	Failure    models.ProviderFailure
	Message    string
}

type ConfirmResult struct {
	OK       bool
	Degraded bool
	Failure  models.ProviderFailure
	Message  string
}

// Provider delivers codes and checks them.
type Provider interface {
	Name() string
	Channel() string
	Dispatch(ctx context.Context, phone string) *DispatchResult
	Confirm(ctx context.Context, rec *models.VerificationRecord, code string) *ConfirmResult
}

func failedDispatch(failure models.ProviderFailure, msg string) *DispatchResult {
	return &DispatchResult{Failure: failure, Message: msg}
}

func failedConfirm(failure models.ProviderFailure, msg string) *ConfirmResult {
	return &ConfirmResult{Failure: failure, Message: msg}
}

// placeholderDispatch is used when the provider accepted a send but gave us
// nothing to confirm against later.
func placeholderDispatch(msg string) *DispatchResult {
	return &DispatchResult{
		OK:         true,
		Ref:        placeholderPrefix + uuid.New().String(),
		SecretKind: models.SecretPlaceholder,
		Degraded:   true,
		Message:    msg,
	}
}

// IsPlaceholderRef reports whether ref was synthesized locally.
func IsPlaceholderRef(ref string) bool {
	return len(ref) > len(placeholderPrefix) && ref[:len(placeholderPrefix)] == placeholderPrefix
}

// confirmDegraded accepts any well-formed code. This is strictly weaker than
// a provider check and is logged as such on every use.
func confirmDegraded(rec *models.VerificationRecord, code string) *ConfirmResult {
	if !codeFormat.MatchString(code) {
		return &ConfirmResult{Degraded: true, Failure: models.FailureInvalidCode, Message: "code must be 4 to 6 digits"}
	}
	util.Warn("Degraded OTP confirmation accepted on format only",
		util.Phone(rec.Phone),
		zap.String("provider", rec.Provider),
		zap.String("ref", rec.Secret))
	return &ConfirmResult{OK: true, Degraded: true}
}
