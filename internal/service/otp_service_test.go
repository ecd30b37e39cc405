package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealzee-auth/internal/audit"
	"mealzee-auth/internal/config"
	"mealzee-auth/internal/models"
	"mealzee-auth/internal/provider"
	"mealzee-auth/internal/ratelimit"
	"mealzee-auth/internal/repository/memory"
)

const (
	testPhone   = "9876543210"
	correctCode = "123456"
	wrongCode   = "000000"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider issues sequential refs and accepts correctCode for the latest
// ref only, so a code bound to a replaced record fails.
type fakeProvider struct {
	mu          sync.Mutex
	seq         int
	live        string
	dispatchErr models.ProviderFailure
	confirmErr  models.ProviderFailure
	confirms    atomic.Int32
}

func (p *fakeProvider) Name() string    { return "fake" }
func (p *fakeProvider) Channel() string { return config.ChannelSMS }

func (p *fakeProvider) Dispatch(ctx context.Context, phone string) *provider.DispatchResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dispatchErr != models.FailureNone {
		return &provider.DispatchResult{Failure: p.dispatchErr, Message: "upstream said no"}
	}
	p.seq++
	p.live = "ref-" + string(rune('0'+p.seq))
	return &provider.DispatchResult{OK: true, Ref: p.live, SecretKind: models.SecretProviderRef}
}

func (p *fakeProvider) Confirm(ctx context.Context, rec *models.VerificationRecord, code string) *provider.ConfirmResult {
	p.confirms.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.confirmErr != models.FailureNone {
		return &provider.ConfirmResult{Failure: p.confirmErr}
	}
	if rec.Secret == p.live && code == correctCode {
		return &provider.ConfirmResult{OK: true}
	}
	return &provider.ConfirmResult{Failure: models.FailureInvalidCode}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *recordingEmitter) Publish(ev audit.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	svc     *OTPService
	clock   *fakeClock
	events  *recordingEmitter
	store   *memory.OTPStore
	provide provider.Provider
}

func newHarness(t *testing.T, p provider.Provider) *harness {
	t.Helper()
	clock := newFakeClock()

	otpStore, err := memory.NewOTPStore(100)
	require.NoError(t, err)
	t.Cleanup(otpStore.Close)
	throttleStore, err := memory.NewThrottleStore(100)
	require.NoError(t, err)
	t.Cleanup(throttleStore.Close)
	lockoutStore, err := memory.NewLockoutStore(100)
	require.NoError(t, err)
	t.Cleanup(lockoutStore.Close)

	events := &recordingEmitter{}
	svc := NewOTPService(
		otpStore,
		ratelimit.NewResendThrottle(throttleStore, 30*time.Second, ratelimit.WithClock(clock.Now)),
		ratelimit.NewBruteForceGuard(lockoutStore, 5, time.Hour, ratelimit.WithClock(clock.Now)),
		p,
		WithClock(clock.Now),
		WithEmitter(events),
	)
	return &harness{svc: svc, clock: clock, events: events, store: otpStore, provide: p}
}

func (h *harness) send(t *testing.T) {
	t.Helper()
	res := h.svc.SendOTP(context.Background(), testPhone)
	require.True(t, res.Success, "send failed: %+v", res)
}

func TestSendOTP_InvalidPhone(t *testing.T) {
	h := newHarness(t, &fakeProvider{})

	for _, raw := range []string{"", "12345", "5876543210", "98765432101234"} {
		res := h.svc.SendOTP(context.Background(), raw)
		assert.False(t, res.Success)
		assert.Equal(t, models.KindInvalidPhoneFormat, res.Error, raw)
	}
}

func TestSendOTP_NormalizesPhone(t *testing.T) {
	h := newHarness(t, &fakeProvider{})

	res := h.svc.SendOTP(context.Background(), "+91 98765-43210")
	require.True(t, res.Success)

	rec, err := h.store.Get(context.Background(), testPhone)
	require.NoError(t, err)
	assert.Equal(t, "ref-1", rec.Secret)
	assert.Equal(t, 0, rec.Attempts)
	assert.Equal(t, h.clock.Now(), rec.IssuedAt)
}

func TestVerifyOTP_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeProvider{})
	h.send(t)

	res := h.svc.VerifyOTP(ctx, testPhone, correctCode)
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)

	_, err := h.store.Get(ctx, testPhone)
	assert.Error(t, err, "verified record must be removed")
	assert.Contains(t, h.events.types(), models.EventOTPVerified)
}

func TestVerifyOTP_ExpiredAfterTTL(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	h.send(t)

	h.clock.Advance(300 * time.Second)

	res := h.svc.VerifyOTP(context.Background(), testPhone, correctCode)
	assert.False(t, res.Success)
	assert.Equal(t, models.KindExpired, res.Error)

	again := h.svc.VerifyOTP(context.Background(), testPhone, correctCode)
	assert.Equal(t, models.KindExpired, again.Error)
}

func TestVerifyOTP_JustInsideTTL(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	h.send(t)

	h.clock.Advance(299 * time.Second)

	res := h.svc.VerifyOTP(context.Background(), testPhone, correctCode)
	assert.True(t, res.Success)
}

func TestVerifyOTP_NoRecord(t *testing.T) {
	h := newHarness(t, &fakeProvider{})

	res := h.svc.VerifyOTP(context.Background(), testPhone, correctCode)
	assert.Equal(t, models.KindExpired, res.Error)
}

func TestVerifyOTP_ExhaustedAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	h := newHarness(t, p)
	h.send(t)

	first := h.svc.VerifyOTP(ctx, testPhone, wrongCode)
	assert.Equal(t, models.KindInvalidCode, first.Error)
	require.NotNil(t, first.AttemptsLeft)
	assert.Equal(t, 2, *first.AttemptsLeft)

	second := h.svc.VerifyOTP(ctx, testPhone, wrongCode)
	assert.Equal(t, models.KindInvalidCode, second.Error)
	require.NotNil(t, second.AttemptsLeft)
	assert.Equal(t, 1, *second.AttemptsLeft)

	third := h.svc.VerifyOTP(ctx, testPhone, wrongCode)
	assert.Equal(t, models.KindExhausted, third.Error)

	_, err := h.store.Get(ctx, testPhone)
	assert.Error(t, err, "exhausted record must be removed")

	// Even the right code cannot revive the record.
	fourth := h.svc.VerifyOTP(ctx, testPhone, correctCode)
	assert.Equal(t, models.KindExhausted, fourth.Error)
	assert.EqualValues(t, 3, p.confirms.Load())

	// A fresh send starts a new cycle.
	h.clock.Advance(31 * time.Second)
	h.send(t)
	res := h.svc.VerifyOTP(ctx, testPhone, correctCode)
	assert.True(t, res.Success)
}

func TestSendOTP_ResendThrottle(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	h.send(t)

	h.clock.Advance(10 * time.Second)
	res := h.svc.SendOTP(context.Background(), testPhone)
	assert.Equal(t, models.KindResendTooSoon, res.Error)
	assert.Equal(t, 20, res.RetryAfterSeconds)

	wait, errRes := h.svc.RemainingCooldown(context.Background(), testPhone)
	assert.Nil(t, errRes)
	assert.Equal(t, 20, wait)

	h.clock.Advance(20 * time.Second)
	res = h.svc.SendOTP(context.Background(), testPhone)
	assert.True(t, res.Success)
}

func TestSendOTP_ProviderFailureDoesNotThrottle(t *testing.T) {
	p := &fakeProvider{dispatchErr: models.FailureProviderUnavailable}
	h := newHarness(t, p)

	res := h.svc.SendOTP(context.Background(), testPhone)
	assert.Equal(t, models.KindProviderError, res.Error)
	assert.NotEmpty(t, res.Message)
	assert.Contains(t, h.events.types(), models.EventOTPSendFailed)

	p.mu.Lock()
	p.dispatchErr = models.FailureNone
	p.mu.Unlock()

	h.send(t)
}

func TestVerifyOTP_LockoutAfterFiveFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeProvider{})
	start := h.clock.Now()

	// Each verify against a missing record is a failure.
	for i := 0; i < 4; i++ {
		res := h.svc.VerifyOTP(ctx, testPhone, correctCode)
		require.Equal(t, models.KindExpired, res.Error)
		h.clock.Advance(time.Minute)
	}

	res := h.svc.VerifyOTP(ctx, testPhone, correctCode)
	assert.Equal(t, models.KindLocked, res.Error)
	assert.Equal(t, 56, res.RemainingMinutes)
	assert.Contains(t, h.events.types(), models.EventOTPLocked)

	send := h.svc.SendOTP(ctx, testPhone)
	assert.Equal(t, models.KindLocked, send.Error)
	assert.Positive(t, send.RemainingMinutes)

	verify := h.svc.VerifyOTP(ctx, testPhone, correctCode)
	assert.Equal(t, models.KindLocked, verify.Error)

	// The lock ends one hour after the first failure, not later.
	h.clock.Advance(start.Add(time.Hour).Sub(h.clock.Now()))
	h.send(t)
	assert.True(t, h.svc.VerifyOTP(ctx, testPhone, correctCode).Success)
}

func TestSendOTP_OverwritesPendingRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeProvider{})
	h.send(t)

	old, err := h.store.Get(ctx, testPhone)
	require.NoError(t, err)

	h.clock.Advance(31 * time.Second)
	h.send(t)

	current, err := h.store.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.NotEqual(t, old.Secret, current.Secret)
	assert.Equal(t, 0, current.Attempts)

	// The code bound to the first record no longer works.
	stale := h.provide.Confirm(ctx, old, correctCode)
	assert.False(t, stale.OK)
	assert.True(t, h.svc.VerifyOTP(ctx, testPhone, correctCode).Success)
}

func TestDegradedFlow_AlreadyExistsWithoutReference(t *testing.T) {
	ctx := context.Background()
	var confirmCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			confirmCalls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"REQUEST_ALREADY_EXISTS"}`))
	}))
	t.Cleanup(server.Close)

	mc := provider.NewMessageCentral(config.ProviderConfig{
		BaseURL:    server.URL,
		CustomerID: "C-1",
		AuthToken:  "tok",
		Timeout:    2 * time.Second,
	}, "91", config.ChannelSMS)
	h := newHarness(t, mc)

	send := h.svc.SendOTP(ctx, testPhone)
	require.True(t, send.Success)
	assert.True(t, send.Degraded)

	rec, err := h.store.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, rec.Degraded())

	bad := h.svc.VerifyOTP(ctx, testPhone, "12ab")
	assert.Equal(t, models.KindInvalidCode, bad.Error)

	res := h.svc.VerifyOTP(ctx, testPhone, "4821")
	assert.True(t, res.Success)
	assert.True(t, res.Degraded)
	assert.Zero(t, confirmCalls.Load(), "degraded confirm must not call upstream")
	assert.Contains(t, h.events.types(), models.EventOTPDegraded)
}

func TestLockoutAcrossCycles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeProvider{})

	h.send(t)
	for i := 0; i < 3; i++ {
		h.svc.VerifyOTP(ctx, testPhone, wrongCode)
	}

	h.clock.Advance(31 * time.Second)
	h.send(t)
	assert.Equal(t, models.KindInvalidCode, h.svc.VerifyOTP(ctx, testPhone, wrongCode).Error)
	assert.Equal(t, models.KindLocked, h.svc.VerifyOTP(ctx, testPhone, wrongCode).Error)

	h.clock.Advance(31 * time.Second)
	res := h.svc.SendOTP(ctx, testPhone)
	assert.Equal(t, models.KindLocked, res.Error)
	assert.Positive(t, res.RemainingMinutes)
}

func TestVerifyOTP_SuccessResetsGuard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeProvider{})

	h.send(t)
	h.svc.VerifyOTP(ctx, testPhone, wrongCode)
	h.svc.VerifyOTP(ctx, testPhone, wrongCode)
	require.True(t, h.svc.VerifyOTP(ctx, testPhone, correctCode).Success)

	// Four more failures would have locked without the reset.
	for i := 0; i < 4; i++ {
		res := h.svc.VerifyOTP(ctx, testPhone, correctCode)
		assert.NotEqual(t, models.KindLocked, res.Error)
	}
}

func TestVerifyOTP_NonNumericCodeConsumesAttempt(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	h := newHarness(t, p)
	h.send(t)

	res := h.svc.VerifyOTP(ctx, testPhone, "abc")
	assert.Equal(t, models.KindInvalidCode, res.Error)
	assert.Zero(t, p.confirms.Load())

	rec, err := h.store.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)
}

func TestVerifyOTP_ProviderUnavailable(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{confirmErr: models.FailureProviderUnavailable}
	h := newHarness(t, p)
	h.send(t)

	for i := 0; i < 6; i++ {
		res := h.svc.VerifyOTP(ctx, testPhone, correctCode)
		if i < 3 {
			assert.Equal(t, models.KindProviderError, res.Error)
		}
	}

	p.mu.Lock()
	p.confirmErr = models.FailureNone
	p.mu.Unlock()
	h.clock.Advance(31 * time.Second)
	h.send(t)
	assert.True(t, h.svc.VerifyOTP(ctx, testPhone, correctCode).Success)
}

func TestVerifyOTP_ProviderReportsExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeProvider{confirmErr: models.FailureExpired})
	h.send(t)

	res := h.svc.VerifyOTP(ctx, testPhone, correctCode)
	assert.Equal(t, models.KindExpired, res.Error)

	_, err := h.store.Get(ctx, testPhone)
	assert.Error(t, err)
}

func TestVerifyOTP_ConcurrentGuessesConsumeSeparateAttempts(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	h := newHarness(t, p)
	h.send(t)

	var wg sync.WaitGroup
	results := make([]*Result, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.svc.VerifyOTP(ctx, testPhone, wrongCode)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, p.confirms.Load(), int32(3))
	for _, res := range results {
		assert.False(t, res.Success)
	}
}
