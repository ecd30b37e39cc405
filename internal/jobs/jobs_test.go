package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealzee-auth/internal/metrics"
)

type fixedCounter struct {
	n   int
	err error
}

func (f fixedCounter) Count(context.Context) (int, error) { return f.n, f.err }

type fakeAuditor struct {
	keys    []string
	deleted []string
}

func (f *fakeAuditor) KeysWithoutTTL(context.Context) ([]string, error) { return f.keys, nil }

func (f *fakeAuditor) DeleteKeys(_ context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func TestStoreStats(t *testing.T) {
	StoreStats("memory", map[string]Counter{
		"otp":     fixedCounter{n: 3},
		"lockout": fixedCounter{n: 1},
		"broken":  fixedCounter{err: errors.New("boom")},
	})()

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.StoreEntries.WithLabelValues("memory", "otp")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StoreEntries.WithLabelValues("memory", "lockout")))
}

func TestOrphanKeyAudit(t *testing.T) {
	auditor := &fakeAuditor{keys: []string{"otp:1", "otp:2"}}
	OrphanKeyAudit(auditor)()
	assert.Equal(t, []string{"otp:1", "otp:2"}, auditor.deleted)

	empty := &fakeAuditor{}
	OrphanKeyAudit(empty)()
	assert.Empty(t, empty.deleted)
}

func TestScheduler_DuplicateSymbol(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.AddFunc("stats", time.Minute, func() {}))
	assert.Error(t, s.AddFunc("stats", time.Minute, func() {}))

	s.Start()
	require.NoError(t, s.Stop(context.Background()))
}
