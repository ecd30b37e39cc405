// Package memory provides single-process implementations of the repository
// stores, backed by otter caches with per-entry TTL.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"mealzee-auth/internal/models"
	"mealzee-auth/internal/repository"
)

const defaultCapacity = 100_000

type storedRecord struct {
	record models.VerificationRecord
	// evictAt is wall-clock time; otter's eviction does not follow the
	// injected service clock.
	evictAt time.Time
}

// OTPStore keeps verification records in process memory. Every
// read-modify-write happens under mu; otter only evicts stale entries.
type OTPStore struct {
	mu      sync.Mutex
	records otter.CacheWithVariableTTL[string, storedRecord]
	retired otter.CacheWithVariableTTL[string, models.ErrorKind]
}

func NewOTPStore(capacity int) (*OTPStore, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	records, err := otter.MustBuilder[string, storedRecord](capacity).WithVariableTTL().Build()
	if err != nil {
		return nil, err
	}
	retired, err := otter.MustBuilder[string, models.ErrorKind](capacity).WithVariableTTL().Build()
	if err != nil {
		records.Close()
		return nil, err
	}
	return &OTPStore{records: records, retired: retired}, nil
}

func (s *OTPStore) Put(_ context.Context, rec *models.VerificationRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records.Set(rec.Phone, storedRecord{record: *rec, evictAt: time.Now().Add(ttl)}, ttl)
	s.retired.Delete(rec.Phone)
	return nil
}

func (s *OTPStore) Get(_ context.Context, phone string) (*models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records.Get(phone)
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec := stored.record
	return &rec, nil
}

func (s *OTPStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records.Delete(phone)
	return nil
}

func (s *OTPStore) IncrementAttempts(_ context.Context, phone string) (*models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records.Get(phone)
	if !ok {
		return nil, repository.ErrNotFound
	}
	stored.record.Attempts++
	ttl := time.Until(stored.evictAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	s.records.Set(phone, stored, ttl)
	rec := stored.record
	return &rec, nil
}

func (s *OTPStore) MarkRetired(_ context.Context, phone string, kind models.ErrorKind, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retired.Set(phone, kind, ttl)
	return nil
}

func (s *OTPStore) Retired(_ context.Context, phone string) (models.ErrorKind, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, ok := s.retired.Get(phone)
	return kind, ok, nil
}

func (s *OTPStore) Count(_ context.Context) (int, error) {
	return s.records.Size(), nil
}

func (s *OTPStore) Close() {
	s.records.Close()
	s.retired.Close()
}

var _ repository.OTPStore = (*OTPStore)(nil)
