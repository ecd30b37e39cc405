package memory

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"mealzee-auth/internal/repository"
)

// ThrottleStore remembers the last send time per phone until the cooldown passes.
type ThrottleStore struct {
	mu    sync.Mutex
	sends otter.CacheWithVariableTTL[string, time.Time]
}

func NewThrottleStore(capacity int) (*ThrottleStore, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	sends, err := otter.MustBuilder[string, time.Time](capacity).WithVariableTTL().Build()
	if err != nil {
		return nil, err
	}
	return &ThrottleStore{sends: sends}, nil
}

func (s *ThrottleStore) LastSent(_ context.Context, phone string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.sends.Get(phone)
	return at, ok, nil
}

func (s *ThrottleStore) MarkSent(_ context.Context, phone string, at time.Time, cooldown time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sends.Set(phone, at, cooldown)
	return nil
}

func (s *ThrottleStore) Close() {
	s.sends.Close()
}

var _ repository.ThrottleStore = (*ThrottleStore)(nil)
