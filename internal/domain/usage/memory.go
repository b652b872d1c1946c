package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memReservation struct {
	entityID   string
	customerID string
	expiresAt  time.Time
}

// MemoryStore is an in-process Store for tests and local development. All
// operations take one mutex, which makes the conditional increment trivially
// atomic.
type MemoryStore struct {
	mu           sync.Mutex
	counts       map[string]int
	customer     map[string]map[string]int
	reservations map[string]memReservation
	redeemed     map[string]map[string]bool
	now          func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts:       make(map[string]int),
		customer:     make(map[string]map[string]int),
		reservations: make(map[string]memReservation),
		redeemed:     make(map[string]map[string]bool),
		now:          time.Now,
	}
}

// SeedCount sets the current usage count for an entity, for tests.
func (s *MemoryStore) SeedCount(entityID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[entityID] = count
}

// ConditionalIncrement implements Store.
func (s *MemoryStore) ConditionalIncrement(_ context.Context, entityID, customerID string, caps Caps, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caps.Max > 0 && s.counts[entityID] >= caps.Max {
		return "", false, nil
	}
	if caps.MaxPerCustomer > 0 && customerID != "" {
		if s.customer[entityID][customerID] >= caps.MaxPerCustomer {
			return "", false, nil
		}
	}

	s.counts[entityID]++
	if customerID != "" {
		if s.customer[entityID] == nil {
			s.customer[entityID] = make(map[string]int)
		}
		s.customer[entityID][customerID]++
	}

	id := uuid.New().String()
	s.reservations[id] = memReservation{
		entityID:   entityID,
		customerID: customerID,
		expiresAt:  s.now().Add(ttl),
	}
	return id, true, nil
}

// CommitReservation implements Store.
func (s *MemoryStore) CommitReservation(_ context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil // already committed, released, or expired
	}
	delete(s.reservations, reservationID)
	if r.customerID != "" {
		if s.redeemed[r.entityID] == nil {
			s.redeemed[r.entityID] = make(map[string]bool)
		}
		s.redeemed[r.entityID][r.customerID] = true
	}
	return nil
}

// ReleaseReservation implements Store.
func (s *MemoryStore) ReleaseReservation(_ context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(reservationID)
	return nil
}

func (s *MemoryStore) releaseLocked(reservationID string) {
	r, ok := s.reservations[reservationID]
	if !ok {
		return
	}
	delete(s.reservations, reservationID)
	s.counts[r.entityID]--
	if r.customerID != "" {
		s.customer[r.entityID][r.customerID]--
	}
}

// ReleaseExpired implements Store.
func (s *MemoryStore) ReleaseExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	released := 0
	for id, r := range s.reservations {
		if r.expiresAt.Before(now) {
			s.releaseLocked(id)
			released++
		}
	}
	return released, nil
}

// HasPriorRedemption implements Store.
func (s *MemoryStore) HasPriorRedemption(_ context.Context, entityID, customerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redeemed[entityID][customerID], nil
}

// CustomerUsage implements Store.
func (s *MemoryStore) CustomerUsage(_ context.Context, entityID, customerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customer[entityID][customerID], nil
}
