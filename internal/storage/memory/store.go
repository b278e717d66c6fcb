// Package memory implements the reservation store as a mutex-guarded keyed
// map. Critical sections are map lookups and inserts only, so one lock for
// the whole table is enough (per-slot serialization falls out of it); there
// is no I/O under the lock.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/clinovet/reserve-api/internal/domain"
	"github.com/google/uuid"
)

type Store struct {
	mu     sync.Mutex
	bySlot map[domain.SlotKey]*domain.Reservation
	byID   map[string]*domain.Reservation
}

func NewStore() *Store {
	return &Store{
		bySlot: make(map[domain.SlotKey]*domain.Reservation),
		byID:   make(map[string]*domain.Reservation),
	}
}

func (s *Store) TryReserve(_ context.Context, slot domain.SlotKey, sessionID string, now time.Time, ttl time.Duration) (domain.Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.bySlot[slot]; ok {
		if existing.Stale(now) {
			s.expireLocked(existing, now)
		} else if existing.SessionID == sessionID {
			return *existing, false, nil
		} else {
			return domain.Reservation{}, false, &domain.ConflictError{
				Slot:       slot,
				RetryAfter: existing.Remaining(now),
			}
		}
	}

	res := &domain.Reservation{
		ID:        uuid.NewString(),
		Slot:      slot,
		SessionID: sessionID,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.bySlot[slot] = res
	s.byID[res.ID] = res
	return *res, true, nil
}

func (s *Store) Get(_ context.Context, id string) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.byID[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return *res, nil
}

func (s *Store) GetBySlot(_ context.Context, slot domain.SlotKey, now time.Time) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.bySlot[slot]
	if !ok || res.Stale(now) {
		return nil, nil
	}
	out := *res
	return &out, nil
}

func (s *Store) Transition(_ context.Context, id, sessionID string, from, to domain.Status, now time.Time) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.byID[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if res.SessionID != sessionID {
		return domain.Reservation{}, domain.ErrNotSessionOwner
	}
	if res.Stale(now) {
		s.expireLocked(res, now)
	}
	if res.Status != from {
		if res.Status == domain.StatusExpired {
			return *res, domain.ErrReservationExpired
		}
		return *res, domain.ErrInvalidTransition
	}

	if res.Status == domain.StatusActive && to.Terminal() {
		delete(s.bySlot, res.Slot)
	}
	res.Status = to
	res.UpdatedAt = now
	return *res, nil
}

func (s *Store) Renew(_ context.Context, id, sessionID string, now time.Time, ttl time.Duration) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.byID[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if res.SessionID != sessionID {
		return domain.Reservation{}, domain.ErrNotSessionOwner
	}
	if res.Stale(now) {
		s.expireLocked(res, now)
	}
	if res.Status != domain.StatusActive {
		if res.Status == domain.StatusExpired {
			return *res, domain.ErrReservationExpired
		}
		return *res, domain.ErrInvalidTransition
	}

	res.ExpiresAt = now.Add(ttl)
	res.UpdatedAt = now
	return *res, nil
}

func (s *Store) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for _, res := range s.bySlot {
		if res.Stale(now) {
			s.expireLocked(res, now)
			evicted++
		}
	}
	return evicted, nil
}

func (s *Store) PurgeTerminal(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, res := range s.byID {
		if res.Status.Terminal() && res.UpdatedAt.Before(before) {
			delete(s.byID, id)
			purged++
		}
	}
	return purged, nil
}

// expireLocked moves a stale record out of the live slot index. Callers must
// hold s.mu.
func (s *Store) expireLocked(res *domain.Reservation, now time.Time) {
	res.Status = domain.StatusExpired
	res.UpdatedAt = now
	if cur, ok := s.bySlot[res.Slot]; ok && cur.ID == res.ID {
		delete(s.bySlot, res.Slot)
	}
}
