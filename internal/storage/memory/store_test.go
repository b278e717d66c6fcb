package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/clinovet/reserve-api/internal/domain"
)

var testSlot = domain.SlotKey{TenantID: "clinic-1", Date: "2026-09-15", Time: "10:30", ResourceID: "room-a"}

func TestStore_TryReserve(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute
	ctx := context.Background()

	t.Run("reserves a vacant slot", func(t *testing.T) {
		s := NewStore()

		res, _, err := s.TryReserve(ctx, testSlot, "sess-a", now, ttl)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.ID == "" {
			t.Fatalf("expected an id to be assigned")
		}
		if res.Status != domain.StatusActive {
			t.Fatalf("expected status active, got %s", res.Status)
		}
		if !res.ExpiresAt.Equal(now.Add(ttl)) {
			t.Fatalf("expected expiry %v, got %v", now.Add(ttl), res.ExpiresAt)
		}
	})

	t.Run("same session gets the same reservation back", func(t *testing.T) {
		s := NewStore()

		first, created, err := s.TryReserve(ctx, testSlot, "sess-a", now, ttl)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !created {
			t.Fatalf("expected first call to report creation")
		}
		again, created, err := s.TryReserve(ctx, testSlot, "sess-a", now.Add(time.Minute), ttl)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if created {
			t.Fatalf("idempotent retry must not report creation")
		}
		if again.ID != first.ID {
			t.Fatalf("expected the existing reservation, got a new one")
		}
		if !again.ExpiresAt.Equal(first.ExpiresAt) {
			t.Fatalf("idempotent retry must not extend the TTL")
		}
	})

	t.Run("other session conflicts with remaining TTL", func(t *testing.T) {
		s := NewStore()

		if _, _, err := s.TryReserve(ctx, testSlot, "sess-a", now, ttl); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		_, _, err := s.TryReserve(ctx, testSlot, "sess-b", now.Add(2*time.Minute), ttl)
		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected ConflictError, got %v", err)
		}
		if conflict.RetryAfter != 3*time.Minute {
			t.Fatalf("expected retry after 3m, got %s", conflict.RetryAfter)
		}
		if conflict.Slot != testSlot {
			t.Fatalf("expected conflicting slot %v, got %v", testSlot, conflict.Slot)
		}
	})

	t.Run("stale hold counts as vacant", func(t *testing.T) {
		s := NewStore()

		first, _, err := s.TryReserve(ctx, testSlot, "sess-a", now, ttl)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		later := now.Add(ttl) // exactly at the deadline
		second, created, err := s.TryReserve(ctx, testSlot, "sess-b", later, ttl)
		if err != nil {
			t.Fatalf("expected stale hold to be reclaimable, got %v", err)
		}
		if !created {
			t.Fatalf("expected reclaim to report creation")
		}
		if second.ID == first.ID {
			t.Fatalf("expected a fresh reservation, got the stale one")
		}

		old, err := s.Get(ctx, first.ID)
		if err != nil {
			t.Fatalf("expected stale record to remain readable, got %v", err)
		}
		if old.Status != domain.StatusExpired {
			t.Fatalf("expected stale record marked expired, got %s", old.Status)
		}
	})

	t.Run("distinct resources do not conflict", func(t *testing.T) {
		s := NewStore()

		other := testSlot
		other.ResourceID = "room-b"

		if _, _, err := s.TryReserve(ctx, testSlot, "sess-a", now, ttl); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, _, err := s.TryReserve(ctx, other, "sess-b", now, ttl); err != nil {
			t.Fatalf("expected no conflict across resources, got %v", err)
		}
	})
}

func TestStore_TryReserveConcurrent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	now := time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	const sessions = 50
	winners := make(chan domain.Reservation, sessions)
	var wg sync.WaitGroup

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, _, err := s.TryReserve(ctx, testSlot, "sess-"+strconv.Itoa(i), now, 5*time.Minute)
			if err == nil {
				winners <- res
				return
			}
			var conflict *domain.ConflictError
			if !errors.As(err, &conflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	if got := len(winners); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}

func TestStore_Transition(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute
	ctx := context.Background()

	reserve := func(t *testing.T, s *Store) domain.Reservation {
		t.Helper()
		res, _, err := s.TryReserve(ctx, testSlot, "sess-a", now, ttl)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		return res
	}

	t.Run("confirm frees the slot index and keeps the record", func(t *testing.T) {
		s := NewStore()
		res := reserve(t, s)

		got, err := s.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusConfirmed, now.Add(time.Minute))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Status != domain.StatusConfirmed {
			t.Fatalf("expected confirmed, got %s", got.Status)
		}

		// A confirmed slot stays taken at the appointment level, but the
		// reservation engine no longer owns it; another reserve on the same
		// key succeeds at this layer.
		live, err := s.GetBySlot(ctx, testSlot, now.Add(time.Minute))
		if err != nil {
			t.Fatalf("get by slot: %v", err)
		}
		if live != nil {
			t.Fatalf("expected no active hold after confirm")
		}
	})

	t.Run("wrong session is rejected", func(t *testing.T) {
		s := NewStore()
		res := reserve(t, s)

		_, err := s.Transition(ctx, res.ID, "sess-b", domain.StatusActive, domain.StatusConfirmed, now)
		if err != domain.ErrNotSessionOwner {
			t.Fatalf("expected ErrNotSessionOwner, got %v", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		s := NewStore()
		_, err := s.Transition(ctx, "nope", "sess-a", domain.StatusActive, domain.StatusConfirmed, now)
		if err != domain.ErrReservationNotFound {
			t.Fatalf("expected ErrReservationNotFound, got %v", err)
		}
	})

	t.Run("stale hold expires instead of transitioning", func(t *testing.T) {
		s := NewStore()
		res := reserve(t, s)

		got, err := s.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusConfirmed, now.Add(ttl+time.Second))
		if err != domain.ErrReservationExpired {
			t.Fatalf("expected ErrReservationExpired, got %v", err)
		}
		if got.Status != domain.StatusExpired {
			t.Fatalf("expected record demoted to expired, got %s", got.Status)
		}
	})

	t.Run("double confirm reports the current state", func(t *testing.T) {
		s := NewStore()
		res := reserve(t, s)

		if _, err := s.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusConfirmed, now); err != nil {
			t.Fatalf("first confirm: %v", err)
		}
		got, err := s.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusConfirmed, now)
		if err != domain.ErrInvalidTransition {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if got.Status != domain.StatusConfirmed {
			t.Fatalf("expected current status confirmed, got %s", got.Status)
		}
	})

	t.Run("compensating release from confirmed", func(t *testing.T) {
		s := NewStore()
		res := reserve(t, s)

		if _, err := s.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusConfirmed, now); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		got, err := s.Transition(ctx, res.ID, "sess-a", domain.StatusConfirmed, domain.StatusReleased, now.Add(time.Second))
		if err != nil {
			t.Fatalf("expected compensating release to succeed, got %v", err)
		}
		if got.Status != domain.StatusReleased {
			t.Fatalf("expected released, got %s", got.Status)
		}
	})

	t.Run("released slot is immediately reclaimable", func(t *testing.T) {
		s := NewStore()
		res := reserve(t, s)

		if _, err := s.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusReleased, now); err != nil {
			t.Fatalf("release: %v", err)
		}
		if _, _, err := s.TryReserve(ctx, testSlot, "sess-b", now, ttl); err != nil {
			t.Fatalf("expected released slot to be reservable, got %v", err)
		}
	})
}

func TestStore_Renew(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute
	ctx := context.Background()

	t.Run("extends from now", func(t *testing.T) {
		s := NewStore()
		res, _, err := s.TryReserve(ctx, testSlot, "sess-a", now, ttl)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}

		later := now.Add(3 * time.Minute)
		renewed, err := s.Renew(ctx, res.ID, "sess-a", later, ttl)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !renewed.ExpiresAt.Equal(later.Add(ttl)) {
			t.Fatalf("expected expiry %v, got %v", later.Add(ttl), renewed.ExpiresAt)
		}
	})

	t.Run("cannot renew a lapsed hold", func(t *testing.T) {
		s := NewStore()
		res, _, err := s.TryReserve(ctx, testSlot, "sess-a", now, ttl)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}

		_, err = s.Renew(ctx, res.ID, "sess-a", now.Add(ttl), ttl)
		if err != domain.ErrReservationExpired {
			t.Fatalf("expected ErrReservationExpired, got %v", err)
		}
	})

	t.Run("cannot renew a released hold", func(t *testing.T) {
		s := NewStore()
		res, _, err := s.TryReserve(ctx, testSlot, "sess-a", now, ttl)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if _, err := s.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusReleased, now); err != nil {
			t.Fatalf("release: %v", err)
		}

		_, err = s.Renew(ctx, res.ID, "sess-a", now, ttl)
		if err != domain.ErrInvalidTransition {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("wrong session", func(t *testing.T) {
		s := NewStore()
		res, _, err := s.TryReserve(ctx, testSlot, "sess-a", now, ttl)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if _, err := s.Renew(ctx, res.ID, "sess-b", now, ttl); err != domain.ErrNotSessionOwner {
			t.Fatalf("expected ErrNotSessionOwner, got %v", err)
		}
	})
}

func TestStore_SweepExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	s := NewStore()

	slotAt := func(hhmm string) domain.SlotKey {
		k := testSlot
		k.Time = hhmm
		return k
	}

	short, _, err := s.TryReserve(ctx, slotAt("10:00"), "sess-a", now, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	long, _, err := s.TryReserve(ctx, slotAt("11:00"), "sess-b", now, time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	evicted, err := s.SweepExpired(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("expected 1 evicted, got %d", evicted)
	}

	got, err := s.Get(ctx, short.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusExpired {
		t.Fatalf("expected swept hold expired, got %s", got.Status)
	}

	still, err := s.Get(ctx, long.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if still.Status != domain.StatusActive {
		t.Fatalf("expected live hold untouched, got %s", still.Status)
	}

	again, err := s.SweepExpired(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected sweep to be idempotent, evicted %d", again)
	}
}

func TestStore_PurgeTerminal(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	s := NewStore()

	res, _, err := s.TryReserve(ctx, testSlot, "sess-a", now, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := s.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusReleased, now); err != nil {
		t.Fatalf("release: %v", err)
	}

	other := testSlot
	other.Time = "11:00"
	live, _, err := s.TryReserve(ctx, other, "sess-b", now, time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	purged, err := s.PurgeTerminal(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}

	if _, err := s.Get(ctx, res.ID); err != domain.ErrReservationNotFound {
		t.Fatalf("expected purged record gone, got %v", err)
	}
	if _, err := s.Get(ctx, live.ID); err != nil {
		t.Fatalf("expected live record kept, got %v", err)
	}
}
