package app

import (
	"context"
	"time"

	"github.com/clinovet/reserve-api/internal/domain"
)

// ReservationStore owns the SlotKey -> at-most-one-Active-Reservation
// mapping. Implementations must serialize mutations on the same slot key:
// for a fixed key, at most one concurrent TryReserve may observe the slot as
// vacant and install a new reservation.
//
// A stale record (Active with ExpiresAt <= now) counts as vacant in every
// operation, so correctness never depends on sweep timing.
type ReservationStore interface {
	// TryReserve installs a new Active reservation for the slot, or returns
	// the caller's existing one (idempotent per session), or a
	// *domain.ConflictError carrying the competing hold's remaining TTL.
	// created reports whether this call installed the reservation, so callers
	// can tell a fresh hold from an idempotent repeat without comparing
	// timestamps.
	TryReserve(ctx context.Context, slot domain.SlotKey, sessionID string, now time.Time, ttl time.Duration) (res domain.Reservation, created bool, err error)

	// Get returns the reservation by id, terminal or not, without mutating it.
	Get(ctx context.Context, id string) (domain.Reservation, error)

	// GetBySlot returns the live (Active, unexpired) reservation for the
	// slot, or nil when the slot is vacant.
	GetBySlot(ctx context.Context, slot domain.SlotKey, now time.Time) (*domain.Reservation, error)

	// Transition moves the reservation from one status to another after
	// verifying the session owns it. On a status mismatch the current record
	// is returned alongside domain.ErrInvalidTransition, or
	// domain.ErrReservationExpired when the record is Expired or stale.
	Transition(ctx context.Context, id, sessionID string, from, to domain.Status, now time.Time) (domain.Reservation, error)

	// Renew pushes ExpiresAt to now+ttl for an Active, owned, unexpired
	// reservation.
	Renew(ctx context.Context, id, sessionID string, now time.Time, ttl time.Duration) (domain.Reservation, error)

	// SweepExpired marks every stale Active reservation Expired and removes
	// it from the live slot index, returning the number evicted.
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	// PurgeTerminal drops terminal reservations last touched before the
	// cutoff; they are kept around only so late callers get precise errors.
	PurgeTerminal(ctx context.Context, before time.Time) (int, error)
}
