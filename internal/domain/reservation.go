package domain

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusConfirmed Status = "confirmed"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusReleased || s == StatusExpired
}

// Reservation is a time-bounded exclusive hold on one slot while a booking
// flow is in progress.
type Reservation struct {
	ID        string
	Slot      SlotKey
	SessionID string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Stale reports whether the reservation is Active but its TTL has lapsed.
// Stale reservations count as vacant for conflict checks even before the
// sweeper has run.
func (r Reservation) Stale(now time.Time) bool {
	return r.Status == StatusActive && !r.ExpiresAt.After(now)
}

// Remaining returns the TTL left on an Active reservation, floored at zero.
func (r Reservation) Remaining(now time.Time) time.Duration {
	if r.Status != StatusActive {
		return 0
	}
	d := r.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
