package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTenantRequired      = errors.New("tenant id required")
	ErrSessionRequired     = errors.New("session id required")
	ErrInvalidSlot         = errors.New("invalid slot date or time")
	ErrSlotInPast          = errors.New("slot is in the past")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrNotSessionOwner     = errors.New("reservation held by another session")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrInvalidTransition   = errors.New("invalid reservation transition")
)

// ConflictError is returned when a slot is already held by another session.
// RetryAfter is the remaining TTL of the competing reservation, so callers
// can tell the user when the slot may free up.
type ConflictError struct {
	Slot       SlotKey
	RetryAfter time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s already held, retry after %s", e.Slot, e.RetryAfter.Round(time.Second))
}
