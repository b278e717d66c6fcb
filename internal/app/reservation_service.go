package app

import (
	"context"
	"time"

	"github.com/clinovet/reserve-api/internal/clock"
	"github.com/clinovet/reserve-api/internal/domain"
)

const defaultReservationTTL = 5 * time.Minute

// LifecycleNotifier receives reservation state changes. Implementations must
// not block the caller; failures are theirs to log.
type LifecycleNotifier interface {
	ReservationChanged(ctx context.Context, r domain.Reservation, event string)
}

const (
	EventReserved  = "reserved"
	EventRenewed   = "renewed"
	EventConfirmed = "confirmed"
	EventReleased  = "released"
	EventExpired   = "expired"
)

type ReservationService struct {
	store    ReservationStore
	clock    clock.Clock
	ttl      time.Duration
	notifier LifecycleNotifier
	location *time.Location
}

type ReservationServiceOption func(*ReservationService)

// WithTTL overrides the default TTL window for new and renewed reservations.
func WithTTL(d time.Duration) ReservationServiceOption {
	return func(s *ReservationService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithNotifier attaches a lifecycle event sink.
func WithNotifier(n LifecycleNotifier) ReservationServiceOption {
	return func(s *ReservationService) {
		s.notifier = n
	}
}

// WithLocation sets the location slot dates/times are interpreted in.
func WithLocation(loc *time.Location) ReservationServiceOption {
	return func(s *ReservationService) {
		if loc != nil {
			s.location = loc
		}
	}
}

func NewReservationService(store ReservationStore, clk clock.Clock, opts ...ReservationServiceOption) *ReservationService {
	svc := &ReservationService{
		store:    store,
		clock:    clk,
		ttl:      defaultReservationTTL,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// TTL returns the configured reservation window.
func (s *ReservationService) TTL() time.Duration {
	return s.ttl
}

type ReserveInput struct {
	TenantID   string
	Date       string
	Time       string
	ResourceID string
	SessionID  string
}

// Reserve holds the slot exclusively for the session. Repeating the call
// with the same session returns the existing reservation unchanged.
func (s *ReservationService) Reserve(ctx context.Context, in ReserveInput) (domain.Reservation, error) {
	if in.TenantID == "" {
		return domain.Reservation{}, domain.ErrTenantRequired
	}
	if in.SessionID == "" {
		return domain.Reservation{}, domain.ErrSessionRequired
	}

	slot := domain.SlotKey{
		TenantID:   in.TenantID,
		Date:       in.Date,
		Time:       in.Time,
		ResourceID: in.ResourceID,
	}

	startsAt, err := slot.StartsAt(s.location)
	if err != nil {
		return domain.Reservation{}, domain.ErrInvalidSlot
	}

	now := s.clock.Now()
	if !startsAt.After(now) {
		return domain.Reservation{}, domain.ErrSlotInPast
	}

	res, created, err := s.store.TryReserve(ctx, slot, in.SessionID, now, s.ttl)
	if err != nil {
		return domain.Reservation{}, err
	}
	if created {
		s.notify(ctx, res, EventReserved)
	}
	return res, nil
}

// Renew extends an Active reservation by a fresh TTL window from now.
func (s *ReservationService) Renew(ctx context.Context, id, sessionID string) (domain.Reservation, error) {
	if sessionID == "" {
		return domain.Reservation{}, domain.ErrSessionRequired
	}
	res, err := s.store.Renew(ctx, id, sessionID, s.clock.Now(), s.ttl)
	if err != nil {
		return domain.Reservation{}, err
	}
	s.notify(ctx, res, EventRenewed)
	return res, nil
}

// Release ends the hold early. Releasing a reservation that already expired
// or was already released is a no-op success: a user cancel racing the
// sweeper must never surface as a failure.
func (s *ReservationService) Release(ctx context.Context, id, sessionID string) error {
	if sessionID == "" {
		return domain.ErrSessionRequired
	}
	res, err := s.store.Transition(ctx, id, sessionID, domain.StatusActive, domain.StatusReleased, s.clock.Now())
	switch err {
	case nil:
		s.notify(ctx, res, EventReleased)
		return nil
	case domain.ErrReservationExpired:
		return nil
	case domain.ErrInvalidTransition:
		if res.Status == domain.StatusReleased {
			return nil
		}
		return err
	default:
		return err
	}
}

// Confirm promotes the hold so the booking flow may create the durable
// appointment. A lapsed TTL fails with ErrReservationExpired even before the
// sweeper has run, which is what stops a stale client from booking a slot
// that has since been handed to someone else.
func (s *ReservationService) Confirm(ctx context.Context, id, sessionID string) (domain.Reservation, error) {
	if sessionID == "" {
		return domain.Reservation{}, domain.ErrSessionRequired
	}
	res, err := s.store.Transition(ctx, id, sessionID, domain.StatusActive, domain.StatusConfirmed, s.clock.Now())
	if err != nil {
		return domain.Reservation{}, err
	}
	s.notify(ctx, res, EventConfirmed)
	return res, nil
}

// Get returns the reservation for status polling. A stale Active record is
// presented as Expired even if the sweeper has not evicted it yet.
func (s *ReservationService) Get(ctx context.Context, id string) (domain.Reservation, error) {
	res, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if res.Stale(s.clock.Now()) {
		res.Status = domain.StatusExpired
	}
	return res, nil
}

// Now exposes the service clock for callers computing remaining TTLs.
func (s *ReservationService) Now() time.Time {
	return s.clock.Now()
}

// releaseConfirmed is the compensating transition used by the booking flow
// when appointment creation fails after Confirm succeeded. It is the only
// sanctioned exit from a terminal state.
func (s *ReservationService) releaseConfirmed(ctx context.Context, id, sessionID string) error {
	res, err := s.store.Transition(ctx, id, sessionID, domain.StatusConfirmed, domain.StatusReleased, s.clock.Now())
	if err != nil {
		return err
	}
	s.notify(ctx, res, EventReleased)
	return nil
}

func (s *ReservationService) notify(ctx context.Context, r domain.Reservation, event string) {
	if s.notifier == nil {
		return
	}
	s.notifier.ReservationChanged(ctx, r, event)
}
