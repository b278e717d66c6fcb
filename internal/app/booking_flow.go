package app

import (
	"context"
	"fmt"
	"log"

	"github.com/clinovet/reserve-api/internal/domain"
)

// AppointmentDetails is what the multi-step booking form collected; it is
// passed through to the appointment collaborator untouched.
type AppointmentDetails struct {
	ClientID  string
	PatientID string
	ServiceID string
	Notes     string
}

// AppointmentCreator is the out-of-scope collaborator that persists the
// durable appointment record once a reservation is confirmed.
type AppointmentCreator interface {
	CreateAppointment(ctx context.Context, res domain.Reservation, details AppointmentDetails) (string, error)
}

// BookingFlow is the seam between the reservation engine and everything
// around it: it reserves before the booking form opens, releases on
// abandon, and on completion confirms the reservation first and only then
// hands off to the appointment collaborator, compensating with a release if
// that hand-off fails.
type BookingFlow struct {
	reservations *ReservationService
	appointments AppointmentCreator
	logger       *log.Logger
}

func NewBookingFlow(svc *ReservationService, appointments AppointmentCreator, logger *log.Logger) *BookingFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &BookingFlow{
		reservations: svc,
		appointments: appointments,
		logger:       logger,
	}
}

// Start secures the slot before the booking form is shown. A
// *domain.ConflictError means "pick another slot" and must reach the user
// as-is, never be retried silently.
func (f *BookingFlow) Start(ctx context.Context, in ReserveInput) (domain.Reservation, error) {
	return f.reservations.Reserve(ctx, in)
}

// Abandon releases the hold when the user cancels, navigates away or the
// dialog closes. Safe to call any number of times.
func (f *BookingFlow) Abandon(ctx context.Context, reservationID, sessionID string) error {
	return f.reservations.Release(ctx, reservationID, sessionID)
}

// Complete confirms the reservation, then creates the appointment. If
// appointment creation fails the confirmed reservation is released again so
// the slot goes back on the market instead of staying booked with nothing
// behind it.
func (f *BookingFlow) Complete(ctx context.Context, reservationID, sessionID string, details AppointmentDetails) (string, error) {
	res, err := f.reservations.Confirm(ctx, reservationID, sessionID)
	if err != nil {
		return "", err
	}

	appointmentID, err := f.appointments.CreateAppointment(ctx, res, details)
	if err != nil {
		if relErr := f.reservations.releaseConfirmed(ctx, reservationID, sessionID); relErr != nil {
			f.logger.Printf("compensating release failed for reservation %s: %v", reservationID, relErr)
		}
		return "", fmt.Errorf("create appointment: %w", err)
	}
	return appointmentID, nil
}
